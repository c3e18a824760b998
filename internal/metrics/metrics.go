package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/velero-watchdog/internal/reconcile"
)

// Collector holds the watchdog's Prometheus metrics on a private registry so
// repeated construction never trips duplicate registration
type Collector struct {
	registry *prometheus.Registry

	passes          *prometheus.CounterVec
	failedBackups   prometheus.Gauge
	failedSchedules prometheus.Gauge
	unattributed    prometheus.Gauge
	triggers        *prometheus.CounterVec
	deletes         *prometheus.CounterVec
	skippedRecords  prometheus.Counter
	passDuration    prometheus.Histogram
	lastPass        prometheus.Gauge
}

// NewCollector creates and registers all watchdog metrics
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "velerowd_passes_total",
				Help: "Reconciliation passes by result",
			},
			[]string{"result"},
		),
		failedBackups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "velerowd_failed_backups",
				Help: "Failed backups found in the last pass",
			},
		),
		failedSchedules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "velerowd_failed_schedules",
				Help: "Schedules with recent failures found in the last pass",
			},
		),
		unattributed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "velerowd_unattributed_backups",
				Help: "Failed backups with no owning schedule in the last pass",
			},
		),
		triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "velerowd_schedule_triggers_total",
				Help: "Schedule triggers by result",
			},
			[]string{"result"},
		),
		deletes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "velerowd_backup_deletes_total",
				Help: "Backup deletions by result",
			},
			[]string{"result"},
		),
		skippedRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "velerowd_skipped_records_total",
				Help: "Backup records skipped because their timestamps were unreadable",
			},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "velerowd_pass_duration_seconds",
				Help:    "Duration of reconciliation passes",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		lastPass: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "velerowd_last_pass_timestamp_seconds",
				Help: "Unix time of the last completed pass",
			},
		),
	}

	c.registry.MustRegister(
		c.passes,
		c.failedBackups,
		c.failedSchedules,
		c.unattributed,
		c.triggers,
		c.deletes,
		c.skippedRecords,
		c.passDuration,
		c.lastPass,
	)
	return c
}

// Observe records the outcome of one completed reconciliation pass
func (c *Collector) Observe(summary *reconcile.Summary) {
	c.passes.WithLabelValues("ok").Inc()

	res := summary.Classification
	c.failedBackups.Set(float64(len(res.Backups)))
	c.failedSchedules.Set(float64(len(res.Triggerable())))
	c.unattributed.Set(float64(len(res.Backups) - len(res.AttributedBackups())))
	c.skippedRecords.Add(float64(len(res.Skipped)))

	for _, a := range summary.Triggered {
		c.triggers.WithLabelValues(actionResult(a.Error)).Inc()
	}
	for _, a := range summary.Pruned {
		c.deletes.WithLabelValues(actionResult(a.Error)).Inc()
	}

	c.passDuration.Observe(summary.Duration.Seconds())
	c.lastPass.Set(float64(summary.StartedAt.Unix()))
}

// ObserveError records a pass that failed before classification
func (c *Collector) ObserveError() {
	c.passes.WithLabelValues("error").Inc()
}

func actionResult(errMsg string) string {
	if errMsg != "" {
		return "error"
	}
	return "ok"
}

// Handler exposes the registry over HTTP for watch mode
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the current metrics in text exposition format for the
// node_exporter textfile collector, so one-shot cron runs still get scraped.
// The file is written atomically.
func (c *Collector) WriteTextfile(path string) error {
	metricFamilies, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move metrics file into place: %w", err)
	}
	return nil
}
