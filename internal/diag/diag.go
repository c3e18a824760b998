package diag

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/velero-watchdog/internal/config"
	"github.com/psantana5/velero-watchdog/internal/kube"
	"github.com/psantana5/velero-watchdog/internal/velero"
)

// Check statuses
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// Check is one diagnostic probe outcome
type Check struct {
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status" yaml:"status"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Report is a snapshot of the environment the watchdog runs in
type Report struct {
	Hostname    string  `json:"hostname" yaml:"hostname"`
	InCluster   bool    `json:"in_cluster" yaml:"in_cluster"`
	CPUCores    int     `json:"cpu_cores" yaml:"cpu_cores"`
	CPUUsagePct float64 `json:"cpu_usage_pct" yaml:"cpu_usage_pct"`
	MemTotalMB  uint64  `json:"mem_total_mb" yaml:"mem_total_mb"`
	MemUsedPct  float64 `json:"mem_used_pct" yaml:"mem_used_pct"`
	Checks      []Check `json:"checks" yaml:"checks"`
}

// Failed reports whether any probe failed outright
func (r *Report) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return true
		}
	}
	return false
}

// Collector runs environment probes
type Collector struct {
	cfg      config.Config
	runner   velero.Runner
	lookPath func(string) (string, error)
}

// NewCollector creates a diagnostic collector for the given configuration
func NewCollector(cfg config.Config) *Collector {
	return &Collector{
		cfg:      cfg,
		runner:   velero.ExecRunner{},
		lookPath: exec.LookPath,
	}
}

// Collect gathers host stats and probes the velero CLI and API credentials.
// System stats are best effort and stay zero when unavailable.
func (c *Collector) Collect(ctx context.Context) *Report {
	report := &Report{}

	report.Hostname, _ = os.Hostname()
	report.InCluster = os.Getenv("KUBERNETES_SERVICE_HOST") != ""

	if cores, err := cpu.Counts(true); err == nil {
		report.CPUCores = cores
	}
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		report.CPUUsagePct = cpuPercent[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		report.MemTotalMB = memInfo.Total / 1024 / 1024
		report.MemUsedPct = memInfo.UsedPercent
	}

	report.Checks = append(report.Checks, c.checkVeleroBinary())
	report.Checks = append(report.Checks, c.checkVeleroVersion(ctx))
	report.Checks = append(report.Checks, c.checkCredentials())

	return report
}

func (c *Collector) checkVeleroBinary() Check {
	path, err := c.lookPath(c.cfg.VeleroCmd)
	if err != nil {
		status := StatusFail
		if c.cfg.Source == config.SourceAPI {
			// Listing works without the CLI, triggering does not
			status = StatusWarn
		}
		return Check{
			Name:   "velero binary",
			Status: status,
			Detail: fmt.Sprintf("%q not found on PATH", c.cfg.VeleroCmd),
		}
	}
	return Check{Name: "velero binary", Status: StatusOK, Detail: path}
}

func (c *Collector) checkVeleroVersion(ctx context.Context) Check {
	out, err := c.runner.Run(ctx, c.cfg.VeleroCmd, "version", "--client-only")
	if err != nil {
		return Check{Name: "velero version", Status: StatusWarn, Detail: err.Error()}
	}

	detail := strings.TrimSpace(string(out))
	for _, line := range strings.Split(detail, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Version:") {
			detail = line
			break
		}
	}
	return Check{Name: "velero version", Status: StatusOK, Detail: detail}
}

func (c *Collector) checkCredentials() Check {
	cfg, err := kube.ResolveConfig(c.cfg.Kubeconfig)
	if err != nil {
		status := StatusFail
		if c.cfg.Source == config.SourceCLI {
			// CLI mode lists and deletes through velero itself
			status = StatusWarn
		}
		return Check{Name: "kubernetes credentials", Status: status, Detail: err.Error()}
	}
	return Check{Name: "kubernetes credentials", Status: StatusOK, Detail: cfg.Host}
}
