package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/velero-watchdog/internal/classify"
	"github.com/psantana5/velero-watchdog/internal/models"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Expected defaults to load, got error %v", err)
	}

	if cfg.Namespace != "velero" {
		t.Errorf("Expected velero namespace, got %q", cfg.Namespace)
	}
	if cfg.TimeWindow != 24 {
		t.Errorf("Expected 24h window, got %d", cfg.TimeWindow)
	}
	if cfg.Source != SourceAPI {
		t.Errorf("Expected api source, got %q", cfg.Source)
	}
	if cfg.VeleroCmd != "velero" {
		t.Errorf("Expected velero command, got %q", cfg.VeleroCmd)
	}
	if cfg.Output != OutputTable {
		t.Errorf("Expected table output, got %q", cfg.Output)
	}
	if cfg.Interval != time.Hour {
		t.Errorf("Expected 1h interval, got %v", cfg.Interval)
	}
}

func TestLoadFromYAML(t *testing.T) {
	v := newViper(t)
	v.SetConfigType("yaml")
	yamlCfg := `
namespace: backup-system
source: cli
time_window: 48
phases:
  - Failed
attribution: first-owner
dry_run: true
`
	if err := v.ReadConfig(strings.NewReader(yamlCfg)); err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Expected config to load, got error %v", err)
	}

	if cfg.Namespace != "backup-system" {
		t.Errorf("Expected backup-system namespace, got %q", cfg.Namespace)
	}
	if cfg.Source != SourceCLI {
		t.Errorf("Expected cli source, got %q", cfg.Source)
	}
	if cfg.TimeWindow != 48 {
		t.Errorf("Expected 48h window, got %d", cfg.TimeWindow)
	}
	if !cfg.DryRun {
		t.Error("Expected dry_run to be set")
	}
	if len(cfg.Phases) != 1 || cfg.Phases[0] != "Failed" {
		t.Errorf("Expected phases [Failed], got %v", cfg.Phases)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty namespace", func(c *Config) { c.Namespace = "" }},
		{"unknown source", func(c *Config) { c.Source = "kubectl" }},
		{"negative window", func(c *Config) { c.TimeWindow = -1 }},
		{"no phases", func(c *Config) { c.Phases = nil }},
		{"unknown attribution", func(c *Config) { c.Attribution = "last-owner" }},
		{"unknown output", func(c *Config) { c.Output = "xml" }},
		{"cli source without command", func(c *Config) { c.Source = SourceCLI; c.VeleroCmd = "" }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
	}

	for _, c := range cases {
		cfg := Default()
		c.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("Expected validation error for %s", c.name)
		}
	}
}

func TestValidateAcceptsZeroWindow(t *testing.T) {
	cfg := Default()
	cfg.TimeWindow = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected zero window to validate, got %v", err)
	}
}

func TestClassifyConfig(t *testing.T) {
	cfg := Default()
	cfg.TimeWindow = 6
	cfg.Phases = []string{"Failed", "FailedValidation"}
	cfg.Attribution = string(classify.AttributionFirstOwner)

	cc := cfg.ClassifyConfig()

	if cc.Window != 6*time.Hour {
		t.Errorf("Expected 6h window, got %v", cc.Window)
	}
	if len(cc.Phases) != 2 || cc.Phases[0] != models.PhaseFailed || cc.Phases[1] != models.PhaseFailedValidation {
		t.Errorf("Expected translated phases, got %v", cc.Phases)
	}
	if cc.Attribution != classify.AttributionFirstOwner {
		t.Errorf("Expected first-owner attribution, got %q", cc.Attribution)
	}
	if cc.ScheduleLabel != models.ScheduleNameLabel {
		t.Errorf("Expected schedule label default, got %q", cc.ScheduleLabel)
	}
}
