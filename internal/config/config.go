package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/velero-watchdog/internal/classify"
	"github.com/psantana5/velero-watchdog/internal/models"
)

// Backup listing sources
const (
	SourceAPI = "api" // Kubernetes API, in-cluster or via kubeconfig
	SourceCLI = "cli" // velero backup get -o json
)

// Report output formats
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// Config holds the full watchdog configuration, merged from config file,
// VELEROWD_* environment variables and command line flags
type Config struct {
	Namespace     string   `mapstructure:"namespace"`
	Kubeconfig    string   `mapstructure:"kubeconfig"`
	VeleroCmd     string   `mapstructure:"velero_cmd"`
	Source        string   `mapstructure:"source"`
	TimeWindow    int      `mapstructure:"time_window"` // hours
	Phases        []string `mapstructure:"phases"`
	ScheduleLabel string   `mapstructure:"schedule_label"`
	Attribution   string   `mapstructure:"attribution"`
	DryRun        bool     `mapstructure:"dry_run"`
	SkipDelete    bool     `mapstructure:"skip_delete"`
	LogLevel      string   `mapstructure:"log_level"`
	LogJSON       bool     `mapstructure:"log_json"`
	Output        string   `mapstructure:"output"`

	// Watch mode
	Interval    time.Duration `mapstructure:"interval"`
	Listen      string        `mapstructure:"listen"`
	MetricsFile string        `mapstructure:"metrics_file"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Namespace:     "velero",
		VeleroCmd:     "velero",
		Source:        SourceAPI,
		TimeWindow:    24,
		Phases:        []string{string(models.PhasePartiallyFailed), string(models.PhaseFailed)},
		ScheduleLabel: models.ScheduleNameLabel,
		Attribution:   string(classify.AttributionAllOwners),
		LogLevel:      "info",
		Output:        OutputTable,
		Interval:      time.Hour,
		Listen:        ":8085",
	}
}

// SetDefaults registers the default values on a viper instance so that
// config file and environment lookups fall back to them
func SetDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("namespace", def.Namespace)
	v.SetDefault("velero_cmd", def.VeleroCmd)
	v.SetDefault("source", def.Source)
	v.SetDefault("time_window", def.TimeWindow)
	v.SetDefault("phases", def.Phases)
	v.SetDefault("schedule_label", def.ScheduleLabel)
	v.SetDefault("attribution", def.Attribution)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("output", def.Output)
	v.SetDefault("interval", def.Interval)
	v.SetDefault("listen", def.Listen)
}

// Parse unmarshals a fully initialized viper instance into a Config without
// validating it, so callers can still layer flag overrides on top
func Parse(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}

// Load parses and validates in one step
func Load(v *viper.Viper) (Config, error) {
	cfg, err := Parse(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the watchdog cannot run with
func (c Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if c.Source != SourceAPI && c.Source != SourceCLI {
		return fmt.Errorf("invalid source %q (want %q or %q)", c.Source, SourceAPI, SourceCLI)
	}
	if c.TimeWindow < 0 {
		return fmt.Errorf("time_window must not be negative, got %d", c.TimeWindow)
	}
	if len(c.Phases) == 0 {
		return fmt.Errorf("phases must not be empty")
	}
	switch classify.Attribution(c.Attribution) {
	case classify.AttributionAllOwners, classify.AttributionFirstOwner:
	default:
		return fmt.Errorf("invalid attribution %q (want %q or %q)",
			c.Attribution, classify.AttributionAllOwners, classify.AttributionFirstOwner)
	}
	if c.Output != OutputTable && c.Output != OutputJSON {
		return fmt.Errorf("invalid output %q (want %q or %q)", c.Output, OutputTable, OutputJSON)
	}
	if c.Source == SourceCLI && c.VeleroCmd == "" {
		return fmt.Errorf("velero_cmd must not be empty when source is %q", SourceCLI)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	return nil
}

// Window returns the failure window as a duration
func (c Config) Window() time.Duration {
	return time.Duration(c.TimeWindow) * time.Hour
}

// ClassifyConfig translates the runtime configuration into the classifier policy
func (c Config) ClassifyConfig() classify.Config {
	phases := make([]models.BackupPhase, 0, len(c.Phases))
	for _, p := range c.Phases {
		phases = append(phases, models.BackupPhase(p))
	}
	return classify.Config{
		Phases:        phases,
		Window:        c.Window(),
		ScheduleLabel: c.ScheduleLabel,
		Attribution:   classify.Attribution(c.Attribution),
	}
}
