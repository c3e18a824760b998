package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/velero-watchdog/internal/config"
	"github.com/psantana5/velero-watchdog/internal/kube"
	"github.com/psantana5/velero-watchdog/internal/logging"
	"github.com/psantana5/velero-watchdog/internal/reconcile"
	"github.com/psantana5/velero-watchdog/internal/velero"
)

var (
	cfgFile        string
	namespace      string
	kubeconfigPath string
	veleroCmdPath  string
	sourceName     string
	outputFormat   string
	logLevelName   string
	logJSON        bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "velerowd",
	Short: "Watchdog for failed Velero backups",
	Long: `velerowd watches Velero backups for recent failures, re-triggers the
schedules that own them and prunes the failed backup records so the next
scheduled run starts clean.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.velerowd/config)")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "namespace Velero runs in (default from config or velero)")
	rootCmd.PersistentFlags().StringVar(&kubeconfigPath, "kubeconfig", "", "path to a kubeconfig file (default in-cluster, then $KUBECONFIG, then ~/.kube/config)")
	rootCmd.PersistentFlags().StringVar(&veleroCmdPath, "velero-cmd", "", "velero binary used for triggers and deletes (default from config or velero)")
	rootCmd.PersistentFlags().StringVar(&sourceName, "source", "", "where to list backups from: api or cli (default from config or api)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "output format: table or json (default from config or table)")
	rootCmd.PersistentFlags().StringVar(&logLevelName, "log-level", "", "log level: debug, info, warn or error (default from config or info)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON instead of text")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".velerowd/config" (without extension)
		configDir := filepath.Join(home, ".velerowd")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("VELEROWD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// The standard kubectl variable works without the prefix
	viper.BindEnv("kubeconfig", "VELEROWD_KUBECONFIG", "KUBECONFIG")

	// A missing config file is fine, the defaults apply
	viper.ReadInConfig()
}

// loadConfig merges the config file, environment and global flags into a
// validated configuration. Flags win over environment, environment over file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Parse(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}

	if namespace != "" {
		cfg.Namespace = namespace
	}
	if kubeconfigPath != "" {
		cfg.Kubeconfig = kubeconfigPath
	}
	if veleroCmdPath != "" {
		cfg.VeleroCmd = veleroCmdPath
	}
	if sourceName != "" {
		cfg.Source = sourceName
	}
	if outputFormat != "" {
		cfg.Output = outputFormat
	}
	if logLevelName != "" {
		cfg.LogLevel = logLevelName
	}
	if logJSON {
		cfg.LogJSON = true
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	// Keep the output var in sync so IsJSONOutput works for every command
	outputFormat = cfg.Output

	return cfg, nil
}

// newLogger builds the logger the way the configuration asks for it
func newLogger(cfg config.Config) *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// buildLister returns the backup listing source the configuration selects
func buildLister(cfg config.Config, log *logging.Logger) (reconcile.Source, error) {
	if cfg.Source == config.SourceCLI {
		return velero.NewClient(cfg.VeleroCmd, cfg.Namespace, nil, log), nil
	}

	restCfg, err := kube.ResolveConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Kubernetes credentials: %w", err)
	}
	return kube.NewClient(restCfg, cfg.Namespace, log), nil
}

// buildReconciler wires the listing source, the velero CLI trigger and the
// pruners into a reconciler. Schedule triggers always go through the velero
// binary; deletes go through the binary and, when credentials resolve,
// through the API as well so no stale record survives.
func buildReconciler(cfg config.Config, log *logging.Logger) (*reconcile.Reconciler, error) {
	cli := velero.NewClient(cfg.VeleroCmd, cfg.Namespace, nil, log)

	var source reconcile.Source = cli
	pruners := []reconcile.Pruner{cli}

	if cfg.Source == config.SourceAPI {
		restCfg, err := kube.ResolveConfig(cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve Kubernetes credentials: %w", err)
		}
		api := kube.NewClient(restCfg, cfg.Namespace, log)
		source = api
		pruners = append(pruners, api)
	} else if restCfg, err := kube.ResolveConfig(cfg.Kubeconfig); err == nil {
		// CLI source still benefits from the API pruner when credentials exist
		pruners = append(pruners, kube.NewClient(restCfg, cfg.Namespace, log))
	}

	opts := reconcile.Options{
		DryRun:     cfg.DryRun,
		SkipDelete: cfg.SkipDelete,
	}
	return reconcile.NewReconciler(cfg.ClassifyConfig(), source, cli, pruners, opts, log), nil
}
