// Package cmd provides the CLI commands for regsearch.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/regsearch/internal/config"
	"github.com/Aman-CERP/regsearch/internal/logging"
	"github.com/Aman-CERP/regsearch/pkg/version"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
	logCleanup func()
}

// NewRootCmd creates the root command for the regsearch CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "regsearch",
		Short: "Multi-tier hybrid retrieval over legal and regulatory passages",
		Long: `regsearch answers natural-language questions about statutes, regulations
and policy with ranked passages. Each query is expanded with legal synonyms,
run down a chain of retrieval tiers until one returns enough hits, and the
lexical and vector results are merged with weighted reciprocal rank fusion.

Load passages once with 'regsearch load', then query them with
'regsearch search' or serve them over HTTP with 'regsearch serve'.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.setupLogging,
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logCleanup != nil {
				opts.logCleanup()
				opts.logCleanup = nil
			}
		},
	}
	cmd.SetVersionTemplate("regsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file (default: .regsearch.yaml in the project root)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.regsearch/logs/")

	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newLoadCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves configuration from --config or the project root.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		cfg, err := config.LoadFile(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", o.configPath, err)
		}
		return cfg, nil
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the default logger. Logs go to stderr so that
// stdout carries only results; --debug adds the rotating log file.
func (o *rootOptions) setupLogging(cmd *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = "warn"
	logCfg.Text = true
	if o.debug {
		logCfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	o.logCleanup = cleanup
	slog.SetDefault(logger)
	if o.debug {
		slog.Debug("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("command", cmd.Name()),
			slog.String("version", version.Short()))
	}
	return nil
}

// configureLogging swaps in the logger described by the loaded
// configuration, keeping --debug in charge when it is set.
func (o *rootOptions) configureLogging(cfg *config.Config) (*slog.Logger, error) {
	if o.debug {
		return slog.Default(), nil
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	if o.logCleanup != nil {
		o.logCleanup()
	}
	o.logCleanup = cleanup
	slog.SetDefault(logger)
	return logger, nil
}
