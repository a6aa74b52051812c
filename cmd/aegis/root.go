package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/aegis/internal/config"
)

// cfg is populated by the persistent pre-run and consumed by subcommands.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis - Security Assessment Workflow Orchestrator",
	Long: `Aegis orchestrates automated security assessment workflows: it
plans phase strategies against a declared target, filters every proposed
action through restraint rules, executes sandboxed capabilities with
bounded concurrency and fallback chains, and keeps a queryable audit
trail of every decision made along the way.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig resolves the config file and loads it before any command runs.
// Missing files fall back to defaults so the binary works before `aegis init`.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := ValidateGlobalFlags(); err != nil {
		return err
	}

	// init and version must work without an existing config.
	if cmd.Name() == "init" || cmd.Name() == "version" || cmd.Name() == "help" {
		cfg = config.DefaultConfig()
		applyFlagOverrides(cfg)
		return nil
	}

	configFile := globalFlags.ConfigFile
	if configFile == "" {
		homeDir := globalFlags.HomeDir
		if homeDir == "" {
			homeDir = config.DefaultHomeDir()
		}
		configFile = config.DefaultConfigPath(homeDir)
	}

	loader := config.NewLoader(config.NewValidator())
	loaded, err := loader.LoadWithDefaults(configFile)
	if err != nil {
		return err
	}

	cfg = loaded
	applyFlagOverrides(cfg)

	if globalFlags.IsVerbose() {
		cmd.PrintErrf("Using config %s (home %s)\n", configFile, cfg.Core.HomeDir)
	}
	return nil
}

func applyFlagOverrides(c *config.Config) {
	if globalFlags.HomeDir != "" {
		c.Core.HomeDir = globalFlags.HomeDir
	}
	if globalFlags.Verbose {
		c.Logging.Level = "debug"
	}
}

func init() {
	RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
}
