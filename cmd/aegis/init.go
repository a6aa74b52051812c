package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/aegis/internal/config"
	"github.com/zero-day-ai/aegis/internal/database"
)

var initFlags struct {
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Aegis configuration and database",
	Long: `Initialize the Aegis home directory by creating:
- The directory structure (sandbox workspace, audit artifacts)
- A default configuration file
- A default capability catalog with read-only capabilities
- The SQLite audit database`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	homeDir := globalFlags.HomeDir
	if homeDir == "" {
		homeDir = config.DefaultHomeDir()
	}

	cmd.Printf("Initializing Aegis in %s\n", homeDir)

	for _, dir := range []string{
		homeDir,
		filepath.Join(homeDir, "sandbox"),
		filepath.Join(homeDir, "audit"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	c := config.DefaultConfig()
	c.Core.HomeDir = homeDir
	c.Core.DataDir = filepath.Join(homeDir, "data")
	c.Database.Path = filepath.Join(homeDir, "aegis.db")
	c.Executor.SandboxWorkDir = filepath.Join(homeDir, "sandbox")
	c.Audit.ArtifactDir = filepath.Join(homeDir, "audit")

	configPath := config.DefaultConfigPath(homeDir)
	if err := writeYAML(configPath, c, initFlags.force); err != nil {
		return err
	}
	cmd.Printf("  wrote %s\n", configPath)

	catalogPath := config.DefaultCatalogPath(homeDir)
	if err := writeYAML(catalogPath, defaultCatalog(), initFlags.force); err != nil {
		return err
	}
	cmd.Printf("  wrote %s\n", catalogPath)

	db, err := database.Open(c.Database.Path)
	if err != nil {
		return fmt.Errorf("creating audit database: %w", err)
	}
	defer db.Close()
	cmd.Printf("  created %s\n", c.Database.Path)

	cmd.Println("\nDone. Set AEGIS_PLANNER_API_KEY (or edit planner.api_key) before submitting workflows.")
	return nil
}

// writeYAML marshals v to path, refusing to clobber an existing file
// unless force is set.
func writeYAML(path string, v any, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
