package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	homeDir := getDefaultHomeDir()

	return &Config{
		Core: CoreConfig{
			HomeDir: homeDir,
			DataDir: filepath.Join(homeDir, "data"),
			Timeout: 5 * time.Minute,
			Debug:   false,
		},
		Database: DBConfig{
			Path:           filepath.Join(homeDir, "aegis.db"),
			MaxConnections: 10,
			Timeout:        30 * time.Second,
			WALMode:        true,
		},
		Daemon: DaemonConfig{
			Listen:        "127.0.0.1:8080",
			MonitoringURL: "http://127.0.0.1:8080",
		},
		Planner: PlannerConfig{
			Provider:            "openai",
			Model:               "gpt-4o",
			APIKey:              "${AEGIS_PLANNER_API_KEY}",
			ConfidenceThreshold: 0.6,
		},
		Executor: ExecutorConfig{
			MaxWorkers:     4,
			DefaultTimeout: 2 * time.Minute,
		},
		Discovery: DiscoveryConfig{
			Policy:            "exhaustive",
			SampleSize:        2,
			MinTasksPerAsset:  1,
			DefaultCapability: "http-discovery",
		},
		Workflow: WorkflowConfig{
			MaxReplans: 3,
			Retention:  time.Hour,
		},
		Audit: AuditConfig{
			ArtifactDir: filepath.Join(homeDir, "audit"),
			Persist:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
	}
}

// DefaultHomeDir returns the default home directory, preferring $AEGIS_HOME
// over ~/.aegis.
func DefaultHomeDir() string {
	return getDefaultHomeDir()
}

// DefaultConfigPath returns the config file path within a home directory.
func DefaultConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// DefaultCatalogPath returns the capability catalog path within a home
// directory.
func DefaultCatalogPath(homeDir string) string {
	return filepath.Join(homeDir, "capabilities.yaml")
}

// getDefaultHomeDir returns the default home directory, preferring
// $AEGIS_HOME over ~/.aegis.
func getDefaultHomeDir() string {
	if dir := os.Getenv("AEGIS_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aegis"
	}
	return filepath.Join(home, ".aegis")
}
