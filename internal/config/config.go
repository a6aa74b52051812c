package config

import (
	"time"
)

// Config is the root configuration for the Aegis orchestrator.
type Config struct {
	Core      CoreConfig      `mapstructure:"core" yaml:"core" validate:"required"`
	Database  DBConfig        `mapstructure:"database" yaml:"database" validate:"required"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon"`
	Planner   PlannerConfig   `mapstructure:"planner" yaml:"planner"`
	Executor  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Workflow  WorkflowConfig  `mapstructure:"workflow" yaml:"workflow"`
	Restraint RestraintConfig `mapstructure:"restraint" yaml:"restraint"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
}

// CoreConfig contains core application settings.
type CoreConfig struct {
	HomeDir string        `mapstructure:"home_dir" yaml:"home_dir"`
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s"`
	Debug   bool          `mapstructure:"debug" yaml:"debug"`
}

// DBConfig contains audit persistence database settings.
type DBConfig struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections" validate:"min=1,max=100"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s"`
	WALMode        bool          `mapstructure:"wal_mode" yaml:"wal_mode"`
}

// DaemonConfig contains the service facade settings.
type DaemonConfig struct {
	Listen        string `mapstructure:"listen" yaml:"listen"`
	MonitoringURL string `mapstructure:"monitoring_url" yaml:"monitoring_url"`
}

// PlannerConfig configures the strategic planner adapter.
type PlannerConfig struct {
	Provider            string  `mapstructure:"provider" yaml:"provider"`
	Model               string  `mapstructure:"model" yaml:"model"`
	APIKey              string  `mapstructure:"api_key" yaml:"api_key"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" validate:"min=0,max=1"`
}

// ExecutorConfig configures the task execution engine.
type ExecutorConfig struct {
	MaxWorkers     int           `mapstructure:"max_workers" yaml:"max_workers" validate:"min=1,max=100"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout" validate:"min=1s"`
	SandboxWorkDir string        `mapstructure:"sandbox_work_dir" yaml:"sandbox_work_dir"`
}

// DiscoveryConfig configures progressive discovery.
type DiscoveryConfig struct {
	Policy            string `mapstructure:"policy" yaml:"policy" validate:"oneof=exhaustive sampled"`
	SampleSize        int    `mapstructure:"sample_size" yaml:"sample_size" validate:"min=1"`
	MinTasksPerAsset  int    `mapstructure:"min_tasks_per_asset" yaml:"min_tasks_per_asset" validate:"min=0"`
	DefaultCapability string `mapstructure:"default_capability" yaml:"default_capability"`
}

// WorkflowConfig configures the orchestrator.
type WorkflowConfig struct {
	MaxReplans int           `mapstructure:"max_replans" yaml:"max_replans" validate:"min=0,max=10"`
	Retention  time.Duration `mapstructure:"retention" yaml:"retention" validate:"min=1m"`
}

// RestraintConfig configures the restraint validator.
type RestraintConfig struct {
	// ProhibitedPatterns replace the built-in destructive-action patterns
	// when set.
	ProhibitedPatterns []string `mapstructure:"prohibited_patterns" yaml:"prohibited_patterns"`

	// SignoffControls lists compliance control codes requiring manual
	// sign-off before execution.
	SignoffControls []string `mapstructure:"signoff_controls" yaml:"signoff_controls"`
}

// AuditConfig configures the decision audit logger.
type AuditConfig struct {
	ArtifactDir string `mapstructure:"artifact_dir" yaml:"artifact_dir"`
	Persist     bool   `mapstructure:"persist" yaml:"persist"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}
