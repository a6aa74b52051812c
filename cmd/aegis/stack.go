package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/zero-day-ai/aegis/internal/audit"
	"github.com/zero-day-ai/aegis/internal/capability"
	"github.com/zero-day-ai/aegis/internal/config"
	"github.com/zero-day-ai/aegis/internal/daemon"
	"github.com/zero-day-ai/aegis/internal/database"
	"github.com/zero-day-ai/aegis/internal/discovery"
	"github.com/zero-day-ai/aegis/internal/events"
	"github.com/zero-day-ai/aegis/internal/executor"
	"github.com/zero-day-ai/aegis/internal/observability"
	"github.com/zero-day-ai/aegis/internal/planner"
	"github.com/zero-day-ai/aegis/internal/restraint"
	"github.com/zero-day-ai/aegis/internal/workflow"
)

// Stack is the fully wired runtime assembled from configuration. Commands
// share the same construction path so serve and one-shot submissions behave
// identically.
type Stack struct {
	Config   *config.Config
	Logger   *slog.Logger
	Bus      *events.DefaultBus
	Registry *capability.Registry
	Orch     *workflow.Orchestrator
	Service  *daemon.Service
	Auditor  *audit.Logger

	db *database.DB
}

// buildStack wires the orchestrator and its collaborators from config.
func buildStack(c *config.Config) (*Stack, error) {
	logger := slog.New(observability.NewHandler(os.Stderr, c.Logging.Format, c.Logging.Level))

	registry, fallbacks, err := loadCapabilities(c)
	if err != nil {
		return nil, err
	}

	reasoner, err := newReasoningClient(c.Planner)
	if err != nil {
		return nil, err
	}
	adapter := planner.NewAdapter(reasoner,
		planner.WithLogger(logger),
		planner.WithConfidenceThreshold(c.Planner.ConfidenceThreshold),
	)

	validator, err := newValidator(c.Restraint)
	if err != nil {
		return nil, err
	}
	validator.WithLogger(logger)

	engine := executor.NewEngine(registry, fallbacks,
		executor.NewExecSandbox(c.Executor.SandboxWorkDir),
		executor.WithLogger(logger),
		executor.WithMaxWorkers(c.Executor.MaxWorkers),
		executor.WithDefaultTimeout(c.Executor.DefaultTimeout),
	)

	controller := discovery.NewController(registry,
		discovery.WithPolicy(discovery.CoveragePolicy(c.Discovery.Policy)),
		discovery.WithSampleSize(c.Discovery.SampleSize),
		discovery.WithMinTasksPerAsset(c.Discovery.MinTasksPerAsset),
		discovery.WithDefaultCapability(c.Discovery.DefaultCapability),
		discovery.WithLogger(logger),
	)

	auditor, db, err := newAuditor(c, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()

	orch := workflow.NewOrchestrator(adapter, validator, engine, registry, controller, auditor, bus,
		workflow.WithLogger(logger),
		workflow.WithRetention(c.Workflow.Retention),
		workflow.WithPhasePlan(workflow.NewPhasePlan(workflow.DefaultPhasePlan().Phases(), c.Workflow.MaxReplans)),
		workflow.WithSignoffControls(c.Restraint.SignoffControls),
	)

	service := daemon.NewService(orch,
		daemon.WithLogger(logger),
		daemon.WithMonitoringBaseURL(c.Daemon.MonitoringURL),
	)

	return &Stack{
		Config:   c,
		Logger:   logger,
		Bus:      bus,
		Registry: registry,
		Orch:     orch,
		Service:  service,
		Auditor:  auditor,
		db:       db,
	}, nil
}

// Close tears the stack down in dependency order.
func (s *Stack) Close() {
	s.Orch.Close()
	s.Bus.Close()
	if s.db != nil {
		_ = s.db.Close()
	}
}

// loadCapabilities reads the capability catalog from the home directory,
// falling back to the built-in baseline set when none is installed.
func loadCapabilities(c *config.Config) (*capability.Registry, *capability.FallbackRegistry, error) {
	path := config.DefaultCatalogPath(c.Core.HomeDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultCatalog().Build()
	}

	catalog, err := capability.LoadCatalog(path)
	if err != nil {
		return nil, nil, err
	}
	return catalog.Build()
}

// defaultCatalog is the baseline read-only capability set installed by
// `aegis init` and used when no catalog file is present.
func defaultCatalog() *capability.Catalog {
	return &capability.Catalog{
		Capabilities: []capability.Capability{
			{
				Name:        "http-discovery",
				Description: "Non-intrusive HTTP surface enumeration",
				Args:        []string{"http-discovery", "--target", "{target}"},
				ReadOnly:    true,
				Tags:        []string{"recon", "web"},
			},
			{
				Name:        "port-scan",
				Description: "TCP port enumeration",
				Args:        []string{"port-scan", "--target", "{target}"},
				ReadOnly:    true,
				Tags:        []string{"recon", "network"},
			},
			{
				Name:        "header-audit",
				Description: "HTTP response header review",
				Args:        []string{"header-audit", "--target", "{target}"},
				ReadOnly:    true,
				Tags:        []string{"analyze", "web"},
			},
		},
		Fallbacks: map[string][]string{
			"port-scan": {"http-discovery"},
		},
	}
}

// newReasoningClient builds the strategic planner backend from config.
func newReasoningClient(pc config.PlannerConfig) (planner.ReasoningClient, error) {
	var (
		model llms.Model
		err   error
	)
	switch pc.Provider {
	case "openai", "":
		model, err = openai.New(openai.WithModel(pc.Model), openai.WithToken(pc.APIKey))
	case "anthropic":
		model, err = anthropic.New(anthropic.WithModel(pc.Model), anthropic.WithToken(pc.APIKey))
	default:
		return nil, fmt.Errorf("unsupported planner provider %q", pc.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize planner provider %q: %w", pc.Provider, err)
	}
	return planner.NewLLMReasoningClient(model), nil
}

func newValidator(rc config.RestraintConfig) (*restraint.Validator, error) {
	if len(rc.ProhibitedPatterns) == 0 {
		return restraint.NewDefaultValidator()
	}

	prohibited, err := restraint.NewProhibitedActionRule(rc.ProhibitedPatterns...)
	if err != nil {
		return nil, err
	}
	return restraint.NewValidator(
		prohibited,
		restraint.NewAuthRequirementRule(),
		restraint.NewProductionGateRule(),
		restraint.NewControlSignoffRule(),
	), nil
}

// newAuditor wires the decision logger: in-memory authoritative store, SQLite
// mirror when persistence is enabled, JSON artifacts in the audit directory.
func newAuditor(c *config.Config, logger *slog.Logger) (*audit.Logger, *database.DB, error) {
	opts := []audit.LoggerOption{
		audit.WithLogger(logger),
	}
	if c.Audit.ArtifactDir != "" {
		opts = append(opts, audit.WithArtifactDir(c.Audit.ArtifactDir))
	}

	var db *database.DB
	if c.Audit.Persist {
		opened, err := database.Open(c.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		mirror, err := audit.NewSQLStore(opened.Conn())
		if err != nil {
			opened.Close()
			return nil, nil, err
		}
		opts = append(opts, audit.WithMirror(mirror))
		db = opened
	}

	return audit.NewLogger(audit.NewMemoryStore(), opts...), db, nil
}
