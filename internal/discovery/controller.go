package discovery

import (
	"log/slog"

	"github.com/zero-day-ai/aegis/internal/capability"
	"github.com/zero-day-ai/aegis/internal/executor"
	"github.com/zero-day-ai/aegis/internal/planner"
	"github.com/zero-day-ai/aegis/internal/types"
)

// CoveragePolicy controls how aggressively discovered assets are expanded
// into tasks.
type CoveragePolicy string

const (
	// PolicyExhaustive schedules every (asset, capability) pair.
	PolicyExhaustive CoveragePolicy = "exhaustive"

	// PolicySampled caps the number of capabilities applied per asset.
	PolicySampled CoveragePolicy = "sampled"
)

// DefaultSampleSize is the per-asset capability cap under PolicySampled.
const DefaultSampleSize = 2

// Coverage tracks which (asset, capability) pairs already have a scheduled
// task, across all phases of a workflow.
type Coverage struct {
	pairs map[string]map[string]bool
}

// NewCoverage creates an empty coverage tracker.
func NewCoverage() *Coverage {
	return &Coverage{pairs: make(map[string]map[string]bool)}
}

// Mark records that a task covers the (asset, capability) pair.
func (c *Coverage) Mark(asset, capabilityName string) {
	if c.pairs[asset] == nil {
		c.pairs[asset] = make(map[string]bool)
	}
	c.pairs[asset][capabilityName] = true
}

// Covered reports whether the pair already has a scheduled task.
func (c *Coverage) Covered(asset, capabilityName string) bool {
	return c.pairs[asset][capabilityName]
}

// TasksFor returns how many capabilities are scheduled against an asset.
func (c *Coverage) TasksFor(asset string) int {
	return len(c.pairs[asset])
}

// Controller expands the pending task set as new assets arrive so every
// discovered asset receives individual coverage. If the planner
// under-provisions recommendations relative to the discovered assets, the
// controller synthesizes the missing per-asset tasks from the default
// capability rather than skipping coverage.
type Controller struct {
	registry          *capability.Registry
	policy            CoveragePolicy
	sampleSize        int
	minTasksPerAsset  int
	defaultCapability string
	logger            *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithPolicy sets the coverage policy.
func WithPolicy(p CoveragePolicy) ControllerOption {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithSampleSize sets the per-asset capability cap for PolicySampled.
func WithSampleSize(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.sampleSize = n
		}
	}
}

// WithMinTasksPerAsset sets the minimum-tests-per-asset floor.
func WithMinTasksPerAsset(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.minTasksPerAsset = n
		}
	}
}

// WithDefaultCapability overrides the capability used for synthesized tasks.
func WithDefaultCapability(name string) ControllerOption {
	return func(c *Controller) {
		if name != "" {
			c.defaultCapability = name
		}
	}
}

// WithLogger sets the controller's structured logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a progressive discovery controller.
func NewController(registry *capability.Registry, opts ...ControllerOption) *Controller {
	c := &Controller{
		registry:          registry,
		policy:            PolicyExhaustive,
		sampleSize:        DefaultSampleSize,
		minTasksPerAsset:  1,
		defaultCapability: planner.DefaultDiscoveryCapability,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Expand generates tasks for newly discovered assets. For each (asset,
// capability) pair not already covered it creates one task with
// asset-appropriate parameters, then enforces the minimum-tests-per-asset
// floor with the default capability.
//
// recIndexes maps each recommendation back to its position in the originating
// strategy, so synthesized tasks remain traceable.
func (c *Controller) Expand(workflowID types.ID, recs []planner.Recommendation, recIndexes []int, assets []Asset, coverage *Coverage) []executor.Task {
	var tasks []executor.Task

	for _, asset := range assets {
		scheduled := coverage.TasksFor(asset.Identifier)

		for i, rec := range recs {
			if c.policy == PolicySampled && scheduled >= c.sampleSize {
				break
			}
			if coverage.Covered(asset.Identifier, rec.Capability) {
				continue
			}

			params := c.assetParams(rec.Capability, asset, rec.Parameters)
			recIdx := i
			if i < len(recIndexes) {
				recIdx = recIndexes[i]
			}

			task := executor.NewTask(workflowID, recIdx, rec.Capability, params).WithAsset(asset.Identifier)
			task.Status = types.TaskStatusQueued
			tasks = append(tasks, task)
			coverage.Mark(asset.Identifier, rec.Capability)
			scheduled++
		}

		// Minimum-coverage floor: under-provisioned assets get a synthesized
		// task from the default capability.
		if scheduled < c.minTasksPerAsset && !coverage.Covered(asset.Identifier, c.defaultCapability) {
			params := c.assetParams(c.defaultCapability, asset, nil)

			task := executor.NewTask(workflowID, -1, c.defaultCapability, params).WithAsset(asset.Identifier)
			task.Status = types.TaskStatusQueued
			tasks = append(tasks, task)
			coverage.Mark(asset.Identifier, c.defaultCapability)

			c.logger.Info("synthesized coverage task",
				"workflow_id", workflowID,
				"asset", asset.Identifier,
				"capability", c.defaultCapability,
			)
		}
	}

	return tasks
}

// assetParams builds the parameter map for a task: capability defaults for
// the asset kind, overlaid with the recommendation's parameters, with the
// target pinned to the asset itself.
func (c *Controller) assetParams(capabilityName string, asset Asset, base map[string]string) map[string]string {
	var params map[string]string
	if capDef, err := c.registry.Get(capabilityName); err == nil {
		params = capDef.ParamsForAsset(asset.Kind.String(), base)
	} else {
		params = make(map[string]string)
		for k, v := range base {
			params[k] = v
		}
	}
	params["target"] = asset.Identifier
	return params
}
