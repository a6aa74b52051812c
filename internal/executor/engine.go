package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/aegis/internal/capability"
	"github.com/zero-day-ai/aegis/internal/types"
)

// DefaultTimeout is the per-invocation deadline applied when a capability
// declares none.
const DefaultTimeout = 2 * time.Minute

// DefaultMaxWorkers bounds per-workflow task concurrency.
const DefaultMaxWorkers = 4

// Engine executes tasks inside a sandbox with per-capability timeouts and
// fallback-chain retry. Concurrency is bounded per workflow by a semaphore;
// tasks beyond the limit queue in submission order but may complete out of
// order.
type Engine struct {
	registry       *capability.Registry
	fallbacks      *capability.FallbackRegistry
	sandbox        Sandbox
	logger         *slog.Logger
	tracer         trace.Tracer
	defaultTimeout time.Duration
	maxWorkers     int
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithLogger configures the engine's structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer configures the engine's OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithDefaultTimeout overrides the global per-invocation deadline.
func WithDefaultTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithMaxWorkers bounds concurrent task execution per workflow.
func WithMaxWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// NewEngine creates a task execution engine.
func NewEngine(registry *capability.Registry, fallbacks *capability.FallbackRegistry, sandbox Sandbox, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:       registry,
		fallbacks:      fallbacks,
		sandbox:        sandbox,
		logger:         slog.Default(),
		defaultTimeout: DefaultTimeout,
		maxWorkers:     DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxWorkers returns the configured per-workflow concurrency bound.
func (e *Engine) MaxWorkers() int {
	return e.maxWorkers
}

// Execute runs a single task, walking the fallback chain on timeout,
// non-zero exit, or sandbox unavailability. Each registry entry is attempted
// at most once; the chain is acyclic by construction. On exhaustion the
// original error is retained.
func (e *Engine) Execute(ctx context.Context, task Task) ExecutionResult {
	start := time.Now()

	result := ExecutionResult{
		TaskID:              task.ID,
		WorkflowID:          task.WorkflowID,
		CapabilityRequested: task.Capability,
	}

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "executor.execute",
			trace.WithAttributes(
				attribute.String("task.id", task.ID.String()),
				attribute.String("task.capability", task.Capability),
			),
		)
		defer func() {
			span.SetAttributes(attribute.String("task.status", string(result.Status)))
			span.End()
		}()
	}

	chain := append([]string{task.Capability}, e.fallbacks.ChainFor(task.Capability)...)

	var originalErr error
	for i, name := range chain {
		if ctx.Err() != nil {
			result.Status = types.TaskStatusCancelled
			if originalErr != nil {
				result.Error = originalErr.Error()
			} else {
				result.Error = ctx.Err().Error()
			}
			result.Duration = time.Since(start)
			return result
		}

		if i > 0 {
			e.registry.RecordFallback(task.Capability)
			e.logger.InfoContext(ctx, "walking fallback chain",
				"task_id", task.ID,
				"requested", task.Capability,
				"substitute", name,
				"attempt", i+1,
			)
		}

		output, err := e.attempt(ctx, task, name)
		result.AttemptedChain = append(result.AttemptedChain, name)

		if err == nil {
			result.Status = types.TaskStatusSucceeded
			result.CapabilityRun = name
			result.Output = output
			result.Duration = time.Since(start)
			return result
		}

		if originalErr == nil {
			originalErr = err
		}

		if errors.Is(ctx.Err(), context.Canceled) {
			result.Status = types.TaskStatusCancelled
			result.Error = originalErr.Error()
			result.Duration = time.Since(start)
			return result
		}
	}

	// Chain exhausted. The original error is retained, not the last.
	if len(chain) > 1 {
		result.Status = types.TaskStatusFallbackExhausted
	} else {
		result.Status = types.TaskStatusFailed
	}
	if originalErr != nil {
		result.Error = originalErr.Error()
	}
	result.Duration = time.Since(start)

	e.logger.WarnContext(ctx, "task failed",
		"task_id", task.ID,
		"capability", task.Capability,
		"attempts", len(result.AttemptedChain),
		"error", result.Error,
	)

	return result
}

// attempt runs one capability from the chain with the same task parameters,
// applying the capability's timeout (or the global default).
func (e *Engine) attempt(ctx context.Context, task Task, name string) (string, error) {
	c, err := e.registry.Get(name)
	if err != nil {
		return "", types.WrapError(types.CAPABILITY_UNAVAILABLE,
			fmt.Sprintf("capability %q is not registered", name), err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := capability.ExpandArgs(c.Args, task.Parameters)

	attemptStart := time.Now()
	output, runErr := e.sandbox.Run(attemptCtx, Invocation{Capability: name, Args: args})
	duration := time.Since(attemptStart)

	e.registry.RecordResult(name, runErr == nil, duration)

	if runErr != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return output, types.WrapError(types.CAPABILITY_TIMEOUT,
				fmt.Sprintf("capability %q exceeded %s timeout", name, timeout), runErr)
		}
		return output, runErr
	}

	return output, nil
}

// ExecuteAll runs a task set under the engine's worker bound. Intake follows
// submission order; completion order is not guaranteed. Results are returned
// indexed to match the input slice. Cancellation is cooperative: in-flight
// tasks observe ctx at sandbox-invocation boundaries, and queued tasks are
// marked cancelled without running.
func (e *Engine) ExecuteAll(ctx context.Context, tasks []Task) []ExecutionResult {
	return e.ExecuteAllWithLimit(ctx, tasks, 0)
}

// ExecuteAllWithLimit is ExecuteAll with a per-call worker bound. A limit of
// zero (or one exceeding the engine bound) falls back to the engine's
// configured maximum.
func (e *Engine) ExecuteAllWithLimit(ctx context.Context, tasks []Task, limit int) []ExecutionResult {
	results := make([]ExecutionResult, len(tasks))

	workers := e.maxWorkers
	if limit > 0 && limit < workers {
		workers = limit
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range tasks {
		if ctx.Err() != nil {
			// Remaining queued tasks are cancelled without execution.
			results[i] = ExecutionResult{
				TaskID:              tasks[i].ID,
				WorkflowID:          tasks[i].WorkflowID,
				CapabilityRequested: tasks[i].Capability,
				Status:              types.TaskStatusCancelled,
				Error:               ctx.Err().Error(),
			}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			task := tasks[idx]
			task.Status = types.TaskStatusRunning
			results[idx] = e.Execute(ctx, task)
		}(i)
	}

	wg.Wait()
	return results
}
