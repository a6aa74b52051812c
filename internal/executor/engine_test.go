package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aegis/internal/capability"
	"github.com/zero-day-ai/aegis/internal/types"
)

// scriptedSandbox returns per-capability canned outcomes and records the
// order of invocations.
type scriptedSandbox struct {
	mu       sync.Mutex
	outcomes map[string]outcome
	calls    []string
	inflight int32
	peak     int32
	delay    time.Duration
}

type outcome struct {
	output string
	err    error
}

func (s *scriptedSandbox) Run(ctx context.Context, inv Invocation) (string, error) {
	cur := atomic.AddInt32(&s.inflight, 1)
	defer atomic.AddInt32(&s.inflight, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&s.peak, p, cur) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, inv.Capability)
	out, ok := s.outcomes[inv.Capability]
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "default output", nil
	}
	return out.output, out.err
}

func (s *scriptedSandbox) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func newTestEngine(t *testing.T, sandbox Sandbox, chains map[string][]string, opts ...EngineOption) (*Engine, *capability.Registry) {
	t.Helper()

	registry := capability.NewRegistry()
	for _, name := range []string{"nuclei", "zap-scan", "http-probe", "port-scan"} {
		require.NoError(t, registry.Register(capability.Capability{
			Name:        name,
			Description: name,
			Args:        []string{name, "{target}"},
		}))
	}

	fallbacks, err := capability.NewFallbackRegistry(chains)
	require.NoError(t, err)

	return NewEngine(registry, fallbacks, sandbox, opts...), registry
}

func TestExecuteSuccess(t *testing.T) {
	sandbox := &scriptedSandbox{outcomes: map[string]outcome{
		"port-scan": {output: "22/tcp open"},
	}}
	engine, _ := newTestEngine(t, sandbox, nil)

	task := NewTask(types.NewID(), 0, "port-scan", map[string]string{"target": "test.example.com"})
	res := engine.Execute(context.Background(), task)

	assert.Equal(t, types.TaskStatusSucceeded, res.Status)
	assert.Equal(t, "port-scan", res.CapabilityRun)
	assert.Equal(t, "22/tcp open", res.Output)
	assert.False(t, res.FallbackFired())
	assert.Equal(t, []string{"port-scan"}, res.AttemptedChain)
}

func TestExecuteFallbackChainOrder(t *testing.T) {
	sandbox := &scriptedSandbox{outcomes: map[string]outcome{
		"nuclei":   {err: types.NewError(types.SANDBOX_FAILED, "exit 1")},
		"zap-scan": {err: types.NewError(types.SANDBOX_FAILED, "exit 2")},
		// http-probe succeeds by default.
	}}
	engine, registry := newTestEngine(t, sandbox, map[string][]string{
		"nuclei": {"zap-scan", "http-probe"},
	})

	task := NewTask(types.NewID(), 0, "nuclei", map[string]string{"target": "t"})
	res := engine.Execute(context.Background(), task)

	assert.Equal(t, types.TaskStatusSucceeded, res.Status)
	assert.Equal(t, "http-probe", res.CapabilityRun)
	assert.Equal(t, "nuclei", res.CapabilityRequested)
	assert.True(t, res.FallbackFired())
	assert.Equal(t, []string{"nuclei", "zap-scan", "http-probe"}, res.AttemptedChain)
	assert.Equal(t, []string{"nuclei", "zap-scan", "http-probe"}, sandbox.callOrder())

	// Both substitutions count against the requested capability.
	m, err := registry.Metrics("nuclei")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.FallbackInvocations)
}

func TestExecuteFallbackExhaustedRetainsOriginalError(t *testing.T) {
	sandbox := &scriptedSandbox{outcomes: map[string]outcome{
		"nuclei":   {err: types.NewError(types.SANDBOX_FAILED, "original failure")},
		"zap-scan": {err: types.NewError(types.SANDBOX_FAILED, "later failure")},
	}}
	engine, _ := newTestEngine(t, sandbox, map[string][]string{
		"nuclei": {"zap-scan"},
	})

	task := NewTask(types.NewID(), 0, "nuclei", map[string]string{"target": "t"})
	res := engine.Execute(context.Background(), task)

	assert.Equal(t, types.TaskStatusFallbackExhausted, res.Status)
	assert.Contains(t, res.Error, "original failure")
	assert.NotContains(t, res.Error, "later failure")
}

func TestExecuteNoFallbacksFails(t *testing.T) {
	sandbox := &scriptedSandbox{outcomes: map[string]outcome{
		"port-scan": {err: types.NewError(types.SANDBOX_FAILED, "exit 1")},
	}}
	engine, _ := newTestEngine(t, sandbox, nil)

	task := NewTask(types.NewID(), 0, "port-scan", map[string]string{"target": "t"})
	res := engine.Execute(context.Background(), task)

	// No fallback entries existed, so the status is failed, not exhausted.
	assert.Equal(t, types.TaskStatusFailed, res.Status)
	assert.Contains(t, res.Error, "exit 1")
}

func TestExecuteUnknownCapability(t *testing.T) {
	sandbox := &scriptedSandbox{}
	engine, _ := newTestEngine(t, sandbox, nil)

	task := NewTask(types.NewID(), 0, "ghost", nil)
	res := engine.Execute(context.Background(), task)

	assert.Equal(t, types.TaskStatusFailed, res.Status)
	assert.Contains(t, res.Error, "not registered")
}

func TestExecuteTimeoutWalksChain(t *testing.T) {
	sandbox := &scriptedSandbox{
		delay: 200 * time.Millisecond,
		outcomes: map[string]outcome{
			"zap-scan": {output: "ok"},
		},
	}
	// nuclei's timeout is shorter than the sandbox delay; zap-scan's is not.
	registry := capability.NewRegistry()
	require.NoError(t, registry.Register(capability.Capability{
		Name: "nuclei", Description: "scan", Args: []string{"nuclei", "{target}"},
		Timeout: 20 * time.Millisecond,
	}))
	require.NoError(t, registry.Register(capability.Capability{
		Name: "zap-scan", Description: "scan", Args: []string{"zap-scan", "{target}"},
		Timeout: time.Second,
	}))
	fallbacks, err := capability.NewFallbackRegistry(map[string][]string{"nuclei": {"zap-scan"}})
	require.NoError(t, err)
	engine := NewEngine(registry, fallbacks, sandbox)

	task := NewTask(types.NewID(), 0, "nuclei", map[string]string{"target": "t"})
	res := engine.Execute(context.Background(), task)

	// nuclei timed out, zap-scan ran within its own deadline.
	require.Equal(t, types.TaskStatusSucceeded, res.Status, "error: %s", res.Error)
	assert.Equal(t, "zap-scan", res.CapabilityRun)
}

func TestExecuteAllBoundedConcurrency(t *testing.T) {
	sandbox := &scriptedSandbox{delay: 30 * time.Millisecond}
	engine, _ := newTestEngine(t, sandbox, nil, WithMaxWorkers(2))

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = NewTask(types.NewID(), i, "port-scan", map[string]string{"target": "t"})
	}

	results := engine.ExecuteAll(context.Background(), tasks)
	require.Len(t, results, 6)
	for _, res := range results {
		assert.Equal(t, types.TaskStatusSucceeded, res.Status)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&sandbox.peak), int32(2))
}

func TestExecuteAllWithLimitTightensBound(t *testing.T) {
	sandbox := &scriptedSandbox{delay: 30 * time.Millisecond}
	engine, _ := newTestEngine(t, sandbox, nil, WithMaxWorkers(4))

	tasks := make([]Task, 4)
	for i := range tasks {
		tasks[i] = NewTask(types.NewID(), i, "port-scan", map[string]string{"target": "t"})
	}

	engine.ExecuteAllWithLimit(context.Background(), tasks, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&sandbox.peak))
}

func TestExecuteAllCancelledBeforeStart(t *testing.T) {
	sandbox := &scriptedSandbox{}
	engine, _ := newTestEngine(t, sandbox, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task{
		NewTask(types.NewID(), 0, "port-scan", map[string]string{"target": "t"}),
		NewTask(types.NewID(), 1, "port-scan", map[string]string{"target": "t"}),
	}
	results := engine.ExecuteAll(ctx, tasks)

	for _, res := range results {
		assert.Equal(t, types.TaskStatusCancelled, res.Status)
	}
	assert.Empty(t, sandbox.callOrder())
}

func TestExecuteAllResultsIndexedToInput(t *testing.T) {
	sandbox := &scriptedSandbox{outcomes: map[string]outcome{
		"nuclei": {err: types.NewError(types.SANDBOX_FAILED, "boom")},
	}}
	engine, _ := newTestEngine(t, sandbox, nil)

	tasks := []Task{
		NewTask(types.NewID(), 0, "port-scan", map[string]string{"target": "t"}),
		NewTask(types.NewID(), 1, "nuclei", map[string]string{"target": "t"}),
	}
	results := engine.ExecuteAll(context.Background(), tasks)

	require.Len(t, results, 2)
	assert.Equal(t, tasks[0].ID, results[0].TaskID)
	assert.Equal(t, tasks[1].ID, results[1].TaskID)
	assert.Equal(t, types.TaskStatusSucceeded, results[0].Status)
	assert.Equal(t, types.TaskStatusFailed, results[1].Status)
}
