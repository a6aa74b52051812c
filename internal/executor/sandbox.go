package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/zero-day-ai/aegis/internal/types"
)

// Invocation is a concrete, fully-expanded capability call.
type Invocation struct {
	// Capability is the name of the capability being invoked.
	Capability string

	// Args is the argument list after template expansion. The first element
	// is the sandboxed executable name.
	Args []string
}

// Sandbox runs a single capability invocation in isolation. The tool binary
// and its container image are opaque to Aegis; implementations only promise
// isolation and a combined output stream.
//
// Implementations must honor context cancellation: the engine's per-capability
// timeout and the workflow's cooperative cancellation both arrive through ctx.
type Sandbox interface {
	// Run executes the invocation and returns its combined output.
	// A non-nil error wraps CAPABILITY_UNAVAILABLE when the sandbox itself
	// cannot run the capability, as opposed to the capability failing.
	Run(ctx context.Context, inv Invocation) (string, error)
}

// ExecSandbox is a Sandbox backed by local process execution. It is the
// default for development; deployments substitute a container-backed
// implementation behind the same interface.
type ExecSandbox struct {
	// WorkDir is the working directory for invocations. Empty means the
	// process default.
	WorkDir string
}

// NewExecSandbox creates a local process sandbox.
func NewExecSandbox(workDir string) *ExecSandbox {
	return &ExecSandbox{WorkDir: workDir}
}

// Run executes the invocation as a local process, capturing combined output.
func (s *ExecSandbox) Run(ctx context.Context, inv Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return "", types.NewError(types.CAPABILITY_UNAVAILABLE,
			fmt.Sprintf("capability %q has an empty invocation", inv.Capability))
	}

	cmd := exec.CommandContext(ctx, inv.Args[0], inv.Args[1:]...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return out.String(), ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			// Binary not present: the capability is unavailable, not failed.
			return out.String(), types.WrapError(types.CAPABILITY_UNAVAILABLE,
				fmt.Sprintf("capability %q executable not available", inv.Capability), err)
		}
		return out.String(), types.WrapError(types.SANDBOX_FAILED,
			fmt.Sprintf("capability %q exited with error", inv.Capability), err)
	}

	return out.String(), nil
}
