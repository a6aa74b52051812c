package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zero-day-ai/aegis/cmd/aegis/internal"
	"github.com/zero-day-ai/aegis/internal/daemon"
	"github.com/zero-day-ai/aegis/internal/events"
	"github.com/zero-day-ai/aegis/internal/types"
	"github.com/zero-day-ai/aegis/internal/workflow"
)

var submitFlags struct {
	target        string
	scope         string
	environment   string
	intent        string
	credentials   []string
	constraints   []string
	progressive   bool
	maxConcurrent int
	timeout       time.Duration
	autoApprove   bool
	noWait        bool
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an assessment workflow and stream it to completion",
	Long: `Submit an assessment request and follow it until it reaches a terminal
state. Approval gates (production targets, sign-off controls) prompt
interactively; --auto-approve resumes without prompting, and a
non-interactive session without it denies held actions, which cancels
the workflow.

Credentials are passed as name:kind:ENV_VAR; the secret is read from the
named environment variable, never from the command line.`,
	Example: `  aegis submit --target app.example.com
  aegis submit --target https://api.example.com --environment production \
      --credential app-login:basic:AEGIS_APP_SECRET --progressive`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitFlags.target, "target", "t", "", "Target identifier (URL or hostname)")
	submitCmd.Flags().StringVar(&submitFlags.scope, "scope", "", "Scope restriction (path or subdomain pattern)")
	submitCmd.Flags().StringVarP(&submitFlags.environment, "environment", "e", "development", "Target environment (development|staging|production)")
	submitCmd.Flags().StringVar(&submitFlags.intent, "intent", "", "Free-form assessment intent")
	submitCmd.Flags().StringArrayVar(&submitFlags.credentials, "credential", nil, "Credential as name:kind:ENV_VAR (repeatable)")
	submitCmd.Flags().StringArrayVar(&submitFlags.constraints, "constraint", nil, "Planning constraint (repeatable)")
	submitCmd.Flags().BoolVar(&submitFlags.progressive, "progressive", false, "Enable progressive discovery")
	submitCmd.Flags().IntVar(&submitFlags.maxConcurrent, "max-concurrent", 0, "Per-workflow task concurrency cap (0 = engine default)")
	submitCmd.Flags().DurationVar(&submitFlags.timeout, "timeout", 0, "Workflow timeout (0 = unbounded)")
	submitCmd.Flags().BoolVar(&submitFlags.autoApprove, "auto-approve", false, "Resume approval gates without prompting")
	submitCmd.Flags().BoolVar(&submitFlags.noWait, "no-wait", false, "Print the acknowledgement and exit without waiting")
	_ = submitCmd.MarkFlagRequired("target")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req, err := buildSubmitRequest()
	if err != nil {
		return err
	}

	stack, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx := cmd.Context()

	// Subscribe before submitting so no early events are missed.
	ch, cancelSub := stack.Bus.Subscribe(ctx, events.Filter{}, 256)
	defer cancelSub()

	resp, err := stack.Service.Submit(ctx, req)
	if err != nil {
		return err
	}

	if globalFlags.GetOutputFormat() == FormatJSON {
		if err := internal.PrintJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else if !globalFlags.Quiet {
		cmd.Printf("Workflow %s accepted (estimated %s)\n", resp.WorkflowID, resp.EstimatedDuration)
	}

	if submitFlags.noWait {
		return nil
	}

	return followWorkflow(ctx, cmd, stack, resp.WorkflowID, ch)
}

// followWorkflow streams events for one workflow until it goes terminal,
// resolving approval gates along the way.
func followWorkflow(ctx context.Context, cmd *cobra.Command, stack *Stack, id types.ID, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			// Operator interrupt: request cancellation and report it.
			_ = stack.Service.Cancel(context.Background(), id)
			cmd.PrintErrln("Cancellation requested")
			return internal.NewCLIError(internal.ExitCancelled, ctx.Err())

		case ev, ok := <-ch:
			if !ok {
				return fmt.Errorf("event stream closed before workflow %s finished", id)
			}
			if ev.WorkflowID != id {
				continue
			}

			printEvent(cmd, ev)

			if ev.Type == events.EventHITL {
				if err := resolveApprovalGate(ctx, cmd, stack, id, ev); err != nil {
					return err
				}
			}

			switch ev.Type {
			case events.EventWorkflowCompleted, events.EventWorkflowFailed, events.EventWorkflowCancelled:
				return printResult(ctx, cmd, stack, id, ev.Type)
			}
		}
	}
}

// resolveApprovalGate decides a suspended workflow's fate: auto-approve flag,
// interactive prompt, or a safe deny when nobody can answer.
func resolveApprovalGate(ctx context.Context, cmd *cobra.Command, stack *Stack, id types.ID, ev events.Event) error {
	if submitFlags.autoApprove {
		cmd.PrintErrln("Auto-approving held actions")
		return stack.Service.Approve(ctx, id)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		cmd.PrintErrln("Non-interactive session: denying held actions")
		return stack.Service.Deny(ctx, id)
	}

	if reason, ok := ev.Attrs["reason"].(string); ok {
		cmd.PrintErrf("Approval required: %s\n", reason)
	}
	cmd.PrintErr("Approve held actions? [y/N]: ")

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return stack.Service.Deny(ctx, id)
	}
	if strings.EqualFold(strings.TrimSpace(answer), "y") {
		return stack.Service.Approve(ctx, id)
	}
	return stack.Service.Deny(ctx, id)
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	if globalFlags.Quiet {
		return
	}
	if globalFlags.GetOutputFormat() == FormatJSON {
		if msg, ok := daemon.TranslateEvent(ev); ok {
			if data, err := msg.Encode(); err == nil {
				cmd.Println(string(data))
			}
		}
		return
	}

	switch ev.Type {
	case events.EventWorkflowProgress:
		if p, ok := ev.Payload.(events.ProgressPayload); ok {
			cmd.Printf("  [%s] progress %.0f%% (%d/%d tasks)\n", ev.Phase, p.Percent, p.CompletedTasks, p.TotalTasks)
		}
	case events.EventTaskQueued:
		if p, ok := ev.Payload.(events.TaskPayload); ok {
			cmd.Printf("  [%s] queued %s (%s)\n", ev.Phase, p.Capability, p.Asset)
		}
	case events.EventTaskCompleted, events.EventTaskFailed:
		if p, ok := ev.Payload.(events.TaskPayload); ok {
			cmd.Printf("  [%s] %s %s\n", ev.Phase, p.Capability, p.Status)
		}
	case events.EventRestraint:
		if p, ok := ev.Payload.(events.RestraintPayload); ok {
			cmd.Printf("  [%s] restraint: %s (%s)\n", ev.Phase, p.Capability, p.Rule)
		}
	case events.EventFindingDiscovered:
		if f, ok := ev.Payload.(types.Finding); ok {
			cmd.Printf("  [%s] finding [%s] %s\n", ev.Phase, f.Severity, f.Title)
		}
	default:
		cmd.Printf("  %s\n", ev.Type)
	}
}

// printResult renders the final workflow state. Critical findings map to
// their own exit code so scripted callers can react.
func printResult(ctx context.Context, cmd *cobra.Command, stack *Stack, id types.ID, terminal events.EventType) error {
	status, err := stack.Service.Status(ctx, id)
	if err != nil {
		return err
	}

	if globalFlags.GetOutputFormat() == FormatJSON {
		if err := internal.PrintJSON(cmd.OutOrStdout(), status); err != nil {
			return err
		}
	} else {
		cmd.Printf("\nWorkflow %s: %s", id, status.Status)
		if status.Error != "" {
			cmd.Printf(" (%s)", status.Error)
		}
		cmd.Printf("\nFindings: %d\n", len(status.Findings))
		for _, f := range status.Findings {
			cmd.Printf("  [%s] %s: %s\n", f.Severity, f.Type, f.Title)
		}
	}

	switch terminal {
	case events.EventWorkflowFailed:
		return internal.NewCLIError(internal.ExitError, fmt.Errorf("workflow failed: %s", status.Error))
	case events.EventWorkflowCancelled:
		return internal.NewCLIError(internal.ExitCancelled, fmt.Errorf("workflow cancelled"))
	}
	for _, f := range status.Findings {
		if f.IsCritical() {
			return internal.NewCLIError(internal.ExitCriticalFindings,
				fmt.Errorf("critical findings discovered"))
		}
	}
	return nil
}

func buildSubmitRequest() (workflow.SubmitRequest, error) {
	env := types.Environment(submitFlags.environment)
	if !env.IsValid() {
		return workflow.SubmitRequest{}, types.NewError(types.VALIDATION_FAILED,
			fmt.Sprintf("invalid environment %q", submitFlags.environment))
	}

	creds, err := parseCredentials(submitFlags.credentials)
	if err != nil {
		return workflow.SubmitRequest{}, err
	}

	return workflow.SubmitRequest{
		Target: types.Target{
			Identifier:  submitFlags.target,
			Scope:       submitFlags.scope,
			Environment: env,
			Description: submitFlags.intent,
		},
		Intent:      submitFlags.intent,
		Credentials: creds,
		Constraints: submitFlags.constraints,
		Options: workflow.SubmitOptions{
			Progressive:   submitFlags.progressive,
			MaxConcurrent: submitFlags.maxConcurrent,
			Timeout:       submitFlags.timeout,
		},
	}, nil
}

// parseCredentials resolves name:kind:ENV_VAR specs, reading each secret from
// the environment so it never appears in process listings.
func parseCredentials(specs []string) ([]types.Credential, error) {
	creds := make([]types.Credential, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 {
			return nil, types.NewError(types.VALIDATION_FAILED,
				fmt.Sprintf("credential %q must be name:kind:ENV_VAR", spec))
		}
		secret, ok := os.LookupEnv(parts[2])
		if !ok {
			return nil, types.NewError(types.VALIDATION_FAILED,
				fmt.Sprintf("credential environment variable %s is not set", parts[2]))
		}
		creds = append(creds, types.Credential{Name: parts[0], Kind: parts[1], Secret: secret})
	}
	return creds, nil
}
