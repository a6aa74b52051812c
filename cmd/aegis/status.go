package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/aegis/cmd/aegis/internal"
	"github.com/zero-day-ai/aegis/internal/audit"
	"github.com/zero-day-ai/aegis/internal/database"
	"github.com/zero-day-ai/aegis/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show the recorded state of a workflow",
	Long: `Status reconstructs a workflow's recorded progress from the persisted
audit trail. It works across processes: any workflow run with audit
persistence enabled can be inspected here after the run ends.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

// workflowDigest is the status view derived from the audit trail.
type workflowDigest struct {
	WorkflowID types.ID              `json:"workflowId"`
	Target     string                `json:"target,omitempty"`
	Phase      types.Phase           `json:"phase"`
	Decisions  int                   `json:"decisions"`
	ByType     map[string]int        `json:"byType"`
	FirstSeen  string                `json:"firstSeen"`
	LastSeen   string                `json:"lastSeen"`
	Timeline   []audit.TimelineEntry `json:"timeline,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := types.ParseID(args[0])
	if err != nil {
		return fmt.Errorf("invalid workflow id %q: %w", args[0], err)
	}

	trail, err := loadTrail(cmd, id)
	if err != nil {
		return err
	}
	if len(trail) == 0 {
		return types.NewError(types.WORKFLOW_NOT_FOUND,
			fmt.Sprintf("no audit records for workflow %s", id))
	}

	digest := digestTrail(id, trail)

	if globalFlags.GetOutputFormat() == FormatJSON {
		return internal.PrintJSON(cmd.OutOrStdout(), digest)
	}

	cmd.Printf("Workflow:  %s\n", digest.WorkflowID)
	if digest.Target != "" {
		cmd.Printf("Target:    %s\n", digest.Target)
	}
	cmd.Printf("Phase:     %s\n", digest.Phase)
	cmd.Printf("Decisions: %d\n", digest.Decisions)
	cmd.Printf("Span:      %s .. %s\n", digest.FirstSeen, digest.LastSeen)
	if !globalFlags.Quiet {
		cmd.Println("\nTimeline:")
		for _, entry := range digest.Timeline {
			cmd.Printf("  %s  [%-11s] %-18s %s\n",
				entry.Timestamp.Format("15:04:05"), entry.Phase, entry.Type, entry.Decision)
		}
	}
	return nil
}

// loadTrail opens the audit database and returns the workflow's decision
// records in append order.
func loadTrail(cmd *cobra.Command, id types.ID) ([]audit.DecisionRecord, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	store, err := audit.NewSQLStore(db.Conn())
	if err != nil {
		return nil, err
	}
	return store.ListByWorkflow(cmd.Context(), id)
}

func digestTrail(id types.ID, trail []audit.DecisionRecord) workflowDigest {
	digest := workflowDigest{
		WorkflowID: id,
		Decisions:  len(trail),
		ByType:     make(map[string]int, 4),
		FirstSeen:  trail[0].Timestamp.Format("2006-01-02 15:04:05"),
		LastSeen:   trail[len(trail)-1].Timestamp.Format("2006-01-02 15:04:05"),
		Phase:      trail[len(trail)-1].Phase,
	}
	for _, record := range trail {
		digest.ByType[record.Type.String()]++
		if digest.Target == "" && record.Context.Target != "" {
			digest.Target = record.Context.Target
		}
		digest.Timeline = append(digest.Timeline, audit.TimelineEntry{
			Timestamp: record.Timestamp,
			Phase:     record.Phase,
			Type:      record.Type,
			Decision:  record.Output.Decision,
			Impact:    record.Impact(),
		})
	}
	return digest
}
