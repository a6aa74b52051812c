package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/aegis/internal/audit"
	"github.com/zero-day-ai/aegis/internal/database"
	"github.com/zero-day-ai/aegis/internal/types"
)

var reportFlags struct {
	outputFile string
}

var reportCmd = &cobra.Command{
	Use:   "report <workflow-id>",
	Short: "Generate a compliance report from a workflow's audit trail",
	Long: `Report aggregates a workflow's persisted decision trail into a
compliance report: decision counts, confidence statistics, security-critical
and overridden decisions, control-code coverage, and a timeline.`,
	Example: `  aegis report 3f1c9a44-07a2-4be1-9f33-8af2c01de551
  aegis report 3f1c9a44-07a2-4be1-9f33-8af2c01de551 -o json > report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFlags.outputFile, "output-file", "", "Write the report to a file instead of stdout")
}

func runReport(cmd *cobra.Command, args []string) error {
	id, err := types.ParseID(args[0])
	if err != nil {
		return fmt.Errorf("invalid workflow id %q: %w", args[0], err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := audit.NewSQLStore(db.Conn())
	if err != nil {
		return err
	}

	report, err := audit.NewLogger(store).GenerateReport(cmd.Context(), id)
	if err != nil {
		return err
	}

	var rendered []byte
	if globalFlags.GetOutputFormat() == FormatJSON {
		rendered, err = report.MarshalIndent()
		if err != nil {
			return err
		}
		rendered = append(rendered, '\n')
	} else {
		rendered = []byte(report.Summary())
	}

	if reportFlags.outputFile != "" {
		if err := os.WriteFile(reportFlags.outputFile, rendered, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		if !globalFlags.Quiet {
			cmd.Printf("Report written to %s\n", reportFlags.outputFile)
		}
		return nil
	}

	cmd.Print(string(rendered))
	return nil
}
