package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgelabs/agentforge/internal/graph"
	"github.com/forgelabs/agentforge/internal/state"
)

// runSummary is one row of forge status, assembled from the checkpoint and,
// when present, the final output record.
type runSummary struct {
	RunID                string `json:"run_id"`
	Node                 string `json:"node"`
	Status               string `json:"status"`
	AcceptedWithWarnings bool   `json:"accepted_with_warnings,omitempty"`
	UpdatedAt            string `json:"updated_at"`
}

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show persisted runs and their last checkpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			return printRun(cmd, store, args[0])
		}

		ids, err := store.List()
		if err != nil {
			return err
		}
		var rows []runSummary
		for _, id := range ids {
			if row, err := summarize(store, id); err == nil {
				rows = append(rows, row)
			}
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(rows, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-22s %-12s %s\n", "RUN", "NODE", "STATUS", "UPDATED")
		fmt.Fprintf(w, "%-36s %-22s %-12s %s\n",
			strings.Repeat("-", 36), strings.Repeat("-", 22), strings.Repeat("-", 12), strings.Repeat("-", 7))
		for _, row := range rows {
			status := row.Status
			if row.AcceptedWithWarnings {
				status += "*"
			}
			fmt.Fprintf(w, "%-36s %-22s %-12s %s\n", row.RunID, row.Node, status, row.UpdatedAt)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}

func summarize(store *state.Store, runID string) (runSummary, error) {
	cp, err := store.Load(runID)
	if err != nil {
		return runSummary{}, err
	}
	row := runSummary{
		RunID:     runID,
		Node:      cp.Node,
		Status:    "interrupted",
		UpdatedAt: cp.UpdatedAt,
	}
	if cp.Node == string(graph.End) {
		row.Status = "completed"
		row.AcceptedWithWarnings = cp.State.AcceptedWithWarnings()
	}
	return row, nil
}

func printRun(cmd *cobra.Command, store *state.Store, runID string) error {
	cp, err := store.Load(runID)
	if err != nil {
		return err
	}
	out := map[string]any{
		"run_id":     runID,
		"node":       cp.Node,
		"updated_at": cp.UpdatedAt,
		"fields":     cp.State.Fields(),
		"gates":      cp.Gates,
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
