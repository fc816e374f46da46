package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	app "github.com/okian/kickoff/internal/app"
	"github.com/okian/kickoff/internal/domain/types"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func retrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Refresh the league files and retrain every league once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, err := openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Stop()

			st, err := svc.RunPipeline(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), st); err != nil {
				return err
			}
			if st.State == types.StateFailed {
				return fmt.Errorf("retrain failed: %s", st.LastError)
			}
			return nil
		},
	}
}

func predictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict HOME AWAY",
		Short: "Predict the outcome of a fixture",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Stop()

			p, err := svc.Predict(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func teamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List every known team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, err := openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Stop()

			teams, err := svc.ListTeams()
			if err != nil {
				return err
			}
			for _, t := range teams {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), t); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func h2hCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "h2h TEAM_A TEAM_B",
		Short: "Show the last meetings of two teams",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Stop()

			meetings, err := svc.HeadToHead(args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), meetings)
		},
	}
}

type statusOutput struct {
	Status  types.PipelineStatus `json:"status"`
	Recent  []types.RunRecord    `json:"recent_runs,omitempty"`
	Journal *types.JournalStats  `json:"journal,omitempty"`
}

// ledgerStatus rebuilds the pipeline status of a recorded run.
func ledgerStatus(run types.RunRecord) types.PipelineStatus {
	finished := run.FinishedAt
	st := types.PipelineStatus{
		RunID:           run.ID,
		State:           run.State,
		LastRun:         &finished,
		LastError:       run.Error,
		FilesUpdated:    run.FilesUpdated,
		LeaguesUpdated:  make([]string, 0, len(run.Evaluations)),
		AverageAccuracy: run.AverageAccuracy,
	}
	for _, e := range run.Evaluations {
		st.LeaguesUpdated = append(st.LeaguesUpdated, e.League)
	}
	if run.State == types.StateSuccess {
		st.LastSuccess = &finished
	}
	return st
}

func statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pipeline status and, with a database, recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, _, err := openLocal(ctx)
			if err != nil {
				return err
			}
			defer svc.Stop()

			var out statusOutput
			if out.Status, err = svc.PipelineStatus(); err != nil {
				return err
			}
			last, err := svc.Runs(ctx, 1)
			switch {
			case errors.Is(err, app.ErrJournalDisabled):
				return printJSON(cmd.OutOrStdout(), out)
			case err != nil:
				return err
			}
			// A fresh process has never run; the ledger knows the last run.
			if out.Status.State == types.StateNeverRun && len(last) == 1 {
				out.Status = ledgerStatus(last[0])
			}
			if limit > 0 {
				if out.Recent, err = svc.Runs(ctx, limit); err != nil {
					return err
				}
			}
			stats, err := svc.HistoryStats(ctx)
			if err != nil {
				return err
			}
			out.Journal = &stats
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&limit, "runs", 5, "number of recent runs to show")
	return cmd
}
