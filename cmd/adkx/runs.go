package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/adkx/internal/cacheperf"
	"github.com/metalagman/adkx/internal/config"
	"github.com/metalagman/adkx/internal/db"
	"github.com/metalagman/adkx/internal/experiment"
	"github.com/metalagman/adkx/internal/report"
	"github.com/spf13/cobra"
)

func runsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded experiment runs",
	}
	cmd.AddCommand(runsListCmd(c), runsShowCmd(c), runsPruneCmd(c))
	return cmd
}

// withStore opens the sqlite run store for fn.
func (c *cli) withStore(fn func(*db.Store) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	return withConfigStore(cfg, fn)
}

func withConfigStore(cfg config.Config, fn func(*db.Store) error) error {
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	store, err := st.requireStore()
	if err != nil {
		return err
	}
	return fn(store)
}

func runsListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List experiment runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStore(func(store *db.Store) error {
				runs, err := store.ListRuns(cmd.Context())
				if err != nil {
					return err
				}
				tbl := report.Table{
					Title:   "Experiment runs",
					Headers: []string{"Run", "Prompts", "Model", "Status", "Started", "Took"},
				}
				for _, r := range runs {
					took := "-"
					if !r.FinishedAt.IsZero() {
						took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
					}
					tbl.AddRow(r.RunID, r.Name, r.Model, r.Status, r.StartedAt.Local().Format(time.DateTime), took)
				}
				out := tbl.Render(report.DefaultStyles())
				if out == "" {
					out = "No runs.\n"
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			})
		},
	}
}

func runsShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the recorded reports of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(func(store *db.Store) error {
				ctx := cmd.Context()
				status, err := store.GetRunStatus(ctx, args[0])
				if err != nil {
					return err
				}
				results, err := store.Results(ctx, args[0])
				if err != nil {
					return err
				}

				st := report.DefaultStyles()
				tbl := report.Table{
					Title:   fmt.Sprintf("Run %s (%s)", args[0], status),
					Headers: []string{"Variant", "Iteration", "Status", "Hit ratio", "Utilization", "Cached tokens"},
				}
				for _, res := range results {
					var rep cacheperf.Report
					if err := json.Unmarshal([]byte(res.ReportJSON), &rep); err != nil {
						return fmt.Errorf("decode %s report %d: %w", res.Variant, res.Iteration, err)
					}
					tbl.AddRow(res.Variant, fmt.Sprint(res.Iteration), rep.Status,
						fmt.Sprintf("%.1f%%", rep.CacheHitRatioPercent),
						fmt.Sprintf("%.1f%%", rep.CacheUtilizationRatioPercent),
						fmt.Sprint(rep.TotalCachedTokens))
				}
				out := cmd.OutOrStdout()
				if _, err := fmt.Fprint(out, tbl.Render(st)); err != nil {
					return err
				}

				runs, err := store.ListRuns(ctx)
				if err != nil {
					return err
				}
				for _, r := range runs {
					if r.RunID != args[0] || r.Summary == "" {
						continue
					}
					var sum experiment.Summary
					if err := json.Unmarshal([]byte(r.Summary), &sum); err != nil {
						return fmt.Errorf("decode summary: %w", err)
					}
					_, err = fmt.Fprintln(out, report.Experiment(st, sum))
					return err
				}
				return nil
			})
		},
	}
}

func runsPruneCmd(c *cli) *cobra.Command {
	var keepLast, keepDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old experiment runs and their reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			policy := db.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				policy = db.RetentionPolicy{KeepLast: cfg.Retention.KeepLast, KeepDays: cfg.Retention.KeepDays}
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return errors.New("set --keep-last or --keep-days (or configure retention)")
			}
			return withConfigStore(cfg, func(store *db.Store) error {
				res, err := store.PruneRuns(cmd.Context(), policy, time.Now(), dryRun)
				if err != nil {
					return err
				}
				mode := "deleted"
				if dryRun {
					mode = "would delete"
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %d runs (kept %d of %d)\n", mode, res.Deleted, res.Kept, res.Considered)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep runs newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}
