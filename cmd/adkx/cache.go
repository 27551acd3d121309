package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/metalagman/adkx/internal/cacheperf"
	"github.com/metalagman/adkx/internal/report"
	"github.com/spf13/cobra"
)

func cacheCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect context cache usage",
	}
	cmd.AddCommand(cacheAnalyzeCmd(c))
	return cmd
}

func cacheAnalyzeCmd(c *cli) *cobra.Command {
	var sf sessionFlags
	var agentName string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report cache usage of an agent in a stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sf.sessionID == "" {
				return errors.New("--session is required")
			}
			ctx := cmd.Context()
			e, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			r, err := e.runner(e.cfg.App)
			if err != nil {
				return err
			}
			if agentName == "" {
				agentName = r.RootAgent().Name()
			}
			an := cacheperf.NewAnalyzer(r.Sessions())
			rep, err := an.AnalyzeAgent(ctx, r.AppName(), sf.userID, sf.sessionID, agentName)
			if err != nil {
				return err
			}
			history, err := an.CacheHistory(ctx, r.AppName(), sf.userID, sf.sessionID, agentName)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			st := report.DefaultStyles()
			_, err = fmt.Fprintln(out, report.CacheReport(st, agentName, rep))
			if err != nil || len(history) == 0 {
				return err
			}
			_, err = fmt.Fprintln(out, report.CacheHistory(st, history))
			return err
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&agentName, "agent", "", "agent to analyze (default: the root agent)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
