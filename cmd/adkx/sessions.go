package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/adkx/internal/config"
	"github.com/metalagman/adkx/internal/report"
	"github.com/metalagman/adkx/internal/session"
	"github.com/spf13/cobra"
)

func sessionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	cmd.AddCommand(sessionsListCmd(c), sessionsDeleteCmd(c))
	return cmd
}

func sessionsListCmd(c *cli) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the sessions of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			st, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			list, err := st.sessions.List(cmd.Context(), &session.ListRequest{AppName: cfg.App, UserID: userID})
			if err != nil {
				return err
			}
			tbl := report.Table{
				Title:   fmt.Sprintf("Sessions of %s in %s", userID, cfg.App),
				Headers: []string{"ID", "Events", "Last update"},
			}
			for _, s := range list {
				tbl.AddRow(s.ID, fmt.Sprint(len(s.Events())), s.LastUpdate().Format(time.DateTime))
			}
			out := tbl.Render(report.DefaultStyles())
			if out == "" {
				out = "No sessions.\n"
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", defaultUserID, "user id")
	return cmd
}

func sessionsDeleteCmd(c *cli) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.StorageSQLite {
				return errors.New("sessions are only kept between commands with storage.driver sqlite")
			}
			st, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			return st.sessions.Delete(cmd.Context(), &session.DeleteRequest{AppName: cfg.App, UserID: userID, SessionID: args[0]})
		},
	}
	cmd.Flags().StringVar(&userID, "user", defaultUserID, "user id")
	return cmd
}
