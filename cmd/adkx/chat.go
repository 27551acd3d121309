package main

import (
	"fmt"

	"github.com/metalagman/adkx/internal/chatui"
	"github.com/spf13/cobra"
)

func chatCmd(c *cli) *cobra.Command {
	var sf sessionFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the app in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			sessionID, err := ensureSession(ctx, r, sf.userID, sf.sessionID)
			if err != nil {
				return err
			}
			title := fmt.Sprintf("%s · %s · session %s", r.AppName(), e.model.Name(), sessionID)
			return chatui.Run(title, chatui.RunnerSend(r, sf.userID, sessionID, runConfig(e.cfg)))
		},
	}
	sf.register(cmd)
	return cmd
}
