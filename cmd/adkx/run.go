package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/metalagman/adkx/internal/report"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/genai"
)

const defaultUserID = "user"

// sessionFlags select the user and session a command works on.
type sessionFlags struct {
	userID    string
	sessionID string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, "user", defaultUserID, "user id")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "session id, created when missing (default: generated)")
}

func runCmd(c *cli) *cobra.Command {
	var sf sessionFlags
	var state map[string]string
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Send a message to the app, or read messages from stdin",
		Long: "Send one message to the configured app and print the resulting events. " +
			"Without a message, every non-empty stdin line is sent to the same session.",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			log.Debug().Str("app", r.AppName()).Str("session", sessionID).Msg("run: session ready")

			p := newPrinter(cmd.OutOrStdout())
			turn := func(text string, opts ...runner.Option) error {
				msg := genai.NewContentFromText(text, genai.RoleUser)
				return p.print(r.Run(ctx, sf.userID, sessionID, msg, runConfig(e.cfg), opts...))
			}

			var opts []runner.Option
			if len(state) > 0 {
				delta := make(map[string]any, len(state))
				for k, v := range state {
					delta[k] = v
				}
				opts = append(opts, runner.WithStateDelta(delta))
			}
			if len(args) > 0 {
				return turn(strings.Join(args, " "), opts...)
			}
			return eachLine(ctx, cmd.InOrStdin(), func(line string) error {
				err := turn(line, opts...)
				opts = nil
				return err
			})
		},
	}
	sf.register(cmd)
	cmd.Flags().StringToStringVar(&state, "state", nil, "state delta applied with the first message (key=value)")
	return cmd
}

// eachLine calls fn for every non-empty line of r until EOF or ctx ends.
func eachLine(ctx context.Context, r io.Reader, fn func(string) error) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// printer writes final events as styled text.
type printer struct {
	w  io.Writer
	st report.Styles
	md *report.Markdown
}

// newPrinter renders markdown only when writing to stdout.
func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, st: report.DefaultStyles()}
	if w != io.Writer(os.Stdout) {
		return p
	}
	md, err := report.NewMarkdown(100, "")
	if err != nil {
		log.Debug().Err(err).Msg("run: markdown disabled")
	}
	p.md = md
	return p
}

func (p *printer) print(events iter.Seq2[*session.Event, error]) error {
	for ev, err := range events {
		if err != nil {
			return err
		}
		if ev.Partial {
			continue
		}
		if line := report.Event(p.st, p.md, ev); line != "" {
			if _, err := fmt.Fprintln(p.w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
