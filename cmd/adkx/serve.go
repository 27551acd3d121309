package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/metalagman/adkx/internal/apps"
	"github.com/metalagman/adkx/internal/logging"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd(c *cli) *cobra.Command {
	var addr string
	var names []string
	var jsonLogs bool
	cmd := &cobra.Command{
		Use:     "api-server",
		Aliases: []string{"serve"},
		Short:   "Serve the apps over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonLogs {
				logging.InitWithFormat(c.debug, logging.FormatJSON, os.Stderr)
			}
			ctx := cmd.Context()
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			e, err := c.open(ctx, reg)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = e.cfg.Server.Addr
			}
			if len(names) == 0 {
				names = apps.Names()
			}

			app := newServerApp(e, reg, addr, names)
			if err := app.Err(); err != nil {
				_ = e.Close()
				return err
			}
			if err := app.Start(ctx); err != nil {
				return errors.Join(err, e.Close())
			}
			select {
			case <-ctx.Done():
			case <-app.Done():
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
			defer cancel()
			return app.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringSliceVar(&names, "apps", nil, "apps to serve (default all)")
	cmd.Flags().BoolVar(&jsonLogs, "log-json", false, "write JSON logs")
	return cmd
}

// listenAddr is the address the HTTP server actually bound.
type listenAddr struct {
	addr net.Addr
}

// newServerApp wires the API server. The env is closed when the app stops.
func newServerApp(e *env, reg *prometheus.Registry, addr string, names []string, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.NopLogger,
		fx.Supply(e, reg),
		fx.Provide(
			func(e *env) ([]*runner.Runner, error) { return buildRunners(e, names) },
			func(rs []*runner.Runner, reg *prometheus.Registry) (*web.Server, error) {
				return web.NewServer(rs, reg)
			},
			func(s *web.Server) *http.Server {
				return &http.Server{Addr: addr, Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}
			},
			func() *listenAddr { return &listenAddr{} },
		),
		fx.Invoke(registerHTTP),
	}
	return fx.New(append(opts, extra...)...)
}

func buildRunners(e *env, names []string) ([]*runner.Runner, error) {
	rs := make([]*runner.Runner, 0, len(names))
	for _, name := range names {
		r, err := e.runner(name)
		if err != nil {
			return nil, fmt.Errorf("app %s: %w", name, err)
		}
		rs = append(rs, r)
	}
	return rs, nil
}

func registerHTTP(lc fx.Lifecycle, srv *http.Server, e *env, bound *listenAddr) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var lcfg net.ListenConfig
			ln, err := lcfg.Listen(ctx, "tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			bound.addr = ln.Addr()
			log.Info().Str("addr", ln.Addr().String()).Msg("api-server: listening")
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("api-server: serve")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("api-server: shutting down")
			err := srv.Shutdown(ctx)
			return errors.Join(err, e.Close())
		},
	})
}
