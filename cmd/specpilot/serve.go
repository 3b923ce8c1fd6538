package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"specpilot/internal/observability"
	serverhttp "specpilot/internal/server/http"
	"specpilot/internal/shared/logging"
)

func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.buildContainer()
			if err != nil {
				return err
			}
			defer func() {
				if err := container.Shutdown(context.Background()); err != nil {
					fmt.Fprintf(c.errOut, "Cleanup error: %v\n", err)
				}
			}()

			cfg := container.Config
			if addr != "" {
				cfg.Server.Addr = addr
			}
			deps := serverhttp.Deps{
				Router:  container.Router,
				Invoker: container.Invoker,
				Cache:   container.Cache,
				Tracer:  container.Tracing.Tracer(),
				AccessLog: observability.NewAccessLogger(observability.AccessLogConfig{
					Level:  cfg.Logging.Level,
					Format: cfg.Logging.AccessFormat,
					Output: c.out,
				}),
				Logger: logging.NewComponentLogger("HTTP"),
			}
			if cfg.Observability.Metrics.Enabled {
				deps.Metrics = container.Metrics.Handler()
			}
			server, err := serverhttp.NewServer(serverhttp.Config{
				Addr:            cfg.Server.Addr,
				CORSOrigins:     cfg.Server.CORSOrigins,
				RateLimit:       cfg.Server.RateLimit,
				RateWindow:      cfg.Server.RateWindow,
				MetricsPath:     cfg.Observability.Metrics.Path,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				Debug:           debug,
			}, deps)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(c.out, "%s listening on %s\n", bold("specpilot"), cfg.Server.Addr)
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Run gin in debug mode")
	return cmd
}
