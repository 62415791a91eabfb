package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/remoting/internal/config"
	"github.com/vango-dev/remoting/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		address string
		demo    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remoting server",
		Long: `Run the remoting server.

The server accepts command batches on POST {path}, WebSocket clients on
GET {path}/ws, and exposes /metrics and /healthz.

Examples:
  remoting serve
  remoting serve --address=:9090
  REMOTING_LOG_LEVEL=debug remoting serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Resolve(path)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, demo)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (default from remoting.json)")
	cmd.Flags().BoolVar(&demo, "demo", true, "Seed every session with the greeter demo model")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, demo bool) error {
	logger := cfg.NewLogger(os.Stderr)
	srv := server.New(cfg.ToServerConfig(), server.WithLogger(logger))

	if demo {
		srv.OnSessionCreate(func(s *server.Session) {
			if err := installGreeter(s); err != nil {
				logger.Error("greeter setup failed", "session_id", s.ID, "error", err)
			}
		})
	}

	success("Serving on %s%s", cfg.Server.Address, cfg.Server.Path)
	return srv.ListenAndServe(ctx)
}
