package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/hopper/pkg/config"
	"github.com/srg/hopper/server"
)

type serveFlags struct {
	host string
	port int
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the panel registry and sends over HTTP until interrupted.

Endpoints live under /api: panels, send, identify, pool and logs.
Held links are drained on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.host, "host", "", "Listen host (default: server_host from config)")
	cmd.Flags().IntVar(&f.port, "port", 0, "Listen port (default: server_port from config)")
	return cmd
}

func runServe(cmd *cobra.Command, f *serveFlags) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Without flags the server logs at the configured level, not silently.
	if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("verbose") {
		logger.SetLevel(cfg.NewLogger().GetLevel())
	}
	cfg.UpdateSettings(func(s *config.Settings) {
		if f.host != "" {
			s.ServerHost = f.host
		}
		if f.port != 0 {
			s.ServerPort = f.port
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	cmd.SilenceUsage = true

	logs := server.NewProgressLog(server.DefaultLogCapacity)
	rt, err := newRuntime(cfg, logs, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := server.NewServer(cfg, rt.coord, logs, logger)
	if err != nil {
		return err
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d panel(s) on http://%s (Ctrl+C to stop)\n", len(cfg.Panels()), cfg.ServerAddr())
	return srv.Run(ctx, cfg.ServerAddr())
}
