package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jpayne/fleetwatch/pkg/api"
	"github.com/jpayne/fleetwatch/pkg/infra/logger"
	"github.com/jpayne/fleetwatch/pkg/service"
)

func NewStartCommand(root *RootCommand) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the monitoring daemon",
		Long: `Start the fleetwatch daemon: the metric collector, alert evaluator,
autoscaling engine and maintenance scheduler, plus the read-only
status API.`,
		Example: `  # Start with the default config
  fleetwatch start

  # Start with an explicit config and API address
  fleetwatch start --config /etc/fleetwatch/config.toml --addr :9180`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), root, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Status API listen address (default from config)")
	return cmd
}

func runStart(ctx context.Context, root *RootCommand, addr string) error {
	cfg := root.Config()

	daemon, err := service.NewDaemon(cfg)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	listenAddr := cfg.API.ListenAddr
	if addr != "" {
		listenAddr = addr
	}
	server := api.NewServer(daemon, api.ServerConfig{Addr: listenAddr})

	daemon.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Execute cancels the command context on SIGINT/SIGTERM; a second
	// handler here would race it to log a different shutdown message.
	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err := <-errCh:
		daemon.Stop()
		return fmt.Errorf("status API error: %w", err)
	}

	if err := server.Shutdown(); err != nil {
		logger.Warn("status API shutdown", "error", err)
	}
	daemon.Stop()
	return nil
}
