package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/searchops/indexmigrate/internal/logger"
	"github.com/searchops/indexmigrate/internal/transport/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only admin HTTP API",
	Long: "Serve exposes the index catalog, the action audit trail, health, " +
		"and Prometheus metrics over HTTP until interrupted.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, ctx, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		srv := httpapi.New(a.engine, a.promReg, httpapi.Config{
			Port:            a.cfg.HTTP.Port,
			ReadTimeout:     time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
			WriteTimeout:    time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
			ShutdownTimeout: time.Duration(a.cfg.HTTP.ShutdownSec) * time.Second,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(ctx) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.FromContext(ctx).Info("shutting down", zap.String("reason", "signal"))
		if err := srv.Shutdown(context.Background()); err != nil {
			return err
		}
		return <-errCh
	},
}
