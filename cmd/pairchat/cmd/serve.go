package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		srv, err := a.Server()
		if err != nil {
			_ = a.Shutdown(context.Background())
			return err
		}
		logger := a.Logger()

		// Wait for interrupt signal to gracefully shut down the server.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runErr := srv.Start(ctx, srv.Cfg.HTTPAddr)
		if runErr != nil {
			logger.Error("Server stopped", "error", runErr)
		}

		if err := a.Shutdown(context.Background()); err != nil {
			logger.Error("Shutdown incomplete", "error", err)
			if runErr == nil {
				runErr = err
			}
		}
		logger.Info("Shutdown complete")
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
