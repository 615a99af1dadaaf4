package cmd

import (
	"context"
	"os"

	"github.com/nfrund/pairchat/internal/app"
	"github.com/nfrund/pairchat/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pairchat",
	Short: "Real-time private chat server",
	Long: `pairchat serves one-to-one chat rooms over WebSocket.

Available commands:
  serve     Run the HTTP and WebSocket server
  migrate   Create or upgrade the database schema
  users     Manage directory users
  version   Print the version

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp loads configuration and returns an unstarted application.
func newApp() (*app.App, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	return app.New(cfg), nil
}

// withStore runs fn against the configured store and shuts it down after.
func withStore(ctx context.Context, fn func(context.Context, app.Store) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	st, err := a.Store()
	if err != nil {
		return err
	}
	return fn(ctx, st)
}
