package cmd

import (
	"context"
	"fmt"

	"github.com/nfrund/pairchat/internal/app"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long: `Opening a store applies its schema: embedded SQL migrations for sqlite,
table and index definitions for surreal. migrate opens the configured store
and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st app.Store) error {
			if err := st.HealthCheck(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
