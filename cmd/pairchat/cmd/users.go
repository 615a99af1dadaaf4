package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nfrund/pairchat/internal/app"
	"github.com/nfrund/pairchat/internal/domain"
	"github.com/spf13/cobra"
)

var usersOutputFormat string

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage directory users",
	Long: `Accounts are owned by an external service; these commands seed and
inspect the local directory for development.

Examples:
  pairchat users add alice
  pairchat users list --format json`,
}

var usersAddCmd = &cobra.Command{
	Use:   "add <username>...",
	Short: "Create directory users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st app.Store) error {
			for _, name := range args {
				u, err := st.CreateUser(ctx, name)
				if err != nil {
					return fmt.Errorf("add %q: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created user %s with id %d\n", u.Username, u.ID)
			}
			return nil
		})
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List directory users",
	RunE: func(cmd *cobra.Command, args []string) error {
		if usersOutputFormat != "table" && usersOutputFormat != "json" {
			return fmt.Errorf("invalid format %q: valid formats are table, json", usersOutputFormat)
		}
		return withStore(cmd.Context(), func(ctx context.Context, st app.Store) error {
			users, err := st.ListUsers(ctx)
			if err != nil {
				return err
			}
			if usersOutputFormat == "json" {
				return displayUsersJSON(cmd.OutOrStdout(), users)
			}
			displayUsersTable(cmd.OutOrStdout(), users)
			return nil
		})
	},
}

// displayUsersTable displays users in a formatted table
func displayUsersTable(out io.Writer, users []*domain.User) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tUSERNAME\tONLINE\tLAST SEEN")
	fmt.Fprintln(w, "--\t--------\t------\t---------")

	if len(users) == 0 {
		fmt.Fprintln(w, "No users found")
		return
	}
	for _, u := range users {
		lastSeen := "-"
		if !u.LastSeen.IsZero() {
			lastSeen = u.LastSeen.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", u.ID, u.Username, u.Online, lastSeen)
	}
}

func displayUsersJSON(out io.Writer, users []*domain.User) error {
	if users == nil {
		users = []*domain.User{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Users []*domain.User `json:"users"`
		Count int            `json:"count"`
	}{users, len(users)})
}

func init() {
	usersListCmd.Flags().StringVarP(&usersOutputFormat, "format", "f", "table", "Output format (table, json)")
	usersCmd.AddCommand(usersAddCmd, usersListCmd)
	rootCmd.AddCommand(usersCmd)
}
