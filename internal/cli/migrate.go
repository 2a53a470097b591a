package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/luna-labs/accuracy.report/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema migrations",
	Long: `Manage database schema migrations.

Examples:
  accuracy-report migrate up         # Apply all pending migrations
  accuracy-report migrate down       # Roll back the latest migration
  accuracy-report migrate version    # Show the current version
  accuracy-report migrate force 1    # Mark version 1 clean after a failed run`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrations(func(cmd *cobra.Command, store *db.DB, args []string) error {
		if err := store.MigrateUp(db.MigrationsFS()); err != nil {
			return err
		}
		return printVersion(cmd, store)
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: withMigrations(func(cmd *cobra.Command, store *db.DB, args []string) error {
		if err := store.MigrateDown(db.MigrationsFS()); err != nil {
			return err
		}
		return printVersion(cmd, store)
	}),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current schema version",
	Args:  cobra.NoArgs,
	RunE: withMigrations(func(cmd *cobra.Command, store *db.DB, args []string) error {
		return printVersion(cmd, store)
	}),
}

var migrateForceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Set the schema version without running migrations (recovery only)",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrations(func(cmd *cobra.Command, store *db.DB, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		if err := store.MigrateForce(db.MigrationsFS(), version); err != nil {
			return err
		}
		return printVersion(cmd, store)
	}),
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd, migrateForceCmd)
}

// withMigrations opens the database without touching the schema so the
// migrate commands stay in charge of it.
func withMigrations(fn func(cmd *cobra.Command, store *db.DB, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, err := db.OpenDB(cfg.GetDBPath())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()
		return fn(cmd, store, args)
	}
}

func printVersion(cmd *cobra.Command, store *db.DB) error {
	version, dirty, err := store.MigrateVersion(db.MigrationsFS())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}
