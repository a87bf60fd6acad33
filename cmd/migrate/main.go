// Command migrate manages the PostgreSQL schema.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/reelhub/internal/config"
	"github.com/example/reelhub/internal/store"
)

var (
	dsnFlag string
	envFile string
	steps   int
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back reelhub database migrations",
	Long: `migrate applies the embedded PostgreSQL migrations.

The connection is read from POSTGRES_DSN (or the POSTGRES_* variables) unless
--dsn is given.

Example usage:
  migrate up              # apply all pending migrations
  migrate down --steps 1  # roll back the latest migration
  migrate version         # print the current version
  migrate force 1         # mark version 1 as applied after a failed run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *store.Migrator) error {
			if err := m.Up(steps); err != nil {
				return fmt.Errorf("migration up failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied successfully")
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations (all unless --steps is set)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *store.Migrator) error {
			if err := m.Down(steps); err != nil {
				return fmt.Errorf("migration down failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back successfully")
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current migration version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *store.Migrator) error {
			v, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			if dirty {
				return fmt.Errorf("database is in a dirty state (version %d)", v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current migration version: %d\n", v)
			return nil
		})
	},
}

var forceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Set the migration version without running migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var v int
		if _, err := fmt.Sscanf(args[0], "%d", &v); err != nil || v < 0 {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return withMigrator(func(m *store.Migrator) error {
			if err := m.Force(v); err != nil {
				return fmt.Errorf("force migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forced database to version %d\n", v)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "PostgreSQL connection string (overrides the environment)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	upCmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 applies all)")
	downCmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back (0 rolls back all)")

	rootCmd.AddCommand(upCmd, downCmd, versionCmd, forceCmd)
}

func resolveDSN() (string, error) {
	if dsnFlag != "" {
		return dsnFlag, nil
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		return "", fmt.Errorf("config error: %w", err)
	}
	if cfg.DBAdapter != "postgres" {
		return "", fmt.Errorf("migrations only work with PostgreSQL, current adapter: %s", cfg.DBAdapter)
	}
	return cfg.PostgresDSN, nil
}

func withMigrator(fn func(*store.Migrator) error) error {
	dsn, err := resolveDSN()
	if err != nil {
		return err
	}
	m, err := store.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
