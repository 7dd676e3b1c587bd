package cmd

import (
	"fmt"
	"strings"

	"github.com/killallgit/vibematch-api/internal/database"
	"github.com/killallgit/vibematch-api/pkg/config"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Manage the database schema for the VibeMatch API.

The schema is derived from the models and applied with GORM AutoMigrate,
which only adds tables and columns.

Available subcommands:
  up      - Create or extend every table
  status  - Show which tables exist`,
}

// migrateUpCmd applies the schema
var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create or extend every table",
	RunE:  runMigrateUp,
}

// migrateStatusCmd shows migration status
var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which tables exist",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	migrateCmd.PersistentFlags().String("db", "", "database path (overrides config)")
}

func openDatabase(cmd *cobra.Command) (*database.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = config.GetString("database.path")
	}
	if path == "" {
		return nil, fmt.Errorf("database path is not configured")
	}
	return database.Initialize(path, config.GetBool("database.verbose"))
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	db, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.AutoMigrate(database.Models()...); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d model(s)\n", len(database.Models()))
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	db, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := db.MigrationStatus()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Database Migration Status")
	fmt.Fprintln(out, strings.Repeat("=", 40))
	pending := 0
	for _, s := range status {
		state := "applied"
		if !s.Exists {
			state = "pending"
			pending++
		}
		fmt.Fprintf(out, "  %-24s %s\n", s.Table, state)
	}
	if pending > 0 {
		fmt.Fprintf(out, "\n%d table(s) pending; run \"migrate up\"\n", pending)
	}
	return nil
}
