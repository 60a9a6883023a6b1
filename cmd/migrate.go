package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poddigest/poddigest/internal/database"
	"github.com/poddigest/poddigest/internal/models"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Manage the PodDigest database schema.

The schema is managed additively through GORM auto migration: "up"
creates missing tables, columns and indexes, and "status" shows which
model tables exist. There is no rollback command; restore a backup of
the SQLite file to revert.

Available subcommands:
  up      - Apply pending schema changes
  status  - Show which tables exist`,
}

// migrateUpCmd applies pending schema changes
var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending schema changes",
	Long: `Apply pending schema changes.

Opens the configured database and auto-migrates every model the
pipeline persists. Safe to run repeatedly.`,
	RunE: runMigrateUp,
}

// migrateStatusCmd shows migration status
var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long: `Display which model tables exist in the configured database
and which are still pending.`,
	RunE: runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	migrateUpCmd.Flags().Bool("dry-run", false, "show what would be done without making changes")
}

// pipelineTables pairs each persisted model with a printable table name
func pipelineTables() []struct {
	name  string
	model any
} {
	return []struct {
		name  string
		model any
	}{
		{"podcasts", &models.Podcast{}},
		{"subscriptions", &models.Subscription{}},
		{"episodes", &models.Episode{}},
		{"transcripts", &models.Transcript{}},
		{"digest_configs", &models.DigestConfig{}},
		{"digests", &models.Digest{}},
		{"digest_clips", &models.DigestClip{}},
		{"jobs", &models.Job{}},
	}
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Dry run mode - no changes will be made")
		return printTableStatus(cmd)
	}

	db, err := database.InitializeWithMigrations()
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	defer db.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date at %s\n", viper.GetString("database.path"))
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	return printTableStatus(cmd)
}

// printTableStatus opens the database without migrating and reports which
// model tables exist
func printTableStatus(cmd *cobra.Command) error {
	dbPath := viper.GetString("database.path")
	db, err := database.Initialize(dbPath, false)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n\n", dbPath)

	migrator := db.Migrator()
	pending := 0
	for _, table := range pipelineTables() {
		state := "applied"
		if !migrator.HasTable(table.model) {
			state = "pending"
			pending++
		}
		fmt.Fprintf(out, "  %-16s %s\n", table.name, state)
	}

	if pending > 0 {
		fmt.Fprintf(out, "\n%d table(s) pending, run \"poddigest migrate up\"\n", pending)
	} else {
		fmt.Fprintln(out, "\nAll tables present")
	}
	return nil
}
