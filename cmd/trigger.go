package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poddigest/poddigest/internal/database"
	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
	"github.com/poddigest/poddigest/pkg/config"
)

var (
	triggerUserID   string
	triggerConfigID uint
)

// triggerCmd represents the trigger command
var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Queue a digest run for a user",
	Long: `Queue a digest run outside the weekly schedule.

Creates a pending digest for the given user and config and enqueues
its crawl job. A running "poddigest serve" process picks the job up
and carries the digest through the pipeline.

Example:
  poddigest trigger --user user-123 --config 4`,
	RunE: runTrigger,
}

func init() {
	rootCmd.AddCommand(triggerCmd)

	triggerCmd.Flags().StringVar(&triggerUserID, "user", "", "user to build the digest for")
	triggerCmd.Flags().UintVar(&triggerConfigID, "config", 0, "digest config ID")
	_ = triggerCmd.MarkFlagRequired("user")
	_ = triggerCmd.MarkFlagRequired("config")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.InitializeWithMigrations()
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	jobService := jobs.NewService(jobs.NewRepository(db.DB, cfg.Processing.RetryDelay))
	digestService := digests.NewService(digests.NewRepository(db.DB))
	configService := configs.NewService(configs.NewRepository(db.DB))
	orchestratorService := orchestrator.NewService(digestService, configService, jobService)

	digest, err := orchestratorService.Trigger(cmd.Context(), triggerUserID, triggerConfigID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrDigestInFlight) {
			return fmt.Errorf("a digest for this week is already in flight for user %s", triggerUserID)
		}
		return fmt.Errorf("triggering digest: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Digest %s queued\n", digest.ID)
	fmt.Fprintf(out, "  User:       %s\n", digest.UserID)
	fmt.Fprintf(out, "  Config:     %d\n", digest.ConfigID)
	fmt.Fprintf(out, "  Week start: %s\n", digest.WeekStart.Format("2006-01-02"))
	fmt.Fprintf(out, "  Status:     %s\n", digest.Status)
	return nil
}
