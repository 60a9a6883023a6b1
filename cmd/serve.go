package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/spf13/cobra"

	"github.com/poddigest/poddigest/internal/api"
	"github.com/poddigest/poddigest/internal/database"
	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/analyzer"
	"github.com/poddigest/poddigest/internal/services/assembler"
	"github.com/poddigest/poddigest/internal/services/cleanup"
	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/crawler"
	"github.com/poddigest/poddigest/internal/services/deliverer"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/episodes"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/narrator"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
	"github.com/poddigest/poddigest/internal/services/podcasts"
	"github.com/poddigest/poddigest/internal/services/transcriber"
	"github.com/poddigest/poddigest/internal/services/transcripts"
	"github.com/poddigest/poddigest/internal/services/workers"
	"github.com/poddigest/poddigest/internal/storage"
	"github.com/poddigest/poddigest/pkg/config"
	"github.com/poddigest/poddigest/pkg/download"
	"github.com/poddigest/poddigest/pkg/ffmpeg"
	"github.com/poddigest/poddigest/pkg/llm"
	"github.com/poddigest/poddigest/pkg/stt"
	"github.com/poddigest/poddigest/pkg/tts"
)

var (
	serverHost string
	serverPort int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline server",
	Long: `Start the PodDigest server with the configured settings.

One process runs everything: the ops API, the stage worker pools that
drain the job queues, the hourly scheduler that opens due digests and
the retention sweeper.

Example:
  poddigest serve
  poddigest serve --port 9090
  poddigest serve --host 0.0.0.0 --port 8080`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides config)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags win over config
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	db, err := database.InitializeWithMigrations()
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARN] Closing database: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing object store: %w", err)
	}

	// Repositories and entity services
	jobService := jobs.NewService(jobs.NewRepository(db.DB, cfg.Processing.RetryDelay))
	podcastService := podcasts.NewService(podcasts.NewRepository(db.DB))
	episodeService := episodes.NewService(episodes.NewRepository(db.DB))
	transcriptService := transcripts.NewService(transcripts.NewRepository(db.DB))
	configService := configs.NewService(configs.NewRepository(db.DB))
	digestService := digests.NewService(digests.NewRepository(db.DB))

	orchestratorService := orchestrator.NewService(digestService, configService, jobService)

	// External providers. The pipeline cannot produce a digest without
	// them, so misconfiguration fails startup instead of every job.
	llmClient, err := llm.New(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		RateLimit:   cfg.LLM.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	sttProvider, err := stt.NewProvider(stt.Config{
		Provider:  cfg.STT.Provider,
		APIKey:    cfg.STT.APIKey,
		BaseURL:   cfg.STT.BaseURL,
		Model:     cfg.STT.Model,
		Language:  cfg.STT.Language,
		Timeout:   cfg.STT.Timeout,
		RateLimit: cfg.STT.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("creating stt provider: %w", err)
	}

	ttsClient, err := tts.New(tts.Config{
		APIKey:         cfg.TTS.APIKey,
		BaseURL:        cfg.TTS.BaseURL,
		ModelID:        cfg.TTS.ModelID,
		OutputFormat:   cfg.TTS.OutputFormat,
		DefaultVoiceID: cfg.TTS.DefaultVoiceID,
		Timeout:        cfg.TTS.Timeout,
		RateLimit:      cfg.TTS.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("creating tts client: %w", err)
	}

	ffmpegClient := ffmpeg.New(cfg.Processing.FFmpegPath, cfg.Processing.FFprobePath, cfg.Processing.FFmpegTimeout)
	if err := ffmpegClient.ValidateBinaries(); err != nil {
		// Assembly jobs will fail until the binaries appear; the rest of
		// the pipeline still runs.
		log.Printf("[WARN] ffmpeg unavailable: %v", err)
	}

	downloadOpts := download.DefaultOptions()
	downloadOpts.TempDir = cfg.Processing.ScratchDir
	if cfg.Processing.RetryAttempts > 0 {
		downloadOpts.MaxAttempts = cfg.Processing.RetryAttempts
	}
	downloader := download.NewDownloader(downloadOpts)

	// Stage services
	crawlService := crawler.NewService(podcastService, episodeService, gofeed.NewParser(), crawler.Config{
		FallbackDays:         cfg.Pipeline.CrawlFallbackDays,
		FallbackEpisodeLimit: cfg.Pipeline.FallbackEpisodeLimit,
	})
	transcribeService := transcriber.NewService(episodeService, transcriptService, sttProvider, downloader)
	analyzeService := analyzer.NewService(digestService, transcriptService, episodeService, llmClient, analyzer.Config{
		MaxConcurrentScores: cfg.Pipeline.MaxConcurrentScores,
		ScoreBatchDelay:     cfg.Pipeline.ScoreBatchDelay,
	})
	narrateService := narrator.NewService(digestService, episodeService, transcriptService, llmClient, ttsClient, ffmpegClient, store)
	assembleService := assembler.NewService(digestService, episodeService, ffmpegClient, downloader, store, assembler.Config{
		ScratchRoot: cfg.Processing.ScratchDir,
	})
	deliverService := deliverer.NewService(digestService, store, deliverer.NewNotifier(cfg.Delivery.WebhookURL), deliverer.Config{
		FeedAuthor: cfg.Delivery.FeedAuthor,
	})

	// Worker pool, one set of workers per queue
	pool := workers.NewWorkerPool(jobService, orchestratorService, stagePools(&cfg.Processing), cfg.Processing.PollInterval)
	pool.RegisterProcessor(workers.NewCrawlProcessor(jobService, orchestratorService, crawlService, digestService))
	pool.RegisterProcessor(workers.NewTranscribeProcessor(jobService, orchestratorService, transcribeService))
	pool.RegisterProcessor(workers.NewAnalyzeProcessor(jobService, orchestratorService, analyzeService, configService))
	pool.RegisterProcessor(workers.NewNarrateProcessor(jobService, orchestratorService, narrateService, configService))
	pool.RegisterProcessor(workers.NewAssembleProcessor(jobService, orchestratorService, assembleService, configService))
	pool.RegisterProcessor(workers.NewDeliverProcessor(jobService, orchestratorService, deliverService, configService))
	pool.RegisterProcessor(workers.NewSchedulerProcessor(jobService, orchestratorService))

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	runScheduler(ctx, orchestratorService, cfg.Pipeline.SchedulerInterval)

	cleanupService := cleanup.NewService(jobService, cfg.Processing.ScratchDir, cleanup.Config{
		Interval:      cfg.Cleanup.Interval,
		JobRetention:  cfg.Cleanup.JobRetention,
		ScratchMaxAge: cfg.Cleanup.ScratchMaxAge,
	})
	cleanupService.Start(ctx)

	srv := api.NewServer(cfg, api.Dependencies{
		DB:           db,
		Digests:      digestService,
		Orchestrator: orchestratorService,
		Jobs:         jobService,
	})

	// Channel to listen for interrupt signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server error: %w", err)
		}
	}()

	log.Printf("[INFO] PodDigest serving at %s:%d", cfg.Server.Host, cfg.Server.Port)

	// Wait for interrupt signal or server error
	select {
	case <-stop:
		log.Println("[INFO] Shutting down...")
	case err := <-serverErr:
		log.Printf("[ERROR] %v", err)
		log.Println("[INFO] Shutting down...")
	}

	// Stop intake first, then drain the workers; Stop blocks until each
	// worker's in-flight job finishes
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] Server forced to shutdown: %v", err)
	}

	cleanupService.Stop()
	pool.Stop()
	cancel()

	log.Println("[INFO] Server gracefully stopped")
	return nil
}

// buildStore constructs the configured object store backend
func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:         cfg.Storage.S3.Bucket,
			Region:         cfg.Storage.S3.Region,
			Endpoint:       cfg.Storage.S3.Endpoint,
			AccessKey:      cfg.Storage.S3.AccessKey,
			SecretKey:      cfg.Storage.S3.SecretKey,
			ForcePathStyle: cfg.Storage.S3.ForcePathStyle,
			PublicBaseURL:  cfg.Storage.PublicBaseURL,
		})
	case "filesystem", "":
		return storage.NewFilesystemStore(cfg.Storage.Filesystem.BaseDir, cfg.Storage.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// stagePools sizes the per-queue worker pools from config. The pipeline
// tick queue stays at a single worker so scheduler ticks never race.
func stagePools(cfg *config.ProcessingConfig) workers.StagePools {
	pools := workers.DefaultStagePools(cfg.Workers)
	for name, count := range cfg.StageWorkers {
		queue := models.JobQueue(name)
		if queue == models.QueuePipeline {
			continue
		}
		if _, ok := pools[queue]; !ok {
			log.Printf("[WARN] Ignoring stage_workers override for unknown queue %q", name)
			continue
		}
		if count > 0 {
			pools[queue] = count
		}
	}
	return pools
}

// runScheduler enqueues a deduplicated pipeline tick on an interval. The
// tick job itself decides which digests are due.
func runScheduler(ctx context.Context, orchestratorService orchestrator.Service, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := orchestratorService.EnqueueSchedulerTick(ctx, time.Now().UTC()); err != nil {
			log.Printf("[WARN] Enqueueing scheduler tick: %v", err)
		}

		for {
			select {
			case <-ctx.Done():
				log.Println("[INFO] Scheduler stopped")
				return
			case <-ticker.C:
				if err := orchestratorService.EnqueueSchedulerTick(ctx, time.Now().UTC()); err != nil {
					log.Printf("[WARN] Enqueueing scheduler tick: %v", err)
				}
			}
		}
	}()

	log.Printf("[INFO] Scheduler started (interval: %v)", interval)
}
