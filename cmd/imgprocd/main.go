// Command imgprocd runs the image processing service: HTTP API, worker
// pool, webhook dispatcher, and retention sweeper in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/api"
	"github.com/Rohithcheryala/Image-Processing-API/blob"
	"github.com/Rohithcheryala/Image-Processing-API/engine"
	"github.com/Rohithcheryala/Image-Processing-API/queue/redisq"
	"github.com/Rohithcheryala/Image-Processing-API/store/postgres"
)

type serveFlags struct {
	addr              string
	postgresURL       string
	redisAddr         string
	dataDir           string
	concurrency       int
	quality           int
	webhookAttempts   int
	retentionTTL      time.Duration
	retentionSchedule string
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "imgprocd",
		Short: "Batch image compression service",
	}
	root.AddCommand(serveCmd(logger))
	root.AddCommand(migrateCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", envOr("IMGPROC_ADDR", ":8080"), "HTTP listen address")
	f.StringVar(&flags.postgresURL, "postgres", os.Getenv("IMGPROC_POSTGRES_URL"), "postgres connection string (empty uses the in-memory store)")
	f.StringVar(&flags.redisAddr, "redis", os.Getenv("IMGPROC_REDIS_ADDR"), "redis address (empty uses the in-memory queue)")
	f.StringVar(&flags.dataDir, "data-dir", os.Getenv("IMGPROC_DATA_DIR"), "directory for processed images (empty keeps them in memory)")
	f.IntVar(&flags.concurrency, "concurrency", envOrInt("IMGPROC_CONCURRENCY", 10), "worker goroutines")
	f.IntVar(&flags.quality, "quality", envOrInt("IMGPROC_QUALITY", 50), "JPEG output quality (1-100)")
	f.IntVar(&flags.webhookAttempts, "webhook-attempts", envOrInt("IMGPROC_WEBHOOK_ATTEMPTS", 5), "max completion-webhook delivery attempts")
	f.DurationVar(&flags.retentionTTL, "retention-ttl", 0, "purge terminal batches older than this (0 disables)")
	f.StringVar(&flags.retentionSchedule, "retention-schedule", "@every 1h", "retention sweep schedule")

	return cmd
}

func migrateCmd(logger *slog.Logger) *cobra.Command {
	var postgresURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres store migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if postgresURL == "" {
				return errors.New("--postgres is required")
			}
			ctx := cmd.Context()
			store, err := postgres.New(ctx, postgresURL, postgres.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&postgresURL, "postgres", os.Getenv("IMGPROC_POSTGRES_URL"), "postgres connection string")
	return cmd
}

func runServe(ctx context.Context, logger *slog.Logger, flags serveFlags) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := imgproc.DefaultConfig()
	cfg.Concurrency = flags.concurrency
	cfg.Quality = flags.quality
	cfg.WebhookMaxAttempts = flags.webhookAttempts
	cfg.RetentionTTL = flags.retentionTTL

	opts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithRetentionSchedule(flags.retentionSchedule),
	}

	if flags.postgresURL != "" {
		pg, err := postgres.New(ctx, flags.postgresURL, postgres.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		opts = append(opts, engine.WithStore(pg))
	}

	if flags.redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: flags.redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		opts = append(opts, engine.WithQueue(redisq.New(client,
			redisq.WithVisibilityTimeout(cfg.VisibilityTimeout),
			redisq.WithLogger(logger),
		)))
	}

	if flags.dataDir != "" {
		fsBlobs, err := blob.NewFS(flags.dataDir)
		if err != nil {
			return fmt.Errorf("open data dir: %w", err)
		}
		opts = append(opts, engine.WithBlobStore(fsBlobs))
	}

	eng, err := engine.Build(opts...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              flags.addr,
		Handler:           api.NewServer(eng.Intake(), eng.Blobs(), logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", flags.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", slog.String("error", err.Error()))
		}
		return eng.Stop(shutdownCtx)
	})

	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
