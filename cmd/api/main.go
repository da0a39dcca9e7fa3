package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/filezenith/internal/api"
	"github.com/dunamismax/filezenith/internal/config"
	"github.com/dunamismax/filezenith/internal/handle"
	"github.com/dunamismax/filezenith/internal/queue"
	"github.com/dunamismax/filezenith/internal/raster"
	"github.com/dunamismax/filezenith/internal/ratelimit"
	"github.com/dunamismax/filezenith/internal/session"
	"github.com/dunamismax/filezenith/internal/storage"
	"github.com/dunamismax/filezenith/internal/store"
	"github.com/dunamismax/filezenith/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	if err := config.LoadDotEnv(); err != nil {
		logger.Fatalf("load env: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("api failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := raster.Startup(); err != nil {
		return err
	}
	defer raster.Shutdown()

	rasterizer, err := raster.NewDefault(raster.WithStrictFormats(cfg.Tools.StrictFormats))
	if err != nil {
		return err
	}
	logger.Printf("raster codec=%s strict_formats=%t", rasterizer.CodecName(), cfg.Tools.StrictFormats)

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	opts := api.Options{
		Logger:     logger,
		Rasterizer: rasterizer,
		Sessions:   session.NewManager(handle.NewRegistry(), cfg.Session.IdleTTL),
		Queue:      queueClient,
		JobStore:   jobStore,
		Tracer:     otel.Tracer("filezenith/api"),
		Tools:      cfg.Tools,
		PresignTTL: cfg.API.PresignTTL,

		LocalSourceRoot: cfg.Worker.LocalSourceRoot,
	}

	if objectStore := connectStorage(ctx, cfg.Storage, logger); objectStore != nil {
		opts.Storage = objectStore
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
		if err != nil {
			return err
		}
		opts.RateLimiter = limiter
	}

	app := api.NewServer(opts)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sweepEvery := cfg.Session.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	g.Go(func() error {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if closed := opts.Sessions.Sweep(); closed > 0 {
					logger.Printf("swept idle batches closed=%d live=%d", closed, opts.Sessions.Len())
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Printf("graceful shutdown failed: %v", err)
		}
		released := opts.Sessions.CloseAll()
		logger.Printf("closed batches=%d", released)
		return nil
	})

	return g.Wait()
}

// connectStorage returns nil when object storage is unreachable; the API
// then serves everything except presigned job uploads.
func connectStorage(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) *storage.Client {
	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   cfg.Bucket,
		UseSSL:   cfg.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage disabled err=%v", err)
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ectx); err != nil {
		logger.Printf("object storage disabled bucket=%s err=%v", cfg.Bucket, err)
		return nil
	}
	return client
}
