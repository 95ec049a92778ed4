// Package control assembles the application: storage, the fetch access
// core, the admission queue and the pipeline, plus the HTTP surface the
// CLI and operators talk to.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/curator/internal/admission"
	"github.com/vietddude/curator/internal/core/config"
	"github.com/vietddude/curator/internal/infra/fetch"
	"github.com/vietddude/curator/internal/infra/fetch/credential"
	"github.com/vietddude/curator/internal/infra/fetch/identity"
	"github.com/vietddude/curator/internal/infra/fetch/ratelimit"
	"github.com/vietddude/curator/internal/infra/fetch/retry"
	redisclient "github.com/vietddude/curator/internal/infra/redis"
	"github.com/vietddude/curator/internal/infra/storage"
	"github.com/vietddude/curator/internal/infra/storage/memory"
	"github.com/vietddude/curator/internal/infra/storage/postgres"
	"github.com/vietddude/curator/internal/pipeline"
	"github.com/vietddude/curator/internal/pipeline/metrics"
)

// Service is the assembled application.
type Service struct {
	cfg         config.AppConfig
	fetcher     *fetch.Fetcher
	pipe        *pipeline.Pipeline
	queue       *admission.Queue
	repo        storage.ItemRepository
	db          *postgres.DB
	redisClient *redisclient.Client
	failedRepo  *redisclient.FailedFetchRepo
	server      *Server
	log         *slog.Logger
}

// NewService creates a Service with all dependencies initialized.
func NewService(cfg config.AppConfig) (*Service, error) {

	// 1. Initialize Storage
	var repo storage.ItemRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		repo = postgres.NewItemRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		repo = memory.NewItemRepo()
		slog.Info("Using Memory storage")
	}

	// 2. Initialize the access core
	pool := credential.NewPool(cfg.Source.BlockAfterFailures)
	limiter := ratelimit.NewLimiter(cfg.Source.Rate.Calls, cfg.Source.Rate.Period)
	policy := retry.NewPolicy(
		cfg.Source.Retry.MaxAttempts,
		cfg.Source.Retry.BaseDelay,
		cfg.Source.Retry.BackoffMultiple,
		cfg.Source.Retry.MaxDelay,
	)
	rotator := identity.NewRotator()

	runner := fetch.NewYtdlpRunner()
	if cfg.Source.YtdlpPath != "" {
		runner.Path = cfg.Source.YtdlpPath
	}
	if cfg.Source.FetchTimeout > 0 {
		runner.Timeout = cfg.Source.FetchTimeout
	}
	if version, err := runner.CheckInstalled(context.Background()); err != nil {
		slog.Warn("Downloader binary not found, fetches will fail", "error", err)
	} else {
		slog.Info("Downloader detected", "version", version)
	}

	fetcher := fetch.NewFetcher(
		fetch.Config{
			CookiesDir: cfg.Source.CookiesDir,
			RatePeriod: cfg.Source.Rate.Period,
		},
		limiter, policy, pool, rotator, runner,
	)
	if n, err := fetcher.LoadCookies(); err != nil {
		slog.Warn("Failed to load cookies", "error", err)
	} else {
		slog.Info("Loaded credential files", "count", n)
	}

	// 3. Initialize Redis (optional)
	var redisClient *redisclient.Client
	var failedRepo *redisclient.FailedFetchRepo
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, failed-fetch requeue disabled", "error", err)
		} else {
			failedRepo = redisclient.NewFailedFetchRepo(redisClient)
		}
	}

	// 4. Admission queue and category runners
	queue := admission.NewQueue()
	runners := make(map[string]pipeline.TaskRunner, len(cfg.Categories))
	for _, cat := range cfg.Categories {
		runners[cat.Name] = &pipeline.ExecRunner{Command: cat.Command}
	}

	// A nil *FailedFetchRepo must stay a nil interface inside the
	// pipeline, so only assign when Redis actually connected.
	var spill pipeline.FailedFetchQueue
	if failedRepo != nil {
		spill = failedRepo
	}

	pipe := pipeline.NewPipeline(
		pipeline.Config{MediaDir: cfg.Library.MediaDir},
		fetcher, repo, queue, runners, spill,
	)

	s := &Service{
		cfg:         cfg,
		fetcher:     fetcher,
		pipe:        pipe,
		queue:       queue,
		repo:        repo,
		db:          db,
		redisClient: redisClient,
		failedRepo:  failedRepo,
		log:         slog.Default(),
	}
	s.server = NewServer(s, cfg.Server.Port)
	return s, nil
}

// Start starts the service and all its components.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.server.Start(); err != nil {
			s.log.Error("HTTP server failed", "error", err)
		}
	}()

	go func() {
		if err := s.pipe.Run(ctx); err != nil {
			s.log.Error("Pipeline failed", "error", err)
		}
	}()

	go s.runMetricsUpdater(ctx)

	s.log.Info("Service started", "port", s.cfg.Server.Port)
	return nil
}

// Stop stops the service.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.server.Stop(ctx)
}

func (s *Service) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			blocked := 0
			for _, r := range s.fetcher.Pool().Reports() {
				metrics.CredentialHealth.WithLabelValues(r.ID).Set(r.HealthScore)
				if r.Blocked {
					blocked++
				}
			}
			metrics.CredentialsBlocked.Set(float64(blocked))
		}
	}
}
