package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/curator/internal/control"
	"github.com/vietddude/curator/internal/core/config"
)

func TestGracefulShutdown(t *testing.T) {
	// Memory storage, no Redis, nothing to fetch; just enough to start
	// every component.
	cfg := config.AppConfig{
		Server: config.ServerConfig{Port: 18099},
		Source: config.SourceConfig{
			Rate:               config.RateConfig{Calls: 1, Period: 2 * time.Second},
			Retry:              config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Second, BackoffMultiple: 2, MaxDelay: 10 * time.Second},
			BlockAfterFailures: 3,
		},
		Categories: []config.CategoryConfig{
			{Name: "transcribe", Command: []string{"true"}},
		},
	}

	svc, err := control.NewService(cfg)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let it run for a bit
	time.Sleep(500 * time.Millisecond)

	// Trigger shutdown
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := svc.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
