// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/config"
)

// PayloadStore holds relay payloads too large for a NOTIFY
// (events.Publisher).
type PayloadStore interface {
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// Service periodically deletes relay payloads older than the configured TTL.
// By then every listener has resolved its reference.
//
// The delete is idempotent and safe to run from multiple pods.
type Service struct {
	config   *config.TransportConfig
	payloads PayloadStore

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.TransportConfig, payloads PayloadStore) *Service {
	return &Service{
		config:   cfg,
		payloads: payloads,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"payload_ttl", s.config.PayloadTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.cleanupPayloads(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupPayloads(ctx)
		}
	}
}

func (s *Service) cleanupPayloads(ctx context.Context) {
	count, err := s.payloads.CleanupExpired(ctx, s.config.PayloadTTL)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Retention: relay payload cleanup failed", "error", err)
		}
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired relay payloads", "count", count)
	}
}
