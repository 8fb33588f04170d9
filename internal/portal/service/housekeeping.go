package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/youmatter/portal/internal/portal/store"
)

// HousekeepingService periodically clears expired sessions and challenges
// from the database and prunes the in-memory limiter and guard state.
type HousekeepingService struct {
	Store    store.Store
	Resets   *PasswordResetService
	Limiter  *LoginLimiter
	Guard    *ComplaintGuard
	Logger   *slog.Logger
	Interval time.Duration

	Now func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 15 minutes.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *HousekeepingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Start begins the background worker. Non-blocking; call Stop() to shut it
// down gracefully.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts down the background worker, blocking until any in-progress
// sweep finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run a sweep immediately on startup
	s.Sweep()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep removes expired records. Each cleanup is independent; a failure in
// one does not stop the others.
func (s *HousekeepingService) Sweep() {
	ctx := context.Background()
	now := s.now()

	if err := s.Store.Sessions().DeleteExpiredSessions(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired sessions", "error", err)
	}
	if err := s.Store.Challenges().DeleteExpiredChallenges(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired challenges", "error", err)
	}

	if s.Resets != nil {
		s.Resets.Sweep()
	}
	if s.Limiter != nil {
		s.Limiter.Sweep()
	}
	if s.Guard != nil {
		s.Guard.Sweep()
	}

	s.Logger.Debug("housekeeping sweep completed")
}
