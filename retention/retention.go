// Package retention purges terminal batches past their keep window. The
// sweeper runs on a cron schedule and deletes batches (and, through the
// store, their items) whose completion is older than the TTL. Blobs are
// keyed by item ID and become unreachable once the rows are gone.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// DefaultSchedule runs the sweep hourly.
const DefaultSchedule = "@every 1h"

// cronParser supports standard 5-field cron and descriptors like
// "@every 30m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Sweeper periodically purges terminal batches older than the TTL.
type Sweeper struct {
	store    batch.Store
	ttl      time.Duration
	schedule cronlib.Schedule
	logger   *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a sweeper. scheduleExpr is a cron expression or a
// descriptor like "@every 30m"; ttl must be positive.
func New(store batch.Store, ttl time.Duration, scheduleExpr string, logger *slog.Logger) (*Sweeper, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("retention: ttl must be positive, got %v", ttl)
	}
	schedule, err := cronParser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("retention: parse schedule %q: %w", scheduleExpr, err)
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		schedule: schedule,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop shuts down the sweep loop.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.SweepOnce(context.Background()); err != nil {
				s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SweepOnce purges everything currently past the TTL and returns the
// number of batches removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.ttl)
	purged, err := s.store.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("retention sweep purged batches",
			slog.Int64("purged", purged),
			slog.Time("cutoff", cutoff),
		)
	}
	return purged, nil
}
