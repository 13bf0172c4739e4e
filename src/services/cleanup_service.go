package services

import (
	"context"
	"sync"
	"time"

	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/observability"
	"github.com/rs/zerolog"
)

// Sweeper is a table of expiring entries the cleanup service prunes
type Sweeper interface {
	Name() string
	Sweep(now time.Time) int
	Len() int
}

// CleanupService periodically removes expired rate window entries
type CleanupService struct {
	sweepers []Sweeper
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(interval time.Duration, sweepers ...Sweeper) *CleanupService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CleanupService{
		sweepers: sweepers,
		interval: interval,
		now:      time.Now,
		logger:   logging.NewLogger("cleanup"),
	}
}

// Start launches the sweep loop. It returns immediately; calling it while
// the loop is running does nothing.
func (cs *CleanupService) Start(ctx context.Context) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	cs.cancel = cancel
	cs.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				cs.logger.Info().Msg("cleanup service stopped")
				return
			case <-ticker.C:
				cs.RunOnce(cs.now())
			}
		}
	}()

	cs.logger.Info().Dur("interval", cs.interval).Int("tables", len(cs.sweepers)).Msg("cleanup service started")
}

// Stop ends the sweep loop and waits for it to exit
func (cs *CleanupService) Stop() {
	cs.mu.Lock()
	cancel, done := cs.cancel, cs.done
	cs.cancel, cs.done = nil, nil
	cs.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce sweeps every table and returns the removed count per table
func (cs *CleanupService) RunOnce(now time.Time) map[string]int {
	removed := make(map[string]int, len(cs.sweepers))
	for _, s := range cs.sweepers {
		n := s.Sweep(now)
		removed[s.Name()] += n

		observability.SweptEntriesTotal.WithLabelValues(s.Name()).Add(float64(n))
		observability.WindowEntries.WithLabelValues(s.Name()).Set(float64(s.Len()))
		if n > 0 {
			cs.logger.Debug().Str("table", s.Name()).Int("removed", n).Msg("swept expired entries")
		}
	}
	return removed
}
