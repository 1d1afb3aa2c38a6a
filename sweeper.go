package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired passcodes are removed
const DefaultSweepInterval = time.Minute

// Sweeper periodically deletes expired ledger entries. Expired entries
// are also removed lazily when a verification touches them.
type Sweeper struct {
	ledger       Verifications
	interval     time.Duration
	now          Clock
	logger       Logger
	activitySink ActivitySink

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(ledger Verifications, interval time.Duration, logger Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		now:      defaultClock,
		logger:   logger,
	}
}

// WithClock overrides the time source
func (s *Sweeper) WithClock(now Clock) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Sweeper) WithActivitySink(sink ActivitySink) *Sweeper {
	s.activitySink = sink
	return s
}

// Sweep runs a single pass and returns the number of removed entries
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.ledger.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("ledger sweep failed", "error", err)
		return 0, err
	}

	if n > 0 {
		s.logger.Debug("ledger sweep removed expired passcodes", "count", n)
		recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
			EventType: ActivityEventLedgerSwept,
			Metadata:  map[string]any{"count": n},
		})
	}
	return n, nil
}

// Start runs Sweep every interval until ctx is done or Stop is called
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
