/*
scheduler.go - Automated sweep scheduler

PURPOSE:
  Drives the three background actors on independent tickers:
  - Settlement timer: auto-captures unreviewed completed work
  - Expiry sweep: reaps unconfirmed bookings and resolves no-shows
  - Recurring generator: materializes due subscription bookings

DESIGN:
  - One goroutine per loop, each with its own interval
  - Every pass runs once immediately on Start
  - All passes are idempotent, so overlapping deploys or restarts are safe

CONFIGURATION:
  - SettlementInterval: default 15 minutes
  - ExpiryInterval:     default 10 minutes (no-shows need fast resolution)
  - RecurringInterval:  default 24 hours

USAGE:
  scheduler := NewSweepScheduler(settlement, expiry, recurring)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: manual sweep trigger endpoints
  - sweep/: the sweep implementations
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cleanslate/escrow-engine/sweep"
)

// SweepScheduler runs the background sweeps on their own tickers.
type SweepScheduler struct {
	Settlement *sweep.SettlementTimer
	Expiry     *sweep.ExpirySweep
	Recurring  *sweep.RecurringGenerator

	SettlementInterval time.Duration
	ExpiryInterval     time.Duration
	RecurringInterval  time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
}

// NewSweepScheduler creates a scheduler with default intervals.
func NewSweepScheduler(settlement *sweep.SettlementTimer, expiry *sweep.ExpirySweep, recurring *sweep.RecurringGenerator) *SweepScheduler {
	return &SweepScheduler{
		Settlement:         settlement,
		Expiry:             expiry,
		Recurring:          recurring,
		SettlementInterval: 15 * time.Minute,
		ExpiryInterval:     10 * time.Minute,
		RecurringInterval:  24 * time.Hour,
		stop:               make(chan struct{}),
	}
}

// Start begins all three loops.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loop("settlement", s.SettlementInterval, func(ctx context.Context) error {
		_, err := s.Settlement.Run(ctx)
		return err
	})
	s.loop("expiry", s.ExpiryInterval, func(ctx context.Context) error {
		_, err := s.Expiry.Run(ctx)
		return err
	})
	s.loop("recurring", s.RecurringInterval, func(ctx context.Context) error {
		_, err := s.Recurring.GenerateDueBookings(ctx)
		return err
	})

	log.Printf("[Scheduler] Started (settlement %v, expiry %v, recurring %v)",
		s.SettlementInterval, s.ExpiryInterval, s.RecurringInterval)
}

// Stop stops all loops and waits for in-flight passes to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *SweepScheduler) loop(name string, interval time.Duration, pass func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		run := func() {
			if err := pass(context.Background()); err != nil {
				log.Printf("[Scheduler] %s pass failed: %v", name, err)
			}
		}

		run()
		for {
			select {
			case <-ticker.C:
				run()
			case <-s.stop:
				return
			}
		}
	}()
}
