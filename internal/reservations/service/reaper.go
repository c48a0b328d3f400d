package service

import (
	"context"
	"sync"
	"time"

	"medslots/internal/slots"
	"medslots/pkg/logger"
	"medslots/pkg/metrics"
	"medslots/pkg/model"
)

// Expirer releases one lapsed lock and reports whether it moved the slot.
type Expirer interface {
	Expire(ctx context.Context, slot model.Slot) (bool, error)
}

type ReaperConfig struct {
	Interval  time.Duration
	BatchSize int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// SweepResult summarizes one pass over the lapsed locks.
type SweepResult struct {
	Scanned  int
	Released int
	Failed   int
}

// Reaper periodically releases locks whose lease has lapsed. Several
// reapers may run against the same store; a lost race is a no-op.
type Reaper struct {
	config  ReaperConfig
	store   slots.Store
	expirer Expirer
	log     *logger.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReaper(config ReaperConfig, store slots.Store, expirer Expirer, log *logger.Logger, mt *metrics.Metrics) *Reaper {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Reaper{
		config:  config,
		store:   store,
		expirer: expirer,
		log:     log.Component("reaper"),
		metrics: mt,
		clock:   config.Clock,
	}
}

// Start runs the sweep loop until ctx is done or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	defer close(doneCh)

	r.log.Info("Expiry reaper started", "interval", r.config.Interval, "batch_size", r.config.BatchSize)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Expiry reaper stopped by context")
			return
		case <-stopCh:
			r.log.Info("Expiry reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.mu.Unlock()

	<-doneCh
}

// Sweep releases every lock that lapsed at or before now, up to one batch.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	now := r.clock().UTC()

	expired, err := r.store.ExpiredLocks(ctx, now, r.config.BatchSize)
	if err != nil {
		r.log.Error("Failed to scan expired locks", "error", err)
		r.metrics.IncReaperSweep("error")
		return SweepResult{}
	}

	var result SweepResult
	result.Scanned = len(expired)
	for _, slot := range expired {
		if ctx.Err() != nil {
			break
		}
		moved, err := r.expirer.Expire(ctx, slot)
		if err != nil {
			result.Failed++
			r.log.Warn("Failed to expire lock",
				"slot", slot.Key().String(),
				"appointment_id", slot.AppointmentID,
				"error", err,
			)
			continue
		}
		if moved {
			result.Released++
		}
	}

	outcome := "ok"
	if result.Failed > 0 {
		outcome = "partial"
	}
	r.metrics.IncReaperSweep(outcome)
	if result.Scanned > 0 {
		r.log.Info("Expiry sweep finished",
			"scanned", result.Scanned,
			"released", result.Released,
			"failed", result.Failed,
		)
	}
	return result
}
