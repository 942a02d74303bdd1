// Package lifecycle drives session state: active sessions go inactive on
// explicit stop (handled at the REST layer) or when the periodic reaping
// sweep finds them idle past their auto-stop window. A 24-hour safety net
// catches sessions orphaned by crashed clients regardless of settings.
package lifecycle

import (
	"context"
	"log"
	"time"

	"backend-virelia/internal/location"
)

const (
	defaultInterval = 5 * time.Minute
	defaultOrphan   = 24 * time.Hour
	sweepBatchSize  = 100
)

// Store is the slice of the session store the reaper needs.
// FindActiveStale returns only sessions already meeting a stop condition
// (orphaned past the cutoff, or past their own auto-stop window).
type Store interface {
	FindActiveStale(ctx context.Context, orphanAfter time.Duration, limit int) ([]location.Session, error)
	Deactivate(ctx context.Context, sessionID string) error
}

type Reaper struct {
	store       Store
	interval    time.Duration
	orphanAfter time.Duration
	now         func() time.Time
}

func NewReaper(store Store, interval, orphanAfter time.Duration) *Reaper {
	if interval <= 0 {
		interval = defaultInterval
	}
	if orphanAfter <= 0 {
		orphanAfter = defaultOrphan
	}
	return &Reaper{
		store:       store,
		interval:    interval,
		orphanAfter: orphanAfter,
		now:         time.Now,
	}
}

// Run sweeps immediately, then on every tick until the context is
// cancelled. A failed sweep logs and waits for the next tick; a missed
// sweep is self-correcting since the stale condition persists.
func (r *Reaper) Run(ctx context.Context) {
	r.runSweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runSweep(ctx)
		}
	}
}

func (r *Reaper) runSweep(ctx context.Context) {
	reaped, err := r.Sweep(ctx)
	if err != nil {
		log.Printf("lifecycle sweep error: %v", err)
		return
	}
	if reaped > 0 {
		log.Printf("lifecycle sweep deactivated %d sessions", reaped)
	}
}

// Sweep deactivates expired sessions in batches until the store runs out of
// candidates, and reports how many it flipped. Per-session failures are
// logged and skipped so one bad row cannot stall the rest of the batch; a
// batch that flips nothing ends the sweep so failed rows cannot loop it
// forever.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	reaped := 0
	for {
		sessions, err := r.store.FindActiveStale(ctx, r.orphanAfter, sweepBatchSize)
		if err != nil {
			return reaped, err
		}

		flipped := 0
		now := r.now()
		for _, sess := range sessions {
			if !r.shouldStop(sess, now) {
				continue
			}
			if err := r.store.Deactivate(ctx, sess.ID); err != nil {
				log.Printf("deactivate session %s: %v", sess.ID, err)
				continue
			}
			flipped++
		}
		reaped += flipped

		if len(sessions) < sweepBatchSize || flipped == 0 {
			return reaped, nil
		}
	}
}

func (r *Reaper) shouldStop(sess location.Session, now time.Time) bool {
	idle := now.Sub(sess.LastActivity)
	if idle >= r.orphanAfter {
		return true
	}
	return sess.AutoStopEnabled && idle >= time.Duration(sess.AutoStopMinutes)*time.Minute
}
