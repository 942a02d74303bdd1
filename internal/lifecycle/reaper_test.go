package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"backend-virelia/internal/location"
)

type fakeStore struct {
	sessions []location.Session
	batches  [][]location.Session // when set, one batch per lookup
	staleErr error

	lookups       int
	deactivateErr map[string]error
	deactivated   []string
	calls         chan string
}

func (f *fakeStore) FindActiveStale(context.Context, time.Duration, int) ([]location.Session, error) {
	if f.calls != nil {
		f.calls <- "find"
	}
	f.lookups++
	if f.batches != nil {
		if len(f.batches) == 0 {
			return nil, f.staleErr
		}
		batch := f.batches[0]
		f.batches = f.batches[1:]
		return batch, f.staleErr
	}
	return f.sessions, f.staleErr
}

func (f *fakeStore) Deactivate(_ context.Context, sessionID string) error {
	if err := f.deactivateErr[sessionID]; err != nil {
		return err
	}
	f.deactivated = append(f.deactivated, sessionID)
	return nil
}

func session(id string, idle time.Duration, autoStop bool, autoStopMinutes int) location.Session {
	return location.Session{
		ID:              id,
		IsActive:        true,
		LastActivity:    time.Now().Add(-idle),
		AutoStopEnabled: autoStop,
		AutoStopMinutes: autoStopMinutes,
	}
}

func TestSweepAutoStopsIdleSessions(t *testing.T) {
	store := &fakeStore{sessions: []location.Session{
		session("expired", 90*time.Minute, true, 60),
		session("still-fresh", 30*time.Minute, true, 60),
		session("no-auto-stop", 90*time.Minute, false, 0),
	}}

	reaped, err := NewReaper(store, time.Minute, 24*time.Hour).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 1 || len(store.deactivated) != 1 || store.deactivated[0] != "expired" {
		t.Fatalf("expected only the expired session reaped, got %v", store.deactivated)
	}
}

func TestSweepOrphanNetIgnoresAutoStopSettings(t *testing.T) {
	store := &fakeStore{sessions: []location.Session{
		session("orphan", 25*time.Hour, false, 0),
		session("long-but-allowed", 23*time.Hour, false, 0),
	}}

	reaped, err := NewReaper(store, time.Minute, 24*time.Hour).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 1 || store.deactivated[0] != "orphan" {
		t.Fatalf("expected only the orphan reaped, got %v", store.deactivated)
	}
}

func TestSweepPropagatesStoreError(t *testing.T) {
	store := &fakeStore{staleErr: errors.New("db down")}

	if _, err := NewReaper(store, time.Minute, 24*time.Hour).Sweep(context.Background()); err == nil {
		t.Fatal("expected error from failed lookup")
	}
}

func TestSweepSkipsFailedDeactivations(t *testing.T) {
	store := &fakeStore{
		sessions: []location.Session{
			session("bad-row", 90*time.Minute, true, 60),
			session("good-row", 90*time.Minute, true, 60),
		},
		deactivateErr: map[string]error{"bad-row": errors.New("locked")},
	}

	reaped, err := NewReaper(store, time.Minute, 24*time.Hour).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 1 || store.deactivated[0] != "good-row" {
		t.Fatalf("expected the good row reaped despite the bad one, got %v", store.deactivated)
	}
}

func TestSweepDrainsBackloggedBatches(t *testing.T) {
	full := make([]location.Session, sweepBatchSize)
	for i := range full {
		full[i] = session(fmt.Sprintf("expired-%d", i), 90*time.Minute, true, 60)
	}
	store := &fakeStore{batches: [][]location.Session{
		full,
		{session("straggler", 90*time.Minute, true, 60)},
	}}

	reaped, err := NewReaper(store, time.Minute, 24*time.Hour).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != sweepBatchSize+1 {
		t.Fatalf("expected the whole backlog reaped in one sweep, got %d", reaped)
	}
	if store.lookups != 2 {
		t.Fatalf("expected two lookups, got %d", store.lookups)
	}
}

func TestSweepStopsWhenBatchMakesNoProgress(t *testing.T) {
	full := make([]location.Session, sweepBatchSize)
	errs := map[string]error{}
	for i := range full {
		id := fmt.Sprintf("stuck-%d", i)
		full[i] = session(id, 90*time.Minute, true, 60)
		errs[id] = errors.New("locked")
	}
	store := &fakeStore{
		batches:       [][]location.Session{full, full},
		deactivateErr: errs,
	}

	reaped, err := NewReaper(store, time.Minute, 24*time.Hour).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 0 {
		t.Fatalf("expected nothing reaped, got %d", reaped)
	}
	if store.lookups != 1 {
		t.Fatalf("expected the sweep to stop after a batch with no progress, got %d lookups", store.lookups)
	}
}

func TestReaperDefaults(t *testing.T) {
	r := NewReaper(&fakeStore{}, 0, 0)
	if r.interval != defaultInterval || r.orphanAfter != defaultOrphan {
		t.Fatalf("unexpected defaults: %v %v", r.interval, r.orphanAfter)
	}
}

func TestRunSweepsImmediatelyAndOnTicks(t *testing.T) {
	store := &fakeStore{calls: make(chan string, 8)}
	r := NewReaper(store, 10*time.Millisecond, 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-store.calls:
		case <-time.After(2 * time.Second):
			t.Fatal("sweep never ran")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on context cancel")
	}
}
