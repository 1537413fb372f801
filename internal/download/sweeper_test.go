package download

import (
	"context"
	"sync"
	"testing"
	"time"
)

type signalingStaleStore struct {
	mu     sync.Mutex
	calls  int
	swept  chan struct{}
	cutoff time.Time
}

func (s *signalingStaleStore) FailStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	s.calls++
	s.cutoff = cutoff
	s.mu.Unlock()
	select {
	case s.swept <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestSweeperFailsStaleReservations(t *testing.T) {
	store := &signalingStaleStore{swept: make(chan struct{}, 1)}
	sweeper := NewSweeper(store, SweeperConfig{Interval: 10 * time.Millisecond, MaxAge: time.Hour}, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := sweeper.Shutdown(ctx); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}()

	select {
	case <-store.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}

	store.mu.Lock()
	cutoff := store.cutoff
	store.mu.Unlock()
	if time.Since(cutoff) < 55*time.Minute {
		t.Fatalf("cutoff should trail now by roughly MaxAge, got %v", cutoff)
	}
}

func TestSweeperShutdownIsIdempotent(t *testing.T) {
	store := &signalingStaleStore{swept: make(chan struct{}, 1)}
	sweeper := NewSweeper(store, SweeperConfig{Interval: time.Hour, MaxAge: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := sweeper.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := sweeper.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestSweeperStopsSweepingAfterShutdown(t *testing.T) {
	store := &signalingStaleStore{swept: make(chan struct{}, 1)}
	sweeper := NewSweeper(store, SweeperConfig{Interval: 10 * time.Millisecond, MaxAge: time.Hour}, nil)

	select {
	case <-store.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sweeper.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	store.mu.Lock()
	after := store.calls
	store.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	store.mu.Lock()
	final := store.calls
	store.mu.Unlock()
	if final != after {
		t.Fatalf("sweeps continued after shutdown: %d -> %d", after, final)
	}
}
