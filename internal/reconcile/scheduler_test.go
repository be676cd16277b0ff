package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reviewflow/api/internal/lifecycle"
)

type fakeEngine struct {
	mu      sync.Mutex
	ids     []uint64
	failing map[uint64]bool
	changed map[uint64]bool
	visited []uint64
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeEngine) OpenProjectIDs(context.Context) ([]uint64, error) {
	return f.ids, nil
}

func (f *fakeEngine) ReconcileProject(_ context.Context, id uint64) (lifecycle.Outcome, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.visited = append(f.visited, id)
	f.mu.Unlock()
	if f.failing[id] {
		return lifecycle.Outcome{}, errors.New("gateway down")
	}
	return lifecycle.Outcome{ProjectID: id, Changed: f.changed[id]}, nil
}

func (f *fakeEngine) visitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

type fixedInterval time.Duration

func (d fixedInterval) ReconcileInterval() time.Duration { return time.Duration(d) }

func TestTickIsolatesFailures(t *testing.T) {
	engine := &fakeEngine{
		ids:     []uint64{1, 2, 3},
		failing: map[uint64]bool{2: true},
		changed: map[uint64]bool{3: true},
	}
	s := NewScheduler(engine, fixedInterval(time.Hour), nil)

	summary, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if summary != (Summary{Visited: 3, Changed: 1, Failed: 1}) {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(engine.visited) != 3 || engine.visited[2] != 3 {
		t.Fatalf("expected every project visited in order, got %v", engine.visited)
	}
}

func TestTickRefusesOverlap(t *testing.T) {
	engine := &fakeEngine{
		ids:     []uint64{1},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := NewScheduler(engine, fixedInterval(time.Hour), nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.Tick(context.Background())
		done <- err
	}()
	<-engine.entered

	if _, err := s.Tick(context.Background()); !errors.Is(err, ErrTickInFlight) {
		t.Fatalf("expected ErrTickInFlight, got %v", err)
	}
	close(engine.block)
	if err := <-done; err != nil {
		t.Fatalf("first tick: %v", err)
	}
	engine.entered = nil
	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("expected tick to run once the previous one finished, got %v", err)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	engine := &fakeEngine{ids: []uint64{7}}
	s := NewScheduler(engine, fixedInterval(5*time.Millisecond), nil)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	deadline := time.After(2 * time.Second)
	for engine.visitCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type switchableInterval struct {
	mu sync.Mutex
	d  time.Duration
}

func (s *switchableInterval) ReconcileInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d
}

func (s *switchableInterval) set(d time.Duration) {
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
}

func TestRunPicksUpIntervalChanges(t *testing.T) {
	engine := &fakeEngine{ids: []uint64{7}}
	interval := &switchableInterval{d: 5 * time.Millisecond}
	s := NewScheduler(engine, interval, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for engine.visitCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not tick")
		case <-time.After(2 * time.Millisecond):
		}
	}
	interval.set(time.Hour)
	// One more tick may already be queued before the reset lands.
	time.Sleep(50 * time.Millisecond)
	settled := engine.visitCount()
	time.Sleep(100 * time.Millisecond)
	if got := engine.visitCount(); got != settled {
		t.Fatalf("scheduler kept ticking after the interval grew: %d -> %d visits", settled, got)
	}
}
