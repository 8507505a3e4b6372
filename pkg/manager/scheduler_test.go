package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakePersistence counts calls and lets tests block SaveBotState to simulate
// a slow cycle for overlap-skip assertions.
type fakePersistence struct {
	noopPersistenceService

	mu           sync.Mutex
	saveCalls    int
	lastState    BotState
	loadState    *BotState
	blockOnSave  <-chan struct{}
	savedAtLeast chan struct{}
	onceClose    sync.Once
}

func (f *fakePersistence) LoadBotState(ctx context.Context) (*BotState, error) {
	if f.loadState != nil {
		return f.loadState, nil
	}
	return &BotState{}, nil
}

func (f *fakePersistence) SaveBotState(ctx context.Context, state BotState) error {
	if f.blockOnSave != nil {
		<-f.blockOnSave
	}
	f.mu.Lock()
	f.saveCalls++
	f.lastState = state
	f.mu.Unlock()
	if f.savedAtLeast != nil {
		f.onceClose.Do(func() { close(f.savedAtLeast) })
	}
	return nil
}

func (f *fakePersistence) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

func TestRunTradingLoop_ResumesBotStateCycleCount(t *testing.T) {
	fp := &fakePersistence{loadState: &BotState{CycleCount: 41}, savedAtLeast: make(chan struct{})}
	m := NewManager(&Config{}, nil, nil, nil, fp)
	m.cyclePeriod = 10 * time.Millisecond
	m.shutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunTradingLoop(ctx) }()

	select {
	case <-fp.savedAtLeast:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first SaveBotState call")
	}
	cancel()
	<-done

	fp.mu.Lock()
	got := fp.lastState.CycleCount
	fp.mu.Unlock()
	if got != 42 {
		t.Fatalf("expected resumed cycle count to continue from 41, got %d", got)
	}
}

func TestRunTradingLoop_OverlapSkip(t *testing.T) {
	block := make(chan struct{})
	fp := &fakePersistence{blockOnSave: block, savedAtLeast: make(chan struct{})}
	m := NewManager(&Config{}, nil, nil, nil, fp)
	m.cyclePeriod = 5 * time.Millisecond
	m.shutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunTradingLoop(ctx) }()

	// Let several ticks fire while the first cycle is stuck in SaveBotState.
	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&m.cycleInFlight) != 1 {
		t.Fatal("expected a cycle to be in flight")
	}
	if got := fp.calls(); got != 0 {
		t.Fatalf("expected no completed saves yet, got %d", got)
	}
	close(block)

	select {
	case <-fp.savedAtLeast:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the blocked cycle to finish")
	}
	cancel()
	<-done

	// Overlap-skip means ticks during the stuck cycle were dropped, not queued:
	// only the one unblocked cycle (plus possibly one more before cancel) should
	// have completed, never one per tick that fired during the block.
	if got := fp.calls(); got > 2 {
		t.Fatalf("expected overlap-skip to bound completed cycles, got %d", got)
	}
}
