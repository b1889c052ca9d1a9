package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

// fakeSim records every call the arena makes.
type fakeSim struct {
	mu       sync.Mutex
	joins    []PlayerID
	botJoins []PlayerID
	leaves   []PlayerID
	advances [][]Input
	closed   bool

	failOn  int           // 1-based Advance call that fails; 0 never
	block   chan struct{} // Advance waits on this when set
	panicOn int           // 1-based Advance call that panics
	decide  func(ctx context.Context, p PlayerID) (Payload, bool, error)
}

func (f *fakeSim) OnJoin(p PlayerID, bot bool) Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bot {
		f.botJoins = append(f.botJoins, p)
	} else {
		f.joins = append(f.joins, p)
	}
	return Payload(fmt.Sprintf("welcome %d", p))
}

func (f *fakeSim) OnLeave(p PlayerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, p)
}

func (f *fakeSim) Advance(ctx context.Context, inputs []Input) error {
	f.mu.Lock()
	f.advances = append(f.advances, append([]Input(nil), inputs...))
	n := len(f.advances)
	block := f.block
	f.mu.Unlock()

	if f.panicOn == n {
		panic("advance exploded")
	}
	if block != nil {
		<-block
	}
	if f.failOn == n {
		return errBoom
	}
	return nil
}

func (f *fakeSim) SnapshotDiff(from, to TickVersion, p PlayerID) Payload {
	return Payload(fmt.Sprintf("%d:%d->%d", p, from, to))
}

func (f *fakeSim) BotDecision(ctx context.Context, p PlayerID) (Payload, bool, error) {
	if f.decide == nil {
		return nil, false, nil
	}
	return f.decide(ctx, p)
}

func (f *fakeSim) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSim) lastAdvance() []Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.advances) == 0 {
		return nil
	}
	return f.advances[len(f.advances)-1]
}

func (f *fakeSim) allAdvances() [][]Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]Input(nil), f.advances...)
}

func (f *fakeSim) advanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.advances)
}

func (f *fakeSim) leftPlayers() []PlayerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PlayerID(nil), f.leaves...)
}

func (f *fakeSim) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordingPusher keeps everything the arena sends out.
type recordingPusher struct {
	mu         sync.Mutex
	deliveries []Delivery
	closures   []Closure
	reject     bool
}

func (r *recordingPusher) Push(d Delivery) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return false
	}
	r.deliveries = append(r.deliveries, d)
	return true
}

func (r *recordingPusher) Close(c Closure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closures = append(r.closures, c)
}

func (r *recordingPusher) sent() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

func (r *recordingPusher) closed() []Closure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Closure(nil), r.closures...)
}

// fakeClock is a settable time source for limbo tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	arena  *Arena
	ticker *ManualTicker
	pusher *recordingPusher
	sim    *fakeSim
}

func testConfig() Config {
	return Config{
		Kind:               "test",
		MaxPopulation:      8,
		AdvanceTimeout:     time.Second,
		BotDecisionTimeout: 50 * time.Millisecond,
	}
}

func startHarness(t *testing.T, cfg Config, sim *fakeSim, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		ticker: NewManualTicker(),
		pusher: &recordingPusher{},
		sim:    sim,
	}
	opts = append([]Option{
		WithLogger(zap.NewNop()),
		WithTickSource(h.ticker),
		WithPusher(h.pusher),
	}, opts...)

	a, err := Start(cfg, func(Config) (Simulation, error) { return sim, nil }, opts...)
	require.NoError(t, err)
	h.arena = a

	t.Cleanup(func() {
		a.ForceStop()
		waitDone(t, a)
	})
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.True(t, h.ticker.Fire(), "arena stopped before tick")
}

// stats syncs with the arena goroutine: everything queued before it has run.
func (h *harness) stats(t *testing.T) Stats {
	t.Helper()
	st, err := h.arena.Stats(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) join(t *testing.T) PlayerID {
	t.Helper()
	res, err := h.arena.Join(context.Background(), NewConnID())
	require.NoError(t, err)
	return res.Player
}

func waitDone(t *testing.T, a *Arena) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("arena did not stop")
	}
}
