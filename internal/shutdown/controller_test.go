package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arena-host/internal/arena"
)

type staticRegistry []Target

func (r staticRegistry) Targets() []Target { return r }

type nopSim struct{}

func (nopSim) OnJoin(arena.PlayerID, bool) arena.Payload { return nil }

func (nopSim) OnLeave(arena.PlayerID) {}

func (nopSim) Advance(context.Context, []arena.Input) error { return nil }

func (nopSim) SnapshotDiff(_, _ arena.TickVersion, _ arena.PlayerID) arena.Payload { return nil }

type closeRecorder struct {
	mu       sync.Mutex
	closures []arena.Closure
}

func (r *closeRecorder) Push(arena.Delivery) bool { return true }

func (r *closeRecorder) Close(c arena.Closure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closures = append(r.closures, c)
}

func (r *closeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closures)
}

func startArena(t *testing.T, p arena.Pusher) *arena.Arena {
	t.Helper()
	a, err := arena.Start(arena.Config{Kind: "test"},
		func(arena.Config) (arena.Simulation, error) { return nopSim{}, nil },
		arena.WithTickSource(arena.NewManualTicker()),
		arena.WithPusher(p))
	require.NoError(t, err)
	t.Cleanup(a.ForceStop)
	return a
}

// stuckArena never acknowledges a drain until it is force-stopped.
type stuckArena struct {
	id     arena.ID
	done   chan struct{}
	once   sync.Once
	forced bool
}

func newStuckArena() *stuckArena {
	return &stuckArena{id: arena.NewID(), done: make(chan struct{})}
}

func (s *stuckArena) ID() arena.ID { return s.id }

func (s *stuckArena) Drain(ctx context.Context) (arena.DrainReport, error) {
	<-ctx.Done()
	return arena.DrainReport{}, ctx.Err()
}

func (s *stuckArena) ForceStop() {
	s.once.Do(func() {
		s.forced = true
		close(s.done)
	})
}

func (s *stuckArena) Done() <-chan struct{} { return s.done }

func TestStateOnlyMovesForward(t *testing.T) {
	s := NewState()
	assert.Equal(t, Running, s.Phase())
	assert.True(t, s.Admitting())

	assert.True(t, s.Advance(Draining))
	assert.False(t, s.Advance(Draining))
	assert.False(t, s.Advance(Running))
	assert.False(t, s.Admitting())

	select {
	case <-s.DrainingC():
	default:
		t.Fatal("draining channel not closed")
	}

	assert.True(t, s.Advance(Stopped))
	assert.Equal(t, Stopped, s.Phase())
	<-s.StoppedC()
}

func TestStateSkipsStraightToStopped(t *testing.T) {
	s := NewState()
	require.True(t, s.Advance(Stopped))
	<-s.DrainingC()
	<-s.StoppedC()
}

func TestShutdownDrainsEveryArena(t *testing.T) {
	rec := &closeRecorder{}
	a1 := startArena(t, rec)
	a2 := startArena(t, rec)
	ctx := context.Background()
	_, err := a1.Join(ctx, arena.NewConnID())
	require.NoError(t, err)
	_, err = a2.Join(ctx, arena.NewConnID())
	require.NoError(t, err)

	state := NewState()
	c := NewController(state, staticRegistry{a1, a2}, time.Second, zap.NewNop())
	require.NoError(t, c.Shutdown(ctx))

	assert.Equal(t, Stopped, state.Phase())
	assert.Len(t, c.Reports(), 2)
	assert.Equal(t, 2, rec.count())

	for _, a := range []*arena.Arena{a1, a2} {
		<-a.Done()
		_, err := a.Join(ctx, arena.NewConnID())
		assert.ErrorIs(t, err, arena.ErrArenaDraining)
	}
}

func TestShutdownForceStopsLaggards(t *testing.T) {
	good := startArena(t, &closeRecorder{})
	stuck := newStuckArena()

	state := NewState()
	c := NewController(state, staticRegistry{good, stuck}, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, []arena.ID{stuck.ID()}, terr.Arenas)
	assert.Contains(t, terr.Error(), stuck.ID().String())
	assert.True(t, stuck.forced)
	assert.Equal(t, Stopped, state.Phase())
	<-good.Done()
}

func TestShutdownIsOnce(t *testing.T) {
	state := NewState()
	c := NewController(state, staticRegistry{newStuckArena()}, 10*time.Millisecond, zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Shutdown(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.Same(t, errs[0], err)
	}
}

func TestShutdownWithStoppedArena(t *testing.T) {
	a := startArena(t, &closeRecorder{})
	a.ForceStop()
	<-a.Done()

	c := NewController(NewState(), staticRegistry{a}, time.Second, zap.NewNop())
	assert.NoError(t, c.Shutdown(context.Background()))
}
