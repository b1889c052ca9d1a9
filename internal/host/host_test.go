package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arena-host/internal/arena"
	"arena-host/internal/shutdown"
)

type idleSim struct{}

func (idleSim) OnJoin(arena.PlayerID, bool) arena.Payload { return nil }

func (idleSim) OnLeave(arena.PlayerID) {}

func (idleSim) Advance(context.Context, []arena.Input) error { return nil }

func (idleSim) SnapshotDiff(_, _ arena.TickVersion, _ arena.PlayerID) arena.Payload { return nil }

func newHost(t *testing.T, maxArenas int) (*Host, *shutdown.State) {
	t.Helper()
	state := shutdown.NewState()
	h := New(state, zap.NewNop(), Options{MaxArenas: maxArenas})
	h.RegisterPlugin("idle", func(arena.Config) (arena.Simulation, error) { return idleSim{}, nil })
	require.NoError(t, h.AddKind(arena.Config{
		Kind:          "duel",
		Plugin:        "idle",
		TickInterval:  time.Hour,
		MaxPopulation: 2,
	}))
	t.Cleanup(func() {
		for _, a := range h.List() {
			a.ForceStop()
			<-a.Done()
		}
	})
	return h, state
}

func TestAddKindRequiresPlugin(t *testing.T) {
	h, _ := newHost(t, 0)
	err := h.AddKind(arena.Config{Kind: "chess", Plugin: "nope"})
	assert.ErrorIs(t, err, ErrUnknownPlugin)
	assert.Equal(t, []string{"duel"}, h.Kinds())
}

func TestWarmStartsMainArena(t *testing.T) {
	h, _ := newHost(t, 0)
	require.NoError(t, h.Warm())
	require.NoError(t, h.Warm())
	assert.Len(t, h.List(), 1)
}

func TestJoinFillsMainArenaThenOpensAnother(t *testing.T) {
	h, _ := newHost(t, 0)
	ctx := context.Background()

	a1, _, err := h.Join(ctx, "duel", arena.NewConnID())
	require.NoError(t, err)
	a2, _, err := h.Join(ctx, "duel", arena.NewConnID())
	require.NoError(t, err)
	assert.Equal(t, a1.ID(), a2.ID())

	a3, res, err := h.Join(ctx, "duel", arena.NewConnID())
	require.NoError(t, err)
	assert.NotEqual(t, a1.ID(), a3.ID())
	assert.Equal(t, arena.PlayerID(1), res.Player)

	sum := h.Summary()
	assert.Equal(t, 2, sum.Arenas)
	assert.Equal(t, 3, sum.Real)
	assert.Equal(t, 2, sum.Kinds["duel"])
}

func TestJoinUnknownKind(t *testing.T) {
	h, _ := newHost(t, 0)
	_, _, err := h.Join(context.Background(), "chess", arena.NewConnID())
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestArenaLimit(t *testing.T) {
	h, _ := newHost(t, 1)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _, err := h.Join(ctx, "duel", arena.NewConnID())
		require.NoError(t, err)
	}
	_, _, err := h.Join(ctx, "duel", arena.NewConnID())
	assert.ErrorIs(t, err, ErrHostFull)
}

func TestRoutingStopsWhenDraining(t *testing.T) {
	h, state := newHost(t, 0)
	require.NoError(t, h.Warm())
	state.Advance(shutdown.Draining)

	_, err := h.Route("duel")
	assert.ErrorIs(t, err, arena.ErrArenaDraining)
	_, err = h.Create("duel")
	assert.ErrorIs(t, err, arena.ErrArenaDraining)

	id := h.List()[0].ID()
	_, _, err = h.JoinArena(context.Background(), id, arena.NewConnID())
	assert.ErrorIs(t, err, arena.ErrArenaDraining)
}

func TestStoppedArenaIsForgotten(t *testing.T) {
	h, _ := newHost(t, 0)
	a, err := h.Create("duel")
	require.NoError(t, err)

	a.ForceStop()
	<-a.Done()

	require.Eventually(t, func() bool {
		_, ok := h.Get(a.ID())
		return !ok
	}, time.Second, 5*time.Millisecond)

	// A new main arena is started on demand.
	b, err := h.Route("duel")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestTargetsCoverEveryArena(t *testing.T) {
	h, state := newHost(t, 0)
	_, err := h.Create("duel")
	require.NoError(t, err)
	_, err = h.Create("duel")
	require.NoError(t, err)

	c := shutdown.NewController(state, h, time.Second, zap.NewNop())
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Len(t, c.Reports(), 2)
}
