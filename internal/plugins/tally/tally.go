// Package tally is a small deterministic game used to exercise the arena
// engine end to end: every player adds to a shared counter and the highest
// personal score leads.
package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"arena-host/internal/arena"
	"arena-host/internal/scripting"
)

// historySize is how many ticks of change sets are kept for diffs.
// Clients further behind get a full snapshot.
const historySize = 64

const defaultMaxAdd = 10

// Input is the payload players send.
type Input struct {
	Add int64 `json:"add"`
}

// Snapshot is sent for a first sync or when a client fell too far behind.
type Snapshot struct {
	Version uint64           `json:"version"`
	Full    bool             `json:"full"`
	From    uint64           `json:"from,omitempty"`
	Total   int64            `json:"total"`
	Scores  map[string]int64 `json:"scores"`
	Left    []uint32         `json:"left,omitempty"`
	You     int64            `json:"you"`
}

// Welcome is returned from OnJoin.
type Welcome struct {
	Player uint32 `json:"player"`
	Bot    bool   `json:"bot"`
	Total  int64  `json:"total"`
}

type change struct {
	version arena.TickVersion
	touched map[arena.PlayerID]struct{}
	left    []arena.PlayerID
}

// Game is one tally arena's state.
type Game struct {
	log     *zap.Logger
	brain   *scripting.Engine
	rng     *rand.Rand
	maxAdd  int64

	// mu guards the game state against an abandoned BotDecision.
	mu      sync.Mutex
	version arena.TickVersion

	total   int64
	scores  map[arena.PlayerID]int64
	history []change
	// changes since the last Advance, folded into history when it completes
	touched map[arena.PlayerID]struct{}
	left    []arena.PlayerID
}

// Factory builds tally games. Recognised options: script (path to a Lua bot
// brain), max_add, seed.
func Factory(log *zap.Logger) arena.Factory {
	return func(cfg arena.Config) (arena.Simulation, error) {
		return New(cfg, log)
	}
}

// New creates a game from the kind's options.
func New(cfg arena.Config, log *zap.Logger) (*Game, error) {
	g := &Game{
		log:     log,
		maxAdd:  defaultMaxAdd,
		rng:     rand.New(rand.NewSource(1)),
		scores:  make(map[arena.PlayerID]int64),
		touched: make(map[arena.PlayerID]struct{}),
	}
	if v, ok := cfg.Options["max_add"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("tally: invalid max_add %q", v)
		}
		g.maxAdd = n
	}
	if v, ok := cfg.Options["seed"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tally: invalid seed %q", v)
		}
		g.rng = rand.New(rand.NewSource(n))
	}
	if path := cfg.Options["script"]; path != "" {
		brain := scripting.NewEngine(log)
		if err := brain.Load(path); err != nil {
			brain.Close()
			return nil, fmt.Errorf("tally: %w", err)
		}
		g.brain = brain
	}
	return g, nil
}

func (g *Game) OnJoin(player arena.PlayerID, bot bool) arena.Payload {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scores[player] = 0
	g.touched[player] = struct{}{}
	return encode(Welcome{Player: uint32(player), Bot: bot, Total: g.total})
}

func (g *Game) OnLeave(player arena.PlayerID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.scores[player]; !ok {
		return
	}
	delete(g.scores, player)
	delete(g.touched, player)
	g.left = append(g.left, player)
}

// Advance applies every input in order. Malformed inputs are skipped and
// amounts are clamped to max_add.
func (g *Game) Advance(ctx context.Context, inputs []arena.Input) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, in := range inputs {
		if _, ok := g.scores[in.Player]; !ok {
			continue
		}
		var msg Input
		if err := json.Unmarshal(in.Payload, &msg); err != nil {
			g.log.Debug("tally: bad input", zap.Uint32("player", uint32(in.Player)), zap.Error(err))
			continue
		}
		add := clamp(msg.Add, -g.maxAdd, g.maxAdd)
		if add == 0 {
			continue
		}
		g.scores[in.Player] += add
		g.total += add
		g.touched[in.Player] = struct{}{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.version++
	g.history = append(g.history, change{version: g.version, touched: g.touched, left: g.left})
	if len(g.history) > historySize {
		g.history = g.history[len(g.history)-historySize:]
	}
	g.touched = make(map[arena.PlayerID]struct{})
	g.left = nil
	return nil
}

// SnapshotDiff returns what changed in (from, to]. It never mutates the game.
func (g *Game) SnapshotDiff(from, to arena.TickVersion, player arena.PlayerID) arena.Payload {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := Snapshot{
		Version: uint64(to),
		Total:   g.total,
		You:     g.scores[player],
		Scores:  make(map[string]int64),
	}
	if from == 0 || len(g.history) == 0 || g.history[0].version > from+1 {
		snap.Full = true
		for p, s := range g.scores {
			snap.Scores[p.String()] = s
		}
		return encode(snap)
	}

	snap.From = uint64(from)
	for _, c := range g.history {
		if c.version <= from || c.version > to {
			continue
		}
		for p := range c.touched {
			if s, ok := g.scores[p]; ok {
				snap.Scores[p.String()] = s
			}
		}
		for _, p := range c.left {
			snap.Left = append(snap.Left, uint32(p))
		}
	}
	return encode(snap)
}

// BotDecision asks the Lua brain when one is loaded, otherwise adds a small
// random amount.
func (g *Game) BotDecision(ctx context.Context, player arena.PlayerID) (arena.Payload, bool, error) {
	if g.brain == nil || !g.brain.HasDecide() {
		return encode(Input{Add: 1 + g.rng.Int63n(3)}), true, nil
	}
	g.mu.Lock()
	view := scripting.View{
		Player: uint32(player),
		Tick:   uint64(g.version),
		Fields: map[string]float64{
			"total":   float64(g.total),
			"score":   float64(g.scores[player]),
			"players": float64(len(g.scores)),
		},
	}
	g.mu.Unlock()

	v, ok, err := g.brain.Decide(ctx, view)
	if err != nil || !ok {
		return nil, false, err
	}
	return encode(Input{Add: int64(v)}), true, nil
}

// Close releases the Lua VM.
func (g *Game) Close() error {
	if g.brain != nil {
		g.brain.Close()
	}
	return nil
}

// Total is the shared counter.
func (g *Game) Total() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}

// Score returns one player's score.
func (g *Game) Score(player arena.PlayerID) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scores[player]
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func encode(v any) arena.Payload {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
