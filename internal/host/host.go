// Package host keeps the set of live arenas and routes new connections to
// them. It is gateway-side bookkeeping only; arena state stays inside each
// arena's goroutine.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"arena-host/internal/arena"
	"arena-host/internal/shutdown"
)

var (
	ErrUnknownKind   = errors.New("unknown arena kind")
	ErrUnknownPlugin = errors.New("unknown simulation plugin")
	ErrUnknownArena  = errors.New("unknown arena")
	ErrHostFull      = errors.New("arena limit reached")
)

// joinAttempts bounds how often Join retries when an arena fills up between
// routing and joining.
const joinAttempts = 3

// Options are the host-wide settings.
type Options struct {
	MaxArenas int // 0 means unlimited

	// ArenaOptions are passed to every arena.Start (pusher, trace, logger).
	ArenaOptions []arena.Option
}

// Host owns the arena registry. Each kind has a main arena that routing
// prefers; more arenas of a kind are started when the existing ones are full.
type Host struct {
	state *shutdown.State
	log   *zap.Logger
	opts  Options

	mu      sync.Mutex
	plugins map[string]arena.Factory
	kinds   map[string]arena.Config
	arenas  map[arena.ID]*arena.Arena
	order   []arena.ID // creation order
	main    map[string]arena.ID
}

func New(state *shutdown.State, log *zap.Logger, opts Options) *Host {
	return &Host{
		state:   state,
		log:     log,
		opts:    opts,
		plugins: make(map[string]arena.Factory),
		kinds:   make(map[string]arena.Config),
		arenas:  make(map[arena.ID]*arena.Arena),
		main:    make(map[string]arena.ID),
	}
}

// RegisterPlugin makes a simulation factory available to kinds by name.
func (h *Host) RegisterPlugin(name string, f arena.Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plugins[name] = f
}

// AddKind registers an arena kind. Its plugin must already be registered.
func (h *Host) AddKind(cfg arena.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("kind %q: %w", cfg.Kind, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.plugins[cfg.Plugin]; !ok {
		return fmt.Errorf("kind %q: %w: %s", cfg.Kind, ErrUnknownPlugin, cfg.Plugin)
	}
	h.kinds[cfg.Kind] = cfg
	return nil
}

// Kinds lists the registered kinds in name order.
func (h *Host) Kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.kinds))
	for k := range h.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Warm starts the main arena of every kind that does not have one.
func (h *Host) Warm() error {
	for _, kind := range h.Kinds() {
		h.mu.Lock()
		_, ok := h.main[kind]
		h.mu.Unlock()
		if ok {
			continue
		}
		if _, err := h.Create(kind); err != nil {
			return err
		}
	}
	return nil
}

// Create starts a new arena of the given kind.
func (h *Host) Create(kind string) (*arena.Arena, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.createLocked(kind)
}

func (h *Host) createLocked(kind string) (*arena.Arena, error) {
	if !h.state.Admitting() {
		return nil, fmt.Errorf("create %s arena: %w", kind, arena.ErrArenaDraining)
	}
	cfg, ok := h.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if h.opts.MaxArenas > 0 && len(h.arenas) >= h.opts.MaxArenas {
		return nil, ErrHostFull
	}
	factory := h.plugins[cfg.Plugin]

	opts := append([]arena.Option{arena.WithLogger(h.log)}, h.opts.ArenaOptions...)
	a, err := arena.Start(cfg, factory, opts...)
	if err != nil {
		return nil, err
	}
	h.arenas[a.ID()] = a
	h.order = append(h.order, a.ID())
	if _, ok := h.main[kind]; !ok {
		h.main[kind] = a.ID()
	}
	go h.watch(a)
	return a, nil
}

// watch forgets the arena once it stops.
func (h *Host) watch(a *arena.Arena) {
	<-a.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.arenas, a.ID())
	for i, id := range h.order {
		if id == a.ID() {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	kind := a.Config().Kind
	if h.main[kind] == a.ID() {
		delete(h.main, kind)
	}
	if err := a.Err(); err != nil {
		h.log.Warn("arena removed after failure", zap.String("arena", a.ID().String()), zap.Error(err))
	}
}

// Route picks the arena a new player of this kind should join: the main
// arena if it has room, otherwise the fullest arena that still has room,
// otherwise a new one.
func (h *Host) Route(kind string) (*arena.Arena, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.routeLocked(kind, nil)
}

func (h *Host) routeLocked(kind string, skip map[arena.ID]bool) (*arena.Arena, error) {
	if !h.state.Admitting() {
		return nil, fmt.Errorf("route %s: %w", kind, arena.ErrArenaDraining)
	}
	if _, ok := h.kinds[kind]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if id, ok := h.main[kind]; ok && !skip[id] {
		if a := h.arenas[id]; a != nil && a.Load().Free() > 0 {
			return a, nil
		}
	}

	var best *arena.Arena
	bestFree := 0
	for _, id := range h.order {
		a := h.arenas[id]
		if a == nil || skip[id] || a.Config().Kind != kind {
			continue
		}
		free := a.Load().Free()
		if free > 0 && (best == nil || free < bestFree) {
			best, bestFree = a, free
		}
	}
	if best != nil {
		return best, nil
	}
	return h.createLocked(kind)
}

// Join routes a connection and joins it, retrying elsewhere if the chosen
// arena filled up or began draining in the meantime.
func (h *Host) Join(ctx context.Context, kind string, conn arena.ConnID) (*arena.Arena, arena.JoinResult, error) {
	skip := make(map[arena.ID]bool)
	var lastErr error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		h.mu.Lock()
		a, err := h.routeLocked(kind, skip)
		h.mu.Unlock()
		if err != nil {
			return nil, arena.JoinResult{}, err
		}

		res, err := a.Join(ctx, conn)
		if err == nil {
			return a, res, nil
		}
		if !errors.Is(err, arena.ErrArenaFull) && !errors.Is(err, arena.ErrArenaDraining) {
			return nil, arena.JoinResult{}, err
		}
		skip[a.ID()] = true
		lastErr = err
	}
	return nil, arena.JoinResult{}, lastErr
}

// JoinArena joins a specific arena.
func (h *Host) JoinArena(ctx context.Context, id arena.ID, conn arena.ConnID) (*arena.Arena, arena.JoinResult, error) {
	if !h.state.Admitting() {
		return nil, arena.JoinResult{}, &arena.AdmissionError{Arena: id, Err: arena.ErrArenaDraining}
	}
	a, ok := h.Get(id)
	if !ok {
		return nil, arena.JoinResult{}, fmt.Errorf("%w: %s", ErrUnknownArena, id)
	}
	res, err := a.Join(ctx, conn)
	return a, res, err
}

// Get returns a live arena by ID.
func (h *Host) Get(id arena.ID) (*arena.Arena, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.arenas[id]
	return a, ok
}

// List returns live arenas in creation order.
func (h *Host) List() []*arena.Arena {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*arena.Arena, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.arenas[id])
	}
	return out
}

// Targets implements shutdown.Registry.
func (h *Host) Targets() []shutdown.Target {
	arenas := h.List()
	out := make([]shutdown.Target, len(arenas))
	for i, a := range arenas {
		out[i] = a
	}
	return out
}

// Summary aggregates load over all live arenas.
type Summary struct {
	Phase  string         `json:"phase"`
	Arenas int            `json:"arenas"`
	Real   int            `json:"real"`
	Bots   int            `json:"bots"`
	Kinds  map[string]int `json:"kinds"`
}

func (h *Host) Summary() Summary {
	s := Summary{Phase: h.state.Phase().String(), Kinds: make(map[string]int)}
	for _, a := range h.List() {
		l := a.Load()
		s.Arenas++
		s.Real += l.Real
		s.Bots += l.Bots
		s.Kinds[a.Config().Kind]++
	}
	return s
}
