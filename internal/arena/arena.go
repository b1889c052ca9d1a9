package arena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"arena-host/internal/trace"
)

var (
	// errStopped is returned internally when the actor loop has exited.
	errStopped = errors.New("arena stopped")
	// errKilled ends a tick that ForceStop interrupted.
	errKilled = errors.New("arena force-stopped")
)

// JoinResult is what a successful join hands back to the gateway.
type JoinResult struct {
	Arena   ID
	Player  PlayerID
	Version TickVersion
	Init    Payload
}

// Load is a lock-free summary of an arena, republished after every mutation.
type Load struct {
	State         State
	Real          int
	Bots          int
	Limbo         int
	Capacity      int
	MaxPopulation int
	Version       TickVersion
}

// Free is the number of real players the arena can still admit.
func (l Load) Free() int {
	if !l.State.Admitting() {
		return 0
	}
	return l.Capacity - l.Real
}

// Stats is a consistent snapshot taken on the arena goroutine.
type Stats struct {
	ID            ID          `json:"id"`
	Kind          string      `json:"kind"`
	State         string      `json:"state"`
	Version       TickVersion `json:"version"`
	Real          int         `json:"real"`
	Bots          int         `json:"bots"`
	Limbo         int         `json:"limbo"`
	Capacity      int         `json:"capacity"`
	MaxPopulation int         `json:"maxPopulation"`
	PendingInputs int         `json:"pendingInputs"`
	TicksDropped  uint64      `json:"ticksDropped"`
	Error         string      `json:"error,omitempty"`
}

// DrainReport is the drain-complete acknowledgment.
type DrainReport struct {
	Arena    ID
	Version  TickVersion
	Notified int   // sessions that received the final snapshot and closure
	Err      error // terminal simulation failure, if the arena had one
}

// Option configures an Arena at Start.
type Option func(*Arena)

// WithLogger sets the parent logger; the arena adds its id and kind.
func WithLogger(log *zap.Logger) Option { return func(a *Arena) { a.log = log } }

// WithPusher sets where diffs and closure notices go.
func WithPusher(p Pusher) Option { return func(a *Arena) { a.pusher = p } }

// WithTickSource replaces the wall-clock scheduler.
func WithTickSource(ts TickSource) Option { return func(a *Arena) { a.ticks = ts } }

// WithTrace records lifecycle events to t. A nil log records nothing.
func WithTrace(t *trace.Log) Option { return func(a *Arena) { a.trace = t } }

// WithClock replaces time.Now for limbo deadlines.
func WithClock(now func() time.Time) Option { return func(a *Arena) { a.now = now } }

// Arena is the actor that owns one hosted game. Its session table, the
// simulation and the tick version are touched only by the arena goroutine;
// everything else talks to it through the mailbox.
type Arena struct {
	id     ID
	cfg    Config
	log    *zap.Logger
	pusher Pusher
	ticks  TickSource
	trace  *trace.Log
	now    func() time.Time

	sim     Simulation
	decider BotDecider
	bots    *BotController

	mailbox  chan func()
	drainC   chan chan DrainReport
	kill     chan struct{}
	killOnce sync.Once
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// Owned by the arena goroutine.
	sessions   *SessionTable
	version    TickVersion
	nextPlayer PlayerID
	pending    []Input
	stalled    bool
	exit       bool
	lastLoad   Load
	gauged     bool

	state atomic.Int32
	load  atomic.Pointer[Load]
	err   atomic.Pointer[SimulationError]

	ticksTotal   prometheus.Counter
	tickDuration prometheus.Observer
	ticksDropped prometheus.Counter
}

// Start builds the simulation with factory and starts the arena goroutine.
// The arena is Starting while the factory runs and Running once Start returns.
func Start(cfg Config, factory Factory, opts ...Option) (*Arena, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arena kind %q: %w", cfg.Kind, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Arena{
		id:       NewID(),
		cfg:      cfg,
		log:      zap.NewNop(),
		pusher:   NopPusher{},
		now:      time.Now,
		bots:     NewBotController(cfg),
		mailbox:  make(chan func(), cfg.MailboxSize),
		drainC:   make(chan chan DrainReport),
		kill:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		sessions: NewSessionTable(),

		ticksTotal:   ticksTotal.WithLabelValues(cfg.Kind),
		tickDuration: tickDuration.WithLabelValues(cfg.Kind),
		ticksDropped: ticksDropped.WithLabelValues(cfg.Kind),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(zap.String("arena", a.id.String()), zap.String("kind", cfg.Kind))

	a.setState(StateStarting)
	sim, err := factory(cfg)
	if err != nil {
		a.setState(StateStopped)
		cancel()
		return nil, fmt.Errorf("start %s arena: %w", cfg.Kind, err)
	}
	a.sim = sim
	a.decider, _ = sim.(BotDecider)

	if a.ticks == nil {
		a.ticks = NewScheduler(cfg.TickInterval, a.onDrop)
	}
	a.setState(StateRunning)
	a.publishLoad()

	a.trace.Record(trace.TypeArenaStarted, a.id.String(), 0, 0, trace.StartPayload{
		Kind:         cfg.Kind,
		Plugin:       cfg.Plugin,
		TickInterval: cfg.TickInterval.String(),
		Capacity:     cfg.Capacity,
	})
	a.log.Info("arena started",
		zap.Duration("tick", cfg.TickInterval),
		zap.Int("capacity", cfg.Capacity),
		zap.Int("min_population", cfg.MinPopulation),
		zap.Int("max_population", cfg.MaxPopulation))

	go a.run()
	return a, nil
}

func (a *Arena) ID() ID { return a.id }

func (a *Arena) Config() Config { return a.cfg }

func (a *Arena) State() State { return State(a.state.Load()) }

// Done is closed once the arena goroutine has exited.
func (a *Arena) Done() <-chan struct{} { return a.done }

// Load returns the most recently published summary.
func (a *Arena) Load() Load {
	if l := a.load.Load(); l != nil {
		return *l
	}
	return Load{State: a.State(), Capacity: a.cfg.Capacity, MaxPopulation: a.cfg.MaxPopulation}
}

// Err returns the terminal simulation failure, or nil if the arena is
// running or stopped cleanly.
func (a *Arena) Err() error {
	if e := a.err.Load(); e != nil {
		return e
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gateway-facing operations
// ---------------------------------------------------------------------------

// Join admits a real player bound to conn.
func (a *Arena) Join(ctx context.Context, conn ConnID) (JoinResult, error) {
	type reply struct {
		res JoinResult
		err error
	}
	ch := make(chan reply, 1)
	err := a.send(ctx, func() {
		res, err := a.handleJoin(conn)
		ch <- reply{res, err}
	})
	if err != nil {
		return JoinResult{}, a.admissionErr(err)
	}

	select {
	case r := <-ch:
		return r.res, r.err
	case <-a.done:
		select {
		case r := <-ch:
			return r.res, r.err
		default:
			return JoinResult{}, a.admissionErr(errStopped)
		}
	case <-ctx.Done():
		// The join may still be processed; make sure nobody is left behind.
		go func() {
			select {
			case r := <-ch:
				if r.err == nil {
					_ = a.Leave(context.Background(), r.res.Player)
				}
			case <-a.done:
			}
		}()
		return JoinResult{}, ctx.Err()
	}
}

// Deliver queues an input for the next tick. Inputs for unknown players or
// for an arena that stopped admitting are dropped and counted, not returned.
func (a *Arena) Deliver(ctx context.Context, player PlayerID, payload Payload) {
	err := a.send(ctx, func() { a.handleInput(player, payload) })
	if err != nil {
		reason := "draining"
		if !errors.Is(err, errStopped) {
			reason = "canceled"
		}
		inputsDropped.WithLabelValues(reason).Inc()
		a.log.Debug("input dropped", zap.Error(&InputError{Arena: a.id, Player: player, Err: err}))
	}
}

// Leave removes the player. Leaving twice, or leaving a stopped arena, is a no-op.
func (a *Arena) Leave(ctx context.Context, player PlayerID) error {
	err := a.call(ctx, func() {
		if a.removeSession(player, "left") {
			a.publishLoad()
		}
	})
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

// Disconnect reports that conn went away. The player lingers in limbo for
// Config.Limbo before it is removed; with no limbo it leaves at once.
func (a *Arena) Disconnect(ctx context.Context, conn ConnID) error {
	err := a.call(ctx, func() { a.handleDisconnect(conn) })
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

// Reconnect binds a player in limbo to a new connection. The next diff the
// player receives is a full snapshot.
func (a *Arena) Reconnect(ctx context.Context, player PlayerID, conn ConnID) (JoinResult, error) {
	var (
		res  JoinResult
		rerr error
	)
	err := a.call(ctx, func() {
		if !a.State().Admitting() {
			rerr = &AdmissionError{Arena: a.id, Err: ErrArenaDraining}
			return
		}
		if err := a.sessions.Attach(player, conn); err != nil {
			rerr = &AdmissionError{Arena: a.id, Err: err}
			return
		}
		a.sessions.Get(player).LastAcked = 0
		a.publishLoad()
		res = JoinResult{Arena: a.id, Player: player, Version: a.version}
		a.log.Debug("player reconnected", zap.Stringer("player", player))
	})
	if err != nil {
		return JoinResult{}, a.admissionErr(err)
	}
	return res, rerr
}

// Ack records that player has applied everything up to version.
func (a *Arena) Ack(ctx context.Context, player PlayerID, version TickVersion) {
	_ = a.send(ctx, func() { a.handleAck(player, version) })
}

// Stats returns a snapshot taken between ticks.
func (a *Arena) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := a.call(ctx, func() {
		st = a.stats()
		st.PendingInputs = len(a.pending)
	})
	if errors.Is(err, errStopped) {
		return a.stoppedStats(), nil
	}
	return st, err
}

// Drain stops admission, finishes a queued tick, sends every connected
// session a final snapshot and a closure notice, releases all sessions and
// stops the arena. It returns once the arena has stopped.
func (a *Arena) Drain(ctx context.Context) (DrainReport, error) {
	reply := make(chan DrainReport, 1)
	select {
	case a.drainC <- reply:
	case <-a.done:
		return a.stoppedReport(), nil
	case <-ctx.Done():
		return DrainReport{Arena: a.id}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-a.done:
		select {
		case r := <-reply:
			return r, nil
		default:
			return a.stoppedReport(), nil
		}
	case <-ctx.Done():
		return DrainReport{Arena: a.id}, ctx.Err()
	}
}

// ForceStop ends the arena at its next boundary without a drain. Connected
// sessions still get a closure notice.
func (a *Arena) ForceStop() {
	a.killOnce.Do(func() {
		close(a.kill)
		a.cancel()
	})
}

func (a *Arena) send(ctx context.Context, fn func()) error {
	select {
	case <-a.done:
		return errStopped
	default:
	}
	select {
	case a.mailbox <- fn:
		return nil
	case <-a.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the arena goroutine and waits for it.
func (a *Arena) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := a.send(ctx, func() { fn(); close(finished) }); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-a.done:
		select {
		case <-finished:
			return nil
		default:
			return errStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Arena) admissionErr(err error) error {
	if errors.Is(err, errStopped) {
		joinsRejected.WithLabelValues("draining").Inc()
		return &AdmissionError{Arena: a.id, Err: ErrArenaDraining}
	}
	return err
}

// ---------------------------------------------------------------------------
// Actor loop
// ---------------------------------------------------------------------------

func (a *Arena) run() {
	defer a.cleanup()

	for !a.exit {
		// Kill, drain and ticks go ahead of mailbox backlog.
		select {
		case <-a.kill:
			a.guard(a.handleKill)
			return
		case reply := <-a.drainC:
			a.guard(func() { a.handleDrain(reply) })
			continue
		case <-a.ticks.C():
			a.guard(a.onTick)
			continue
		default:
		}

		select {
		case <-a.kill:
			a.guard(a.handleKill)
			return
		case reply := <-a.drainC:
			a.guard(func() { a.handleDrain(reply) })
		case <-a.ticks.C():
			a.guard(a.onTick)
		case fn := <-a.mailbox:
			a.guard(fn)
		}
	}
}

// guard turns a panic in plugin code into a fatal simulation failure.
func (a *Arena) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.fail(fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

func (a *Arena) cleanup() {
	a.ticks.Stop()
	a.cancel()
	if c, ok := a.sim.(io.Closer); ok && !a.stalled && !a.bots.Busy() {
		if err := c.Close(); err != nil {
			a.log.Warn("simulation close failed", zap.Error(err))
		}
	}
	a.setState(StateStopped)
	a.publishLoad()
	close(a.done)
	a.log.Info("arena stopped", zap.Uint64("version", uint64(a.version)))
}

// onTick is the only place the simulation advances.
func (a *Arena) onTick() {
	// Requests that were already queued when the tick fired belong before it.
	for n := len(a.mailbox); n > 0 && !a.exit; n-- {
		fn := <-a.mailbox
		a.guard(fn)
	}
	if a.exit {
		return
	}

	start := time.Now()
	now := a.now()

	for _, p := range a.sessions.Expired(now) {
		a.removeSession(p, ReasonLimboExpired)
	}

	spawn, retire := a.bots.Plan(a.sessions.Real(), a.sessions.Bots())
	for _, p := range a.sessions.OldestBots(retire) {
		a.removeSession(p, "retired")
	}
	for i := 0; i < spawn; i++ {
		a.spawnBot()
	}

	outcome := a.bots.Decide(a.ctx, a.decider, a.sessions.BotIDs())
	if outcome.TimedOut > 0 {
		botDecisionsMissed.WithLabelValues("timeout").Add(float64(outcome.TimedOut))
	}
	if outcome.Failed > 0 {
		botDecisionsMissed.WithLabelValues("error").Add(float64(outcome.Failed))
	}
	if outcome.Skipped > 0 {
		botDecisionsMissed.WithLabelValues("busy").Add(float64(outcome.Skipped))
	}

	inputs := a.pending
	realInputs := len(inputs)
	inputs = append(inputs, outcome.Inputs...)
	a.pending = nil

	if err := a.advance(inputs); err != nil {
		if errors.Is(err, errKilled) {
			a.handleKill()
			return
		}
		a.fail(err)
		return
	}
	a.version++

	a.dispatch(false)
	a.publishLoad()

	elapsed := time.Since(start)
	a.ticksTotal.Inc()
	a.tickDuration.Observe(elapsed.Seconds())
	a.trace.Record(trace.TypeTick, a.id.String(), uint64(a.version), 0, trace.TickPayload{
		Inputs:     realInputs,
		BotInputs:  len(outcome.Inputs),
		Real:       a.sessions.Real(),
		Bots:       a.sessions.Bots(),
		DurationNs: elapsed.Nanoseconds(),
	})
}

// advance runs Advance under AdvanceTimeout. A call that outlives the
// deadline is abandoned and the simulation is never touched again.
func (a *Arena) advance(inputs []Input) error {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.AdvanceTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("advance panicked: %v", r)
			}
		}()
		errc <- a.sim.Advance(ctx, inputs)
	}()

	select {
	case err := <-errc:
		return a.advanceErr(err)
	case <-ctx.Done():
		select {
		case err := <-errc:
			return a.advanceErr(err)
		default:
		}
		a.stalled = true
		if a.ctx.Err() != nil {
			return errKilled
		}
		return ErrAdvanceStalled
	}
}

// advanceErr tells a force stop apart from a stalled or failed tick.
func (a *Arena) advanceErr(err error) error {
	switch {
	case err == nil:
		return nil
	case a.ctx.Err() != nil:
		return errKilled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrAdvanceStalled
	default:
		return err
	}
}

// dispatch pushes each reachable session its diff since its last ack.
func (a *Arena) dispatch(final bool) int {
	sent := 0
	a.sessions.Each(func(s *Session) {
		if !s.Reachable() {
			return
		}
		d := Delivery{
			Arena:   a.id,
			Player:  s.Player,
			Conn:    s.Conn,
			Version: a.version,
			Payload: a.sim.SnapshotDiff(s.LastAcked, a.version, s.Player),
			Final:   final,
		}
		if !a.pusher.Push(d) {
			pushesDropped.Inc()
			return
		}
		sent++
		if !a.cfg.ExplicitAcks {
			s.LastAcked = a.version
		}
	})
	return sent
}

// fail stops the arena after a failed tick. The simulation is not called
// again; connected sessions are told why they are being closed.
func (a *Arena) fail(err error) {
	if a.exit {
		return
	}
	serr := &SimulationError{Arena: a.id, Version: a.version, Err: err}
	a.err.Store(serr)
	arenaFailures.WithLabelValues(a.cfg.Kind).Inc()
	a.log.Error("arena failed", zap.Error(serr))
	a.trace.Record(trace.TypeArenaFailed, a.id.String(), uint64(a.version), 0, trace.FailurePayload{Error: err.Error()})

	a.notifyClosed(ReasonFailure)
	a.forget()
	a.exit = true
}

func (a *Arena) handleKill() {
	a.log.Warn("arena force-stopped", zap.Uint64("version", uint64(a.version)))
	a.trace.Record(trace.TypeArenaForced, a.id.String(), uint64(a.version), 0, nil)
	a.notifyClosed(ReasonForced)
	a.forget()
	a.exit = true
}

func (a *Arena) handleDrain(reply chan DrainReport) {
	a.setState(StateDraining)
	a.publishLoad()

	// A tick already queued by the scheduler is still in flight.
	select {
	case <-a.ticks.C():
		a.onTick()
	default:
	}

	report := DrainReport{Arena: a.id}
	if !a.exit {
		report.Notified = a.dispatch(true)
		a.notifyClosed(ReasonShutdown)
		for _, p := range a.sessions.Players() {
			a.removeSession(p, ReasonShutdown)
		}
		a.trace.Record(trace.TypeArenaDrained, a.id.String(), uint64(a.version), 0, nil)
		a.exit = true
	}
	report.Version = a.version
	report.Err = a.Err()
	reply <- report
}

func (a *Arena) notifyClosed(reason string) {
	a.sessions.Each(func(s *Session) {
		if s.Reachable() {
			a.pusher.Close(Closure{Arena: a.id, Player: s.Player, Conn: s.Conn, Reason: reason})
		}
	})
}

// forget drops every session without calling the simulation.
func (a *Arena) forget() {
	a.sessions = NewSessionTable()
	a.pending = nil
}

// ---------------------------------------------------------------------------
// Message handlers
// ---------------------------------------------------------------------------

func (a *Arena) handleJoin(conn ConnID) (JoinResult, error) {
	if !a.State().Admitting() {
		joinsRejected.WithLabelValues("draining").Inc()
		return JoinResult{}, &AdmissionError{Arena: a.id, Err: ErrArenaDraining}
	}
	if a.sessions.Real() >= a.cfg.Capacity {
		joinsRejected.WithLabelValues("full").Inc()
		return JoinResult{}, &AdmissionError{Arena: a.id, Err: ErrArenaFull}
	}
	if a.sessions.Len() >= a.cfg.MaxPopulation {
		oldest := a.sessions.OldestBots(1)
		if len(oldest) == 0 {
			joinsRejected.WithLabelValues("full").Inc()
			return JoinResult{}, &AdmissionError{Arena: a.id, Err: ErrArenaFull}
		}
		a.removeSession(oldest[0], "evicted")
	}

	id := a.allocPlayer()
	a.sessions.Insert(&Session{Player: id, Conn: conn, JoinedAt: a.version})
	init := a.sim.OnJoin(id, false)
	a.publishLoad()

	a.trace.Record(trace.TypePlayerJoin, a.id.String(), uint64(a.version), uint32(id), nil)
	a.log.Debug("player joined", zap.Stringer("player", id), zap.Int("real", a.sessions.Real()))
	return JoinResult{Arena: a.id, Player: id, Version: a.version, Init: init}, nil
}

func (a *Arena) handleInput(player PlayerID, payload Payload) {
	var err error
	reason := ""
	switch {
	case !a.State().Admitting():
		err, reason = ErrArenaDraining, "draining"
	case a.sessions.Get(player) == nil:
		err, reason = ErrUnknownPlayer, "unknown_player"
	}
	if err != nil {
		inputsDropped.WithLabelValues(reason).Inc()
		a.log.Debug("input dropped", zap.Error(&InputError{Arena: a.id, Player: player, Err: err}))
		return
	}
	a.pending = append(a.pending, Input{Player: player, Payload: payload})
}

func (a *Arena) handleAck(player PlayerID, version TickVersion) {
	s := a.sessions.Get(player)
	if s == nil {
		a.log.Debug("ack dropped", zap.Error(&InputError{Arena: a.id, Player: player, Err: ErrUnknownPlayer}))
		return
	}
	if version < s.LastAcked || version > a.version {
		acksStale.Inc()
		return
	}
	s.LastAcked = version
}

func (a *Arena) handleDisconnect(conn ConnID) {
	s := a.sessions.ByConn(conn)
	if s == nil {
		return
	}
	if a.cfg.Limbo > 0 && a.State().Admitting() {
		a.sessions.Detach(s.Player, a.now().Add(a.cfg.Limbo))
		a.log.Debug("player in limbo", zap.Stringer("player", s.Player), zap.Duration("limbo", a.cfg.Limbo))
	} else {
		a.removeSession(s.Player, "disconnected")
	}
	a.publishLoad()
}

func (a *Arena) spawnBot() {
	id := a.allocPlayer()
	a.sessions.Insert(&Session{Player: id, Bot: true, JoinedAt: a.version})
	a.sim.OnJoin(id, true)
	a.trace.Record(trace.TypeBotSpawn, a.id.String(), uint64(a.version), uint32(id), nil)
}

// removeSession drops the session, tells the simulation and discards the
// player's queued inputs. It reports whether anything was removed.
func (a *Arena) removeSession(player PlayerID, reason string) bool {
	s, ok := a.sessions.Remove(player)
	if !ok {
		return false
	}
	a.sim.OnLeave(player)

	kept := a.pending[:0]
	for _, in := range a.pending {
		if in.Player != player {
			kept = append(kept, in)
		}
	}
	a.pending = kept

	typ := trace.TypePlayerLeave
	if s.Bot {
		typ = trace.TypeBotRetire
	}
	a.trace.Record(typ, a.id.String(), uint64(a.version), uint32(player), trace.LeavePayload{Reason: reason})
	return true
}

func (a *Arena) allocPlayer() PlayerID {
	a.nextPlayer++
	return a.nextPlayer
}

// ---------------------------------------------------------------------------
// State, load and metrics
// ---------------------------------------------------------------------------

// setState moves the lifecycle forward. Stopped arenas drop out of the gauge.
func (a *Arena) setState(s State) {
	old := State(a.state.Swap(int32(s)))
	if a.gauged {
		arenasGauge.WithLabelValues(old.String()).Dec()
	}
	a.gauged = s != StateStopped
	if a.gauged {
		arenasGauge.WithLabelValues(s.String()).Inc()
	}
}

func (a *Arena) publishLoad() {
	l := Load{
		State:         a.State(),
		Real:          a.sessions.Real(),
		Bots:          a.sessions.Bots(),
		Limbo:         a.sessions.Limbo(),
		Capacity:      a.cfg.Capacity,
		MaxPopulation: a.cfg.MaxPopulation,
		Version:       a.version,
	}
	if l.State == StateStopped {
		l.Real, l.Bots, l.Limbo = 0, 0, 0
	}
	sessionsGauge.WithLabelValues(a.cfg.Kind, "false").Add(float64(l.Real - a.lastLoad.Real))
	sessionsGauge.WithLabelValues(a.cfg.Kind, "true").Add(float64(l.Bots - a.lastLoad.Bots))
	a.lastLoad = l
	a.load.Store(&l)
}

func (a *Arena) onDrop(n uint64) {
	a.ticksDropped.Add(float64(n))
	version := a.Load().Version
	a.log.Warn("tick overrun", zap.Error(&OverrunError{Arena: a.id, Dropped: n}))
	a.trace.Record(trace.TypeTickDropped, a.id.String(), uint64(version), 0, trace.DropPayload{Dropped: n})
}

func (a *Arena) stats() Stats {
	l := a.Load()
	st := Stats{
		ID:            a.id,
		Kind:          a.cfg.Kind,
		State:         l.State.String(),
		Version:       l.Version,
		Real:          l.Real,
		Bots:          l.Bots,
		Limbo:         l.Limbo,
		Capacity:      l.Capacity,
		MaxPopulation: l.MaxPopulation,
		TicksDropped:  a.ticks.Dropped(),
	}
	if err := a.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (a *Arena) stoppedStats() Stats {
	<-a.done
	return a.stats()
}

func (a *Arena) stoppedReport() DrainReport {
	<-a.done
	return DrainReport{Arena: a.id, Version: a.Load().Version, Err: a.Err()}
}
