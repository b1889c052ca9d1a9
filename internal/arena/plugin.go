package arena

import "context"

// Simulation is the contract a hosted game implements. The arena calls every
// method from its own goroutine, one at a time. The one exception is a
// BotDecision that overran its deadline (see BotDecider). The Simulation
// value is the arena state; the engine never looks inside it.
type Simulation interface {
	// OnJoin is called once per admitted player or spawned bot and returns
	// the data sent back to the joining connection.
	OnJoin(player PlayerID, bot bool) Payload

	// OnLeave is called once per processed leave. It must not fail.
	OnLeave(player PlayerID)

	// Advance applies the inputs and moves the simulation one tick forward.
	// It is the only per-tick mutation entry point. ctx carries the deadline
	// after which the arena considers the tick stalled.
	Advance(ctx context.Context, inputs []Input) error

	// SnapshotDiff returns what player needs to go from version from to
	// version to. It must not mutate the simulation.
	SnapshotDiff(from, to TickVersion, player PlayerID) Payload
}

// BotDecider is implemented by simulations that can steer bots. A decision
// that errors, returns ok=false or misses the context deadline means "no
// input this tick". A call that overruns is abandoned and may keep running
// while the arena calls Advance, so state it reads must be guarded. No other
// BotDecision starts until it returns.
type BotDecider interface {
	BotDecision(ctx context.Context, player PlayerID) (payload Payload, ok bool, err error)
}

// Factory builds the simulation for a new arena. It runs while the arena is
// in StateStarting.
type Factory func(cfg Config) (Simulation, error)
