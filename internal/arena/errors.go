package arena

import (
	"errors"
	"fmt"
)

var (
	// ErrArenaFull rejects a join when the arena has no room for another real player.
	ErrArenaFull = errors.New("arena full")
	// ErrArenaDraining rejects joins and inputs once the arena stopped admitting.
	ErrArenaDraining = errors.New("arena draining")
	// ErrUnknownPlayer is reported for inputs and acks naming no live session.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrNotInLimbo rejects a reconnect for a session that is still attached.
	ErrNotInLimbo = errors.New("session not in limbo")
	// ErrAdvanceStalled marks a tick whose Advance call outlived its deadline.
	ErrAdvanceStalled = errors.New("advance exceeded deadline")
)

// AdmissionError is returned to the gateway when a join is refused.
type AdmissionError struct {
	Arena ID
	Err   error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("arena %s: join rejected: %v", e.Arena, e.Err)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

// InputError describes a dropped input. It is logged and counted, never
// returned to the sender.
type InputError struct {
	Arena  ID
	Player PlayerID
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("arena %s: input from player %d dropped: %v", e.Arena, e.Player, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// SimulationError is the terminal failure of an arena whose tick could not
// complete. Version is the last successfully completed tick.
type SimulationError struct {
	Arena   ID
	Version TickVersion
	Err     error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("arena %s: simulation failed after tick %d: %v", e.Arena, e.Version, e.Err)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// OverrunError reports scheduler firings that were dropped because a tick was
// already pending.
type OverrunError struct {
	Arena   ID
	Dropped uint64
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("arena %s: %d tick(s) dropped on overrun", e.Arena, e.Dropped)
}
