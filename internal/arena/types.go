// Package arena hosts a single game arena: the actor that owns the session
// table, the plugged-in simulation and the tick version, plus the scheduler
// and bot population controller that drive it.
package arena

import (
	"strconv"

	"github.com/google/uuid"
)

// ID identifies one hosted arena for its whole lifetime.
type ID string

// NewID returns a fresh arena identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

// PlayerID identifies a player within one arena. IDs are allocated by the
// arena from a monotonic counter and are never reused while the arena lives.
type PlayerID uint32

func (p PlayerID) String() string { return strconv.FormatUint(uint64(p), 10) }

// ConnID is the gateway's handle for a transport connection.
type ConnID string

// NewConnID returns a fresh connection handle.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Payload is an opaque, already encoded game message.
type Payload []byte

// TickVersion counts successful ticks of an arena.
type TickVersion uint64

// Input is one player (or bot) command applied at the next tick boundary.
type Input struct {
	Player  PlayerID
	Payload Payload
}
