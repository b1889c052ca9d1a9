// Package trace records arena lifecycle events to an append-only JSONL file.
package trace

import (
	"encoding/json"
	"time"
)

// Type classifies a trace event.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeArenaStarted
	TypeTick
	TypePlayerJoin
	TypePlayerLeave
	TypeBotSpawn
	TypeBotRetire
	TypeTickDropped
	TypeArenaFailed
	TypeArenaDrained
	TypeArenaForced
)

// Version of the event schema written to disk.
const Version uint8 = 1

// Event is one line of the trace file.
type Event struct {
	Version   uint8           `json:"version"`
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`
	Arena     string          `json:"arena"`
	Tick      uint64          `json:"tick"`
	Player    uint32          `json:"player,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (t Type) String() string {
	switch t {
	case TypeArenaStarted:
		return "arena_started"
	case TypeTick:
		return "tick"
	case TypePlayerJoin:
		return "player_join"
	case TypePlayerLeave:
		return "player_leave"
	case TypeBotSpawn:
		return "bot_spawn"
	case TypeBotRetire:
		return "bot_retire"
	case TypeTickDropped:
		return "tick_dropped"
	case TypeArenaFailed:
		return "arena_failed"
	case TypeArenaDrained:
		return "arena_drained"
	case TypeArenaForced:
		return "arena_forced"
	default:
		return "unknown"
	}
}

// MarshalText writes the type by name so trace files stay readable.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *Type) UnmarshalText(b []byte) error {
	for c := TypeArenaStarted; c <= TypeArenaForced; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	*t = TypeUnknown
	return nil
}

// TickPayload describes one completed tick.
type TickPayload struct {
	Inputs     int   `json:"inputs"`
	BotInputs  int   `json:"botInputs"`
	Real       int   `json:"real"`
	Bots       int   `json:"bots"`
	DurationNs int64 `json:"durationNs"`
}

// StartPayload describes a new arena.
type StartPayload struct {
	Kind         string `json:"kind"`
	Plugin       string `json:"plugin"`
	TickInterval string `json:"tickInterval"`
	Capacity     int    `json:"capacity"`
}

// LeavePayload carries the reason a session ended.
type LeavePayload struct {
	Reason string `json:"reason"`
}

// FailurePayload carries the error that stopped an arena.
type FailurePayload struct {
	Error string `json:"error"`
}

// DropPayload counts scheduler firings lost on overrun.
type DropPayload struct {
	Dropped uint64 `json:"dropped"`
}

// EncodePayload marshals a payload to JSON. Unencodable payloads are omitted.
func EncodePayload(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent stamps an event with the current time.
func NewEvent(typ Type, arena string, tick uint64, player uint32, payload any) Event {
	return Event{
		Version:   Version,
		Type:      typ,
		Timestamp: time.Now().UnixNano(),
		Arena:     arena,
		Tick:      tick,
		Player:    player,
		Payload:   EncodePayload(payload),
	}
}
