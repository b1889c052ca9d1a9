package arena

import "time"

// Session binds a player to its connection inside one arena.
type Session struct {
	Player    PlayerID
	Conn      ConnID // empty for bots and for sessions in limbo
	Bot       bool
	LastAcked TickVersion
	JoinedAt  TickVersion

	// limboUntil is set while the connection is gone but the player is kept.
	limboUntil time.Time
}

// InLimbo reports whether the session lost its connection and is waiting for
// a reconnect or expiry.
func (s *Session) InLimbo() bool {
	return !s.limboUntil.IsZero()
}

// Reachable reports whether pushes for this session have somewhere to go.
func (s *Session) Reachable() bool {
	return !s.Bot && !s.InLimbo()
}

// SessionTable is the arena's player roster. It keeps join order so that
// dispatch is deterministic and the oldest bot is always first in line for
// eviction. Not safe for concurrent use; the owning arena is its only user.
type SessionTable struct {
	byPlayer map[PlayerID]*Session
	byConn   map[ConnID]PlayerID
	order    []*Session
	real     int
	bots     int
}

// NewSessionTable returns an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{
		byPlayer: make(map[PlayerID]*Session),
		byConn:   make(map[ConnID]PlayerID),
	}
}

// Insert adds s at the back of the join order. It returns false if the
// player is already present.
func (t *SessionTable) Insert(s *Session) bool {
	if _, ok := t.byPlayer[s.Player]; ok {
		return false
	}
	t.byPlayer[s.Player] = s
	if s.Conn != "" {
		t.byConn[s.Conn] = s.Player
	}
	t.order = append(t.order, s)
	if s.Bot {
		t.bots++
	} else {
		t.real++
	}
	return true
}

// Remove deletes the player's session. Removing an absent player is a no-op.
func (t *SessionTable) Remove(player PlayerID) (*Session, bool) {
	s, ok := t.byPlayer[player]
	if !ok {
		return nil, false
	}
	delete(t.byPlayer, player)
	if s.Conn != "" {
		delete(t.byConn, s.Conn)
	}
	for i, o := range t.order {
		if o == s {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if s.Bot {
		t.bots--
	} else {
		t.real--
	}
	return s, true
}

// Get returns the player's session, or nil.
func (t *SessionTable) Get(player PlayerID) *Session {
	return t.byPlayer[player]
}

// ByConn returns the session attached to conn, or nil.
func (t *SessionTable) ByConn(conn ConnID) *Session {
	if p, ok := t.byConn[conn]; ok {
		return t.byPlayer[p]
	}
	return nil
}

// Detach moves a session into limbo until the given time.
func (t *SessionTable) Detach(player PlayerID, until time.Time) {
	s := t.byPlayer[player]
	if s == nil || s.Bot {
		return
	}
	if s.Conn != "" {
		delete(t.byConn, s.Conn)
	}
	s.Conn = ""
	s.limboUntil = until
}

// Attach binds a limbo session to a new connection.
func (t *SessionTable) Attach(player PlayerID, conn ConnID) error {
	s := t.byPlayer[player]
	if s == nil || s.Bot {
		return ErrUnknownPlayer
	}
	if !s.InLimbo() {
		return ErrNotInLimbo
	}
	s.limboUntil = time.Time{}
	s.Conn = conn
	t.byConn[conn] = player
	return nil
}

// Expired lists limbo sessions whose deadline is at or before now, in join order.
func (t *SessionTable) Expired(now time.Time) []PlayerID {
	var out []PlayerID
	for _, s := range t.order {
		if s.InLimbo() && !now.Before(s.limboUntil) {
			out = append(out, s.Player)
		}
	}
	return out
}

// OldestBots returns up to n bot IDs, oldest first.
func (t *SessionTable) OldestBots(n int) []PlayerID {
	if n <= 0 {
		return nil
	}
	out := make([]PlayerID, 0, n)
	for _, s := range t.order {
		if len(out) == n {
			break
		}
		if s.Bot {
			out = append(out, s.Player)
		}
	}
	return out
}

// BotIDs returns every bot, oldest first.
func (t *SessionTable) BotIDs() []PlayerID {
	return t.OldestBots(t.bots)
}

// Players returns every player in join order.
func (t *SessionTable) Players() []PlayerID {
	out := make([]PlayerID, len(t.order))
	for i, s := range t.order {
		out[i] = s.Player
	}
	return out
}

// Each visits sessions in join order. fn must not add or remove sessions.
func (t *SessionTable) Each(fn func(*Session)) {
	for _, s := range t.order {
		fn(s)
	}
}

// Len is the total population.
func (t *SessionTable) Len() int { return len(t.order) }

// Real is the number of non-bot sessions, including those in limbo.
func (t *SessionTable) Real() int { return t.real }

// Bots is the number of bot sessions.
func (t *SessionTable) Bots() int { return t.bots }

// Limbo is the number of sessions waiting for a reconnect.
func (t *SessionTable) Limbo() int {
	n := 0
	for _, s := range t.order {
		if s.InLimbo() {
			n++
		}
	}
	return n
}
