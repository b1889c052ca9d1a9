package arena

// Delivery is one outbound payload for one session.
type Delivery struct {
	Arena   ID
	Player  PlayerID
	Conn    ConnID
	Version TickVersion
	Payload Payload
	Final   bool // last snapshot before the session is closed
}

// Closure tells the gateway a session is gone for good.
type Closure struct {
	Arena  ID
	Player PlayerID
	Conn   ConnID
	Reason string
}

// Closure reasons.
const (
	ReasonShutdown     = "shutdown"
	ReasonFailure      = "simulation failure"
	ReasonForced       = "forced stop"
	ReasonLimboExpired = "reconnect window expired"
)

// Pusher receives outbound traffic from arenas. Both methods are called from
// the arena goroutine and must not block; Push reports false when the
// payload could not be queued.
type Pusher interface {
	Push(d Delivery) bool
	Close(c Closure)
}

// Fanout sends to every pusher in order. A delivery counts as accepted only
// when all of them accepted it.
type Fanout []Pusher

func (f Fanout) Push(d Delivery) bool {
	ok := true
	for _, p := range f {
		if !p.Push(d) {
			ok = false
		}
	}
	return ok
}

func (f Fanout) Close(c Closure) {
	for _, p := range f {
		p.Close(c)
	}
}

// NopPusher accepts and discards everything.
type NopPusher struct{}

func (NopPusher) Push(Delivery) bool { return true }

func (NopPusher) Close(Closure) {}
