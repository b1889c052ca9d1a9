// Package shutdown holds the process-wide shutdown state and the controller
// that drains every arena when the process is asked to stop.
package shutdown

import "sync/atomic"

// Phase is the process-wide shutdown state. It only moves forward.
type Phase int32

const (
	Running Phase = iota
	Draining
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is the single shared shutdown flag. Create it with NewState.
type State struct {
	phase    atomic.Int32
	draining chan struct{}
	stopped  chan struct{}
}

// NewState returns a State in Running.
func NewState() *State {
	return &State{
		draining: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Phase returns the current phase.
func (s *State) Phase() Phase { return Phase(s.phase.Load()) }

// Admitting reports whether new sessions may still be created.
func (s *State) Admitting() bool { return s.Phase() == Running }

// Advance moves to phase p if that is a forward step. It reports whether this
// call made the transition.
func (s *State) Advance(p Phase) bool {
	for {
		cur := s.phase.Load()
		if Phase(cur) >= p {
			return false
		}
		if s.phase.CompareAndSwap(cur, int32(p)) {
			if Phase(cur) < Draining {
				close(s.draining)
			}
			if p == Stopped {
				close(s.stopped)
			}
			return true
		}
	}
}

// DrainingC is closed once the process starts draining.
func (s *State) DrainingC() <-chan struct{} { return s.draining }

// StoppedC is closed once the process reaches Stopped.
func (s *State) StoppedC() <-chan struct{} { return s.stopped }
