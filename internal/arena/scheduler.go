package arena

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickSource drives an arena's ticks. C delivers one value per tick to run.
type TickSource interface {
	C() <-chan struct{}
	Stop()
	Dropped() uint64
}

// Scheduler fires at fixed wall-clock deadlines: deadline n is start+n*interval.
//
// Overrun policy: one pending tick may be queued. A firing that finds the slot
// still occupied is dropped and counted. If the scheduler wakes more than an
// interval late, the deadlines it slept through are skipped and counted too,
// so the cadence realigns with the wall clock instead of drifting.
type Scheduler struct {
	interval time.Duration
	c        chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
	onDrop   func(n uint64)
}

// NewScheduler starts firing immediately. onDrop, if set, is called from the
// scheduler goroutine for every batch of dropped ticks.
func NewScheduler(interval time.Duration, onDrop func(n uint64)) *Scheduler {
	s := &Scheduler{
		interval: interval,
		c:        make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		onDrop:   onDrop,
	}
	go s.run(time.Now())
	return s
}

// C returns the channel that carries pending ticks.
func (s *Scheduler) C() <-chan struct{} { return s.c }

// Dropped returns the total number of ticks that were never delivered.
func (s *Scheduler) Dropped() uint64 { return s.dropped.Load() }

// Stop halts the scheduler. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) run(start time.Time) {
	next := start.Add(s.interval)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		}

		select {
		case s.c <- struct{}{}:
		default:
			s.drop(1)
		}

		var skipped uint64
		next, skipped = nextDeadline(next, time.Now(), s.interval)
		if skipped > 0 {
			s.drop(skipped)
		}
		timer.Reset(time.Until(next))
	}
}

func (s *Scheduler) drop(n uint64) {
	s.dropped.Add(n)
	if s.onDrop != nil {
		s.onDrop(n)
	}
}

// nextDeadline returns the deadline following prev on the fixed grid. When
// now is already a full interval past it, the missed deadlines are skipped
// and counted; the newest past deadline is kept so it fires at once.
func nextDeadline(prev, now time.Time, interval time.Duration) (time.Time, uint64) {
	next := prev.Add(interval)
	late := now.Sub(next)
	if late < interval {
		return next, 0
	}
	missed := uint64(late / interval)
	return next.Add(time.Duration(missed) * interval), missed
}

// ManualTicker is a TickSource fired by hand. Fire blocks until the arena
// picks the tick up, so a request sent after Fire returns is handled after
// that tick.
type ManualTicker struct {
	c        chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManualTicker returns a ticker that only fires when told to.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		c:      make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// Fire delivers one tick. It returns false if the ticker was stopped first.
func (m *ManualTicker) Fire() bool {
	select {
	case m.c <- struct{}{}:
		return true
	case <-m.stopCh:
		return false
	}
}

// FireN delivers n ticks and reports how many were taken.
func (m *ManualTicker) FireN(n int) int {
	for i := 0; i < n; i++ {
		if !m.Fire() {
			return i
		}
	}
	return n
}

func (m *ManualTicker) C() <-chan struct{} { return m.c }

func (m *ManualTicker) Dropped() uint64 { return 0 }

func (m *ManualTicker) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
