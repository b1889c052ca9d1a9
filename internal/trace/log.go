package trace

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

const (
	BufferSize          = 1024                   // ring buffer size
	MaxEventsPerSec     = 10000                  // global rate limit
	MaxEventsPerArena   = 500                    // per-arena rate limit per second
	BatchFlushSize      = 64                     // events per batch write
	BatchFlushInterval  = 100 * time.Millisecond // how often to flush
	ArenaLimiterCleanup = 5 * time.Minute        // cleanup interval for arena limiters
)

// Log is a bounded, rate-limited event log with an async writer. A nil *Log
// is valid and records nothing, so tracing can be switched off by passing nil.
type Log struct {
	// Ring buffer; oldest events are overwritten when it is full.
	mu     sync.Mutex
	buffer [BufferSize]Event
	head   uint64 // next sequence to write
	tail   uint64 // next sequence to flush

	globalLimiter *rate.Limiter
	arenaLimiters sync.Map // map[string]*arenaLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	out      io.Writer
	closer   io.Closer
	writeErr error // first write error, reported by Stop

	dropped atomic.Uint64
	total   atomic.Uint64
}

type arenaLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// New creates a stopped log.
func New() *Log {
	return &Log{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start opens path for append and begins writing. An empty path keeps events
// in memory only, which still feeds Stats.
func (l *Log) Start(path string) error {
	if path == "" {
		l.StartWriter(nil)
		return nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.closer = file
	l.StartWriter(file)
	return nil
}

// StartWriter begins writing JSONL to w. w may be nil.
func (l *Log) StartWriter(w io.Writer) {
	if l.running.Load() {
		return
	}
	l.out = w
	l.running.Store(true)
	l.writerWg.Add(2)
	go l.writerLoop()
	go l.cleanupLoop()
}

// Stop flushes what is buffered and closes the output.
func (l *Log) Stop() error {
	if l == nil {
		return nil
	}
	var err error
	l.stopOnce.Do(func() {
		l.running.Store(false)
		close(l.stopChan)
		l.writerWg.Wait()

		l.mu.Lock()
		err = l.writeErr
		l.mu.Unlock()
		if l.closer != nil {
			err = multierr.Append(err, l.closer.Close())
		}
	})
	return err
}

// Emit queues an event. It returns false if the event was rate limited or
// the log is not running.
func (l *Log) Emit(ev Event) bool {
	if l == nil || !l.running.Load() {
		return false
	}
	if !l.globalLimiter.Allow() {
		l.dropped.Add(1)
		return false
	}
	if ev.Arena != "" && !l.arenaLimiter(ev.Arena).Allow() {
		l.dropped.Add(1)
		return false
	}

	l.mu.Lock()
	if l.head-l.tail >= BufferSize {
		l.tail++
		l.dropped.Add(1)
	}
	ev.Sequence = l.head
	l.buffer[l.head%BufferSize] = ev
	l.head++
	l.mu.Unlock()

	l.total.Add(1)
	return true
}

// Record builds and emits an event in one call.
func (l *Log) Record(typ Type, arena string, tick uint64, player uint32, payload any) bool {
	if l == nil || !l.running.Load() {
		return false
	}
	return l.Emit(NewEvent(typ, arena, tick, player, payload))
}

func (l *Log) arenaLimiter(arena string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := l.arenaLimiters.Load(arena); ok {
		e := v.(*arenaLimiterEntry)
		e.lastUsed.Store(now)
		return e.limiter
	}
	entry := &arenaLimiterEntry{
		limiter: rate.NewLimiter(MaxEventsPerArena, MaxEventsPerArena/10),
	}
	entry.lastUsed.Store(now)
	actual, _ := l.arenaLimiters.LoadOrStore(arena, entry)
	return actual.(*arenaLimiterEntry).limiter
}

func (l *Log) writerLoop() {
	defer l.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-l.stopChan:
			for {
				batch = l.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				l.flushBatch(batch)
			}
		case <-ticker.C:
			batch = l.collectBatch(batch[:0])
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
		}
	}
}

func (l *Log) cleanupLoop() {
	defer l.writerWg.Done()

	ticker := time.NewTicker(ArenaLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanupArenaLimiters()
		}
	}
}

func (l *Log) cleanupArenaLimiters() {
	cutoff := time.Now().Add(-ArenaLimiterCleanup).UnixNano()
	l.arenaLimiters.Range(func(key, value any) bool {
		if value.(*arenaLimiterEntry).lastUsed.Load() < cutoff {
			l.arenaLimiters.Delete(key)
		}
		return true
	})
}

func (l *Log) collectBatch(batch []Event) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.tail < l.head && len(batch) < BatchFlushSize {
		batch = append(batch, l.buffer[l.tail%BufferSize])
		l.tail++
	}
	return batch
}

// flushBatch appends newline-delimited JSON to the output.
func (l *Log) flushBatch(batch []Event) {
	if l.out == nil {
		return
	}
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		data = append(data, '\n')
		if _, err := l.out.Write(data); err != nil {
			l.mu.Lock()
			if l.writeErr == nil {
				l.writeErr = err
			}
			l.mu.Unlock()
			return
		}
	}
}

// Stats is a monitoring snapshot.
type Stats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

// Stats returns counters for the metrics endpoint. A nil log reports zeros.
func (l *Log) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mu.Lock()
	pending := l.head - l.tail
	l.mu.Unlock()
	return Stats{
		Total:   l.total.Load(),
		Dropped: l.dropped.Load(),
		Pending: pending,
		Running: l.running.Load(),
	}
}
