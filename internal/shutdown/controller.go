package shutdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"arena-host/internal/arena"
)

// Target is an arena as seen by the controller.
type Target interface {
	ID() arena.ID
	Drain(ctx context.Context) (arena.DrainReport, error)
	ForceStop()
	Done() <-chan struct{}
}

// Registry lists the arenas to drain. It must not return arenas created
// after the state left Running.
type Registry interface {
	Targets() []Target
}

// TimeoutError reports arenas that had to be force-stopped.
type TimeoutError struct {
	Timeout time.Duration
	Arenas  []arena.ID
}

func (e *TimeoutError) Error() string {
	ids := make([]string, len(e.Arenas))
	for i, id := range e.Arenas {
		ids[i] = id.String()
	}
	return fmt.Sprintf("shutdown timed out after %s, force-stopped %d arena(s): %s",
		e.Timeout, len(e.Arenas), strings.Join(ids, ", "))
}

// forceGrace is how long a force-stopped arena gets to exit its loop.
const forceGrace = time.Second

// Controller drains every arena once, in parallel, bounded by a timeout.
type Controller struct {
	state    *State
	registry Registry
	timeout  time.Duration
	log      *zap.Logger

	once    sync.Once
	done    chan struct{}
	err     error
	reports []arena.DrainReport
}

func NewController(state *State, registry Registry, timeout time.Duration, log *zap.Logger) *Controller {
	return &Controller{
		state:    state,
		registry: registry,
		timeout:  timeout,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Shutdown moves the process to Draining, drains all arenas and finally
// moves to Stopped. Arenas that do not acknowledge within the timeout are
// force-stopped and reported in a *TimeoutError. Concurrent and repeated
// calls wait for the first one and return its result.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		defer close(c.done)
		c.err = c.run(ctx)
	})
	<-c.done
	return c.err
}

// Reports returns the drain acknowledgments collected by Shutdown.
func (c *Controller) Reports() []arena.DrainReport {
	select {
	case <-c.done:
		return c.reports
	default:
		return nil
	}
}

func (c *Controller) run(ctx context.Context) error {
	c.state.Advance(Draining)
	start := time.Now()
	targets := c.registry.Targets()
	c.log.Info("draining arenas", zap.Int("arenas", len(targets)), zap.Duration("timeout", c.timeout))

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		errs    error
		wg      sync.WaitGroup
		drained = make(map[arena.ID]bool, len(targets))
	)
	for _, t := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			report, err := t.Drain(dctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, context.DeadlineExceeded) {
					errs = multierr.Append(errs, fmt.Errorf("drain arena %s: %w", t.ID(), err))
				}
				return
			}
			drained[t.ID()] = true
			c.reports = append(c.reports, report)
			if report.Err != nil {
				// Per-arena failures were logged when they happened.
				c.log.Warn("arena had failed before drain", zap.String("arena", t.ID().String()), zap.Error(report.Err))
			}
		}(t)
	}
	wg.Wait()

	var laggards []arena.ID
	for _, t := range targets {
		if drained[t.ID()] {
			continue
		}
		select {
		case <-t.Done():
			continue
		default:
		}
		laggards = append(laggards, t.ID())
		t.ForceStop()
	}
	if len(laggards) > 0 {
		c.awaitForced(targets)
		terr := &TimeoutError{Timeout: c.timeout, Arenas: laggards}
		c.log.Warn("shutdown timeout", zap.Error(terr))
		errs = multierr.Append(errs, terr)
	}

	c.state.Advance(Stopped)
	c.log.Info("all arenas stopped",
		zap.Int("drained", len(c.reports)),
		zap.Int("forced", len(laggards)),
		zap.Duration("took", time.Since(start)))
	return errs
}

func (c *Controller) awaitForced(targets []Target) {
	deadline := time.NewTimer(forceGrace)
	defer deadline.Stop()
	for _, t := range targets {
		select {
		case <-t.Done():
		case <-deadline.C:
			c.log.Error("arena did not exit after force stop", zap.String("arena", t.ID().String()))
			return
		}
	}
}
