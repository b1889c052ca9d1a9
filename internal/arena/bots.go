package arena

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// lateGrace is how long a timed-out decision may take to return before it
// is abandoned.
const lateGrace = time.Millisecond

// BotController decides how many bots an arena should carry and collects
// their inputs each tick.
type BotController struct {
	minPopulation int
	maxPopulation int
	maxBots       int
	percent       int
	timeout       time.Duration

	// late receives the answer of an abandoned decision. While it is set no
	// new decision is started, so the decider never runs twice at once.
	late chan decision
}

type decision struct {
	payload Payload
	ok      bool
	err     error
}

// NewBotController reads the population bounds from cfg. cfg should already
// have its defaults applied.
func NewBotController(cfg Config) *BotController {
	return &BotController{
		minPopulation: cfg.MinPopulation,
		maxPopulation: cfg.MaxPopulation,
		maxBots:       cfg.MaxBots,
		percent:       cfg.BotPercent,
		timeout:       cfg.BotDecisionTimeout,
	}
}

// Desired is the bot count wanted next to real players.
func (b *BotController) Desired(real int) int {
	want := b.minPopulation - real
	if b.percent > 0 {
		if byPercent := real * b.percent / 100; byPercent > want {
			want = byPercent
		}
	}
	if b.maxBots > 0 && want > b.maxBots {
		want = b.maxBots
	}
	if room := b.maxPopulation - real; want > room {
		want = room
	}
	if want < 0 {
		want = 0
	}
	return want
}

// Plan returns how many bots to spawn or retire. At most one of the two is
// non-zero.
func (b *BotController) Plan(real, bots int) (spawn, retire int) {
	want := b.Desired(real)
	switch {
	case bots < want:
		return want - bots, 0
	case bots > want:
		return 0, bots - want
	default:
		return 0, 0
	}
}

// BotOutcome tallies one round of bot decisions.
type BotOutcome struct {
	Inputs   []Input
	TimedOut int
	Failed   int
	Idle     int
	Skipped  int // not asked because an earlier decision is still running
}

// Decide asks decider for one input per bot, in the order given. Each call
// runs under its own deadline and is abandoned when it overruns, so a
// decider that ignores ctx costs at most one timeout per tick. A late,
// failed or empty answer yields no input.
func (b *BotController) Decide(ctx context.Context, decider BotDecider, bots []PlayerID) BotOutcome {
	var out BotOutcome
	if decider == nil || len(bots) == 0 {
		return out
	}
	out.Inputs = make([]Input, 0, len(bots))
	for i, id := range bots {
		if b.Busy() {
			out.Skipped += len(bots) - i
			break
		}
		payload, ok, err := b.decideOne(ctx, decider, id)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			out.TimedOut++
		case err != nil:
			out.Failed++
		case !ok:
			out.Idle++
		default:
			out.Inputs = append(out.Inputs, Input{Player: id, Payload: payload})
		}
	}
	return out
}

// Busy reports whether an abandoned decision is still running.
func (b *BotController) Busy() bool {
	if b.late == nil {
		return false
	}
	select {
	case <-b.late:
		b.late = nil
		return false
	default:
		return true
	}
}

func (b *BotController) decideOne(ctx context.Context, decider BotDecider, id PlayerID) (Payload, bool, error) {
	dctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan decision, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- decision{err: fmt.Errorf("bot decision panicked: %v", r)}
			}
		}()
		payload, ok, err := decider.BotDecision(dctx, id)
		done <- decision{payload: payload, ok: ok, err: err}
	}()

	select {
	case d := <-done:
		if d.err != nil {
			if dctx.Err() != nil {
				return nil, false, context.DeadlineExceeded
			}
			return nil, false, d.err
		}
		// An answer that arrives after the deadline is discarded.
		if dctx.Err() != nil {
			return nil, false, context.DeadlineExceeded
		}
		return d.payload, d.ok, nil
	case <-dctx.Done():
		// A decider that honors ctx returns right away.
		grace := time.NewTimer(lateGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			b.late = done
		}
		return nil, false, context.DeadlineExceeded
	}
}
