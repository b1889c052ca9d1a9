package arena

import (
	"errors"
	"fmt"
	"time"
)

// Config describes one kind of arena. Every arena started from the same
// Config behaves identically apart from its players.
type Config struct {
	Kind   string // registry key, e.g. "tally"
	Plugin string // simulation factory name

	TickInterval time.Duration

	Capacity      int // max real players; 0 means MaxPopulation
	MinPopulation int // bots are added below this
	MaxPopulation int // hard cap on real + bot sessions
	MaxBots       int // 0 means no cap beyond MaxPopulation
	BotPercent    int // bots wanted per 100 real players

	Limbo              time.Duration // how long a disconnected session lingers
	AdvanceTimeout     time.Duration // Advance longer than this is a stalled tick
	BotDecisionTimeout time.Duration // per bot, per tick

	MailboxSize  int
	ExplicitAcks bool // false: LastAcked advances after every accepted push

	Options map[string]string // plugin specific settings
}

// DefaultConfig returns the settings used for anything a kind leaves unset.
func DefaultConfig() Config {
	return Config{
		Kind:               "default",
		TickInterval:       100 * time.Millisecond,
		MinPopulation:      0,
		MaxPopulation:      32,
		Limbo:              6 * time.Second,
		AdvanceTimeout:     50 * time.Millisecond,
		BotDecisionTimeout: 5 * time.Millisecond,
		MailboxSize:        256,
	}
}

// WithDefaults fills zero fields from DefaultConfig and clamps Capacity.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.Plugin == "" {
		c.Plugin = c.Kind
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxPopulation <= 0 {
		c.MaxPopulation = d.MaxPopulation
	}
	if c.Capacity <= 0 || c.Capacity > c.MaxPopulation {
		c.Capacity = c.MaxPopulation
	}
	if c.AdvanceTimeout <= 0 {
		c.AdvanceTimeout = d.AdvanceTimeout
	}
	if c.BotDecisionTimeout <= 0 {
		c.BotDecisionTimeout = d.BotDecisionTimeout
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	if c.Limbo < 0 {
		c.Limbo = 0
	}
	return c
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if c.MinPopulation < 0 {
		errs = append(errs, fmt.Errorf("min_population %d is negative", c.MinPopulation))
	}
	if c.MaxPopulation > 0 && c.MinPopulation > c.MaxPopulation {
		errs = append(errs, fmt.Errorf("min_population %d exceeds max_population %d", c.MinPopulation, c.MaxPopulation))
	}
	if c.BotPercent < 0 {
		errs = append(errs, fmt.Errorf("bot_percent %d is negative", c.BotPercent))
	}
	if c.MaxBots < 0 {
		errs = append(errs, fmt.Errorf("max_bots %d is negative", c.MaxBots))
	}
	if c.TickInterval > 0 && c.AdvanceTimeout > c.TickInterval*10 {
		errs = append(errs, fmt.Errorf("advance_timeout %s is more than ten ticks", c.AdvanceTimeout))
	}
	return errors.Join(errs...)
}
