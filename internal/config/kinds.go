package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"arena-host/internal/arena"
)

// Kind is one arena kind as written in the kinds file.
type Kind struct {
	Name   string `yaml:"name"`
	Plugin string `yaml:"plugin"`

	TickInterval time.Duration `yaml:"tick_interval"`

	Capacity      int `yaml:"capacity"`
	MinPopulation int `yaml:"min_population"`
	MaxPopulation int `yaml:"max_population"`
	MaxBots       int `yaml:"max_bots"`
	BotPercent    int `yaml:"bot_percent"`

	Limbo              time.Duration `yaml:"limbo"`
	AdvanceTimeout     time.Duration `yaml:"advance_timeout"`
	BotDecisionTimeout time.Duration `yaml:"bot_decision_timeout"`

	MailboxSize  int  `yaml:"mailbox_size"`
	ExplicitAcks bool `yaml:"explicit_acks"`

	Options map[string]string `yaml:"options"`
}

// Arena converts the kind into an arena configuration with defaults applied.
func (k Kind) Arena() arena.Config {
	return arena.Config{
		Kind:               k.Name,
		Plugin:             k.Plugin,
		TickInterval:       k.TickInterval,
		Capacity:           k.Capacity,
		MinPopulation:      k.MinPopulation,
		MaxPopulation:      k.MaxPopulation,
		MaxBots:            k.MaxBots,
		BotPercent:         k.BotPercent,
		Limbo:              k.Limbo,
		AdvanceTimeout:     k.AdvanceTimeout,
		BotDecisionTimeout: k.BotDecisionTimeout,
		MailboxSize:        k.MailboxSize,
		ExplicitAcks:       k.ExplicitAcks,
		Options:            k.Options,
	}.WithDefaults()
}

type kindsFile struct {
	Kinds []Kind `yaml:"kinds"`
}

// DefaultKinds is used when no kinds file is configured: a single tally
// arena kept between two and six sessions.
func DefaultKinds() []Kind {
	return []Kind{{
		Name:          "tally",
		Plugin:        "tally",
		TickInterval:  100 * time.Millisecond,
		Capacity:      6,
		MinPopulation: 2,
		MaxPopulation: 6,
		Limbo:         6 * time.Second,
	}}
}

// LoadKinds reads a YAML kinds file. An empty path returns DefaultKinds.
func LoadKinds(path string) ([]arena.Config, error) {
	if path == "" {
		return kindConfigs(DefaultKinds())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read kinds: %w", err)
	}
	return ParseKinds(data)
}

// ParseKinds decodes a kinds document. Unknown fields are rejected.
func ParseKinds(data []byte) ([]arena.Config, error) {
	var f kindsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse kinds: %w", err)
	}
	if len(f.Kinds) == 0 {
		return nil, errors.New("config: kinds file defines no kinds")
	}
	return kindConfigs(f.Kinds)
}

func kindConfigs(kinds []Kind) ([]arena.Config, error) {
	seen := make(map[string]bool, len(kinds))
	out := make([]arena.Config, 0, len(kinds))
	var errs []error
	for i, k := range kinds {
		if k.Name == "" {
			errs = append(errs, fmt.Errorf("kind #%d has no name", i+1))
			continue
		}
		if seen[k.Name] {
			errs = append(errs, fmt.Errorf("kind %q defined twice", k.Name))
			continue
		}
		seen[k.Name] = true

		cfg := k.Arena()
		if err := cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("kind %q: %w", k.Name, err))
			continue
		}
		out = append(out, cfg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return out, nil
}
