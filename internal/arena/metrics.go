package arena

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are bounded: arena kinds come from config, reasons and states are
// fixed strings. Arena and player IDs never appear as labels.
var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_ticks_total",
		Help: "Completed arena ticks",
	}, []string{"kind"})

	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_tick_duration_seconds",
		Help:    "Time spent in one arena tick, bots and dispatch included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"kind"})

	ticksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_ticks_dropped_total",
		Help: "Scheduler firings dropped on overrun",
	}, []string{"kind"})

	arenaFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_failures_total",
		Help: "Arenas stopped by a failed or stalled tick",
	}, []string{"kind"})

	joinsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_joins_rejected_total",
		Help: "Joins refused by an arena",
	}, []string{"reason"}) // "full", "draining"

	inputsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_inputs_dropped_total",
		Help: "Inputs dropped before reaching a tick",
	}, []string{"reason"}) // "unknown_player", "draining", "canceled"

	acksStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_acks_ignored_total",
		Help: "Client acks that were stale or ahead of the arena",
	})

	botDecisionsMissed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_bot_decisions_missed_total",
		Help: "Bot decisions that produced no input",
	}, []string{"reason"}) // "timeout", "error", "busy"

	pushesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_pushes_dropped_total",
		Help: "Outbound payloads the gateway could not queue",
	})

	sessionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arena_sessions",
		Help: "Sessions across all arenas",
	}, []string{"kind", "bot"})

	arenasGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arenas",
		Help: "Arenas by lifecycle state",
	}, []string{"state"})
)
