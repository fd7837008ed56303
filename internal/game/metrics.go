package game

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_generation_outcomes_total",
			Help: "Narrative generation calls by operation and outcome (generated or fallback).",
		},
		[]string{"operation", "outcome"},
	)
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyforge_generation_duration_seconds",
			Help:    "Time spent waiting on the narrative generator, including abandoned calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	turnsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyforge_turns_processed_total",
		Help: "Player actions folded into session state.",
	})
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyforge_sessions_started_total",
		Help: "Sessions created.",
	})
	updateConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyforge_session_update_conflicts_total",
		Help: "Session writes rejected because the document changed after it was read.",
	})
)

func observeGeneration(operation string, err error, took time.Duration) {
	outcome := "generated"
	if err != nil {
		outcome = "fallback"
	}
	generationOutcomes.WithLabelValues(operation, outcome).Inc()
	generationDuration.WithLabelValues(operation).Observe(took.Seconds())
}
