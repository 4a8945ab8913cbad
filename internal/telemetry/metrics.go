package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openquiz/escaperoom/internal/domain"
	"github.com/openquiz/escaperoom/internal/event"
)

// QuizMetricsConfig wires the quiz metrics to their data sources.
type QuizMetricsConfig struct {
	Registerer prometheus.Registerer
	EventBus   *event.Bus
	// SessionCount reports the number of live session records.
	SessionCount func() int
}

// RegisterQuizMetrics exports quiz counters driven by domain events and
// a live-session gauge.
func RegisterQuizMetrics(c QuizMetricsConfig) error {
	started := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quiz_sessions_started_total",
		Help: "Sessions created, including resets.",
	})
	completed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quiz_sessions_completed_total",
		Help: "Sessions that answered every question.",
	})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quiz_sessions_expired_total",
		Help: "Sessions locked by the time limit.",
	})
	answers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_answers_total",
		Help: "Answer submissions by outcome.",
	}, []string{"result"})
	live := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "quiz_sessions_live",
		Help: "Session records currently held in memory.",
	}, func() float64 { return float64(c.SessionCount()) })

	for _, col := range []prometheus.Collector{started, completed, expired, answers, live} {
		if err := c.Registerer.Register(col); err != nil {
			return err
		}
	}

	c.EventBus.Subscribe(domain.EventNameSessionStarted, func(context.Context, event.Event) error {
		started.Inc()
		return nil
	})
	c.EventBus.Subscribe(domain.EventNameSessionCompleted, func(context.Context, event.Event) error {
		completed.Inc()
		return nil
	})
	c.EventBus.Subscribe(domain.EventNameSessionExpired, func(context.Context, event.Event) error {
		expired.Inc()
		return nil
	})
	c.EventBus.Subscribe(domain.EventNameAnswerSubmitted, func(_ context.Context, e event.Event) error {
		result := "wrong"
		if e.(domain.EventAnswerSubmitted).Answer.IsCorrect {
			result = "correct"
		}
		answers.WithLabelValues(result).Inc()
		return nil
	})

	return nil
}
