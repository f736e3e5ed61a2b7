package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
)

// EngineMetrics records engine events as Prometheus series.
type EngineMetrics struct {
	service string

	strategyTotal  *prometheus.CounterVec
	sourceTotal    *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	judgeTotal     *prometheus.CounterVec
	answerTotal    *prometheus.CounterVec
	confidence     *prometheus.HistogramVec
	conflictsTotal *prometheus.CounterVec
}

var _ ports.Observer = (*EngineMetrics)(nil)

func NewEngineMetrics(service string, registerer prometheus.Registerer) *EngineMetrics {
	strategyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "engine",
			Name:      "strategy_total",
			Help:      "Classified queries by retrieval strategy.",
		},
		[]string{"service", "strategy"},
	)
	sourceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "source",
			Name:      "calls_total",
			Help:      "Evidence source calls by origin and status.",
		},
		[]string{"service", "origin", "status"},
	)
	sourceDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evidence",
			Subsystem: "source",
			Name:      "duration_seconds",
			Help:      "Evidence source call duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"service", "origin"},
	)
	judgeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "judge",
			Name:      "calls_total",
			Help:      "Relevance judge calls by outcome.",
		},
		[]string{"service", "outcome"},
	)
	answerTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "engine",
			Name:      "answers_total",
			Help:      "Answered queries by outcome.",
		},
		[]string{"service", "outcome"},
	)
	confidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evidence",
			Subsystem: "engine",
			Name:      "confidence",
			Help:      "Distribution of answer confidence.",
			Buckets:   []float64{0, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99},
		},
		[]string{"service"},
	)
	conflictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "engine",
			Name:      "conflicts_total",
			Help:      "Detected relational/semantic conflicts by severity.",
		},
		[]string{"service", "severity"},
	)

	registerer.MustRegister(strategyTotal, sourceTotal, sourceDuration, judgeTotal, answerTotal, confidence, conflictsTotal)

	return &EngineMetrics{
		service:        service,
		strategyTotal:  strategyTotal,
		sourceTotal:    sourceTotal,
		sourceDuration: sourceDuration,
		judgeTotal:     judgeTotal,
		answerTotal:    answerTotal,
		confidence:     confidence,
		conflictsTotal: conflictsTotal,
	}
}

func (m *EngineMetrics) ObserveStrategy(strategy domain.Strategy) {
	m.strategyTotal.WithLabelValues(m.service, string(strategy)).Inc()
}

func (m *EngineMetrics) ObserveSource(report domain.SourceReport) {
	m.sourceTotal.WithLabelValues(m.service, string(report.Origin), string(report.Status)).Inc()
	m.sourceDuration.WithLabelValues(m.service, string(report.Origin)).Observe(report.DurationMS / 1000)
}

func (m *EngineMetrics) ObserveJudge(failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.judgeTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *EngineMetrics) ObserveAnswer(resp *domain.Response) {
	if resp == nil {
		return
	}
	m.answerTotal.WithLabelValues(m.service, answerOutcome(resp)).Inc()
	if resp.Fault == nil {
		m.confidence.WithLabelValues(m.service).Observe(resp.Confidence)
	}
	for _, c := range resp.Conflicts {
		m.conflictsTotal.WithLabelValues(m.service, string(c.Severity)).Inc()
	}
}

func answerOutcome(resp *domain.Response) string {
	switch {
	case resp.Fault != nil:
		return "fault"
	case len(resp.Items) == 0:
		return "empty"
	case len(resp.Conflicts) > 0:
		return "conflict"
	default:
		return "ok"
	}
}
