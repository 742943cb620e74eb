package engine

import "github.com/prometheus/client_golang/prometheus"

// EngineHooks receives engine events, typically wired to Prometheus by
// Metrics.Hooks. Nil fields are skipped.
type EngineHooks struct {
	OnDecision        func(d *Decision, duration float64)
	OnScorerCall      func(outcome string, duration float64)
	OnValidationError func()
	OnAuditFailure    func()
}

func (h EngineHooks) onDecision(d *Decision, duration float64) {
	if h.OnDecision != nil {
		h.OnDecision(d, duration)
	}
}

func (h EngineHooks) onScorerCall(outcome string, duration float64) {
	if h.OnScorerCall != nil {
		h.OnScorerCall(outcome, duration)
	}
}

func (h EngineHooks) onValidationError() {
	if h.OnValidationError != nil {
		h.OnValidationError()
	}
}

func (h EngineHooks) onAuditFailure() {
	if h.OnAuditFailure != nil {
		h.OnAuditFailure()
	}
}

// Metrics holds Prometheus metrics for the decision engine.
type Metrics struct {
	DecisionsTotal      *prometheus.CounterVec
	DecisionDuration    *prometheus.HistogramVec
	ScoreProbability    prometheus.Histogram
	ScorerCallsTotal    *prometheus.CounterVec
	ScorerDuration      prometheus.Histogram
	ValidationsRejected prometheus.Counter
	AuditFailuresTotal  prometheus.Counter
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quell_decisions_total",
			Help: "Total alert decisions by verdict and reason.",
		}, []string{"verdict", "reason"}),
		DecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quell_decision_duration_seconds",
			Help:    "End-to-end decision pipeline duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}, []string{"verdict"}),
		ScoreProbability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quell_score_probability",
			Help:    "Suppression probabilities returned by the scorer.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 .. 1.0
		}),
		ScorerCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quell_scorer_calls_total",
			Help: "Scorer calls by outcome (ok, unavailable, error).",
		}, []string{"outcome"}),
		ScorerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quell_scorer_call_duration_seconds",
			Help:    "Duration of scorer calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		ValidationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quell_alerts_rejected_total",
			Help: "Raw alerts rejected by normalization.",
		}),
		AuditFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quell_audit_append_failures_total",
			Help: "Audit log append failures (decisions aborted).",
		}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.DecisionDuration,
		m.ScoreProbability,
		m.ScorerCallsTotal,
		m.ScorerDuration,
		m.ValidationsRejected,
		m.AuditFailuresTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnDecision: func(d *Decision, duration float64) {
			m.DecisionsTotal.WithLabelValues(string(d.Verdict), string(d.Reason)).Inc()
			m.DecisionDuration.WithLabelValues(string(d.Verdict)).Observe(duration)
			if d.Score != nil {
				m.ScoreProbability.Observe(d.Score.Probability)
			}
		},
		OnScorerCall: func(outcome string, duration float64) {
			m.ScorerCallsTotal.WithLabelValues(outcome).Inc()
			m.ScorerDuration.Observe(duration)
		},
		OnValidationError: func() {
			m.ValidationsRejected.Inc()
		},
		OnAuditFailure: func() {
			m.AuditFailuresTotal.Inc()
		},
	}
}
