package triage

import "github.com/prometheus/client_golang/prometheus"

// Hooks lets the service report pipeline events without a hard metrics
// dependency. Nil fields are skipped.
type Hooks struct {
	OnOutcome       func(outcome string, durationSec float64)
	OnCacheHit      func(source string)
	OnClassify      func(tokensIn, tokensOut int)
	OnRecordCreated func(kind string, ok bool)
	OnCatalogAction func()
	OnEscalation    func()
}

func (h Hooks) outcome(o string, d float64) {
	if h.OnOutcome != nil {
		h.OnOutcome(o, d)
	}
}

func (h Hooks) cacheHit(source string) {
	if h.OnCacheHit != nil {
		h.OnCacheHit(source)
	}
}

func (h Hooks) classify(in, out int) {
	if h.OnClassify != nil {
		h.OnClassify(in, out)
	}
}

func (h Hooks) recordCreated(kind string, ok bool) {
	if h.OnRecordCreated != nil {
		h.OnRecordCreated(kind, ok)
	}
}

func (h Hooks) catalogRedirect() {
	if h.OnCatalogAction != nil {
		h.OnCatalogAction()
	}
}

func (h Hooks) escalation() {
	if h.OnEscalation != nil {
		h.OnEscalation()
	}
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal     *prometheus.CounterVec
	TriageDuration   *prometheus.HistogramVec
	CacheHitsTotal   *prometheus.CounterVec
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	RecordsCreated   *prometheus.CounterVec
	CatalogRedirects prometheus.Counter
	Escalations      prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_triages_total",
			Help: "Total triage runs by outcome.",
		}, []string{"outcome"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"outcome"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_cache_hits_total",
			Help: "Short-circuited runs by cache layer (idempotency or route).",
		}, []string{"source"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed by classification.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed by classification.",
		}),
		RecordsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_records_created_total",
			Help: "Auto-created downstream records by kind and result.",
		}, []string{"kind", "result"}),
		CatalogRedirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_catalog_redirects_total",
			Help: "Cases redirected to the service catalog.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_escalations_total",
			Help: "Business-intelligence escalations sent.",
		}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.CacheHitsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.RecordsCreated,
		m.CatalogRedirects,
		m.Escalations,
	)

	return m
}

// Hooks returns a Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnOutcome: func(outcome string, durationSec float64) {
			m.TriagesTotal.WithLabelValues(outcome).Inc()
			m.TriageDuration.WithLabelValues(outcome).Observe(durationSec)
		},
		OnCacheHit: func(source string) {
			m.CacheHitsTotal.WithLabelValues(source).Inc()
		},
		OnClassify: func(in, out int) {
			m.LLMTokensIn.Add(float64(in))
			m.LLMTokensOut.Add(float64(out))
		},
		OnRecordCreated: func(kind string, ok bool) {
			result := "created"
			if !ok {
				result = "failed"
			}
			m.RecordsCreated.WithLabelValues(kind, result).Inc()
		},
		OnCatalogAction: func() { m.CatalogRedirects.Inc() },
		OnEscalation:    func() { m.Escalations.Inc() },
	}
}
