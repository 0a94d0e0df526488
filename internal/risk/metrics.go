package risk

import "github.com/prometheus/client_golang/prometheus"

var (
	assessmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "risk",
		Name:      "assessments_total",
		Help:      "Completed assessments by recommended action.",
	}, []string{"action"})

	ruleTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "risk",
		Name:      "rule_triggers_total",
		Help:      "Triggered rules by rule id.",
	}, []string{"rule_id"})

	evaluationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "risk",
		Name:      "evaluation_failures_total",
		Help:      "Fatal evaluation failures by backend and reason.",
	}, []string{"backend", "reason"})

	evaluationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "riskguard",
		Subsystem: "risk",
		Name:      "evaluation_duration_seconds",
		Help:      "Backend evaluation latency.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"backend"})
)

func init() {
	prometheus.MustRegister(assessmentsTotal, ruleTriggers, evaluationFailures, evaluationDuration)
}
