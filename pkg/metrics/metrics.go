package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters the evaluation pipeline reports into.
type Metrics struct {
	MessagesEvaluated *prometheus.CounterVec
	RulesMatched      *prometheus.CounterVec
	ActionsExecuted   *prometheus.CounterVec
	RateLimited       *prometheus.CounterVec
	DeletesExecuted   *prometheus.CounterVec
	StatsFlushed      prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		MessagesEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoresponder_messages_evaluated_total",
			Help: "Messages run through rule evaluation, by outcome.",
		}, []string{"outcome"}),
		RulesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoresponder_rules_matched_total",
			Help: "Rule matches, by scope.",
		}, []string{"scope"}),
		ActionsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoresponder_actions_executed_total",
			Help: "Actions executed, by action type and result.",
		}, []string{"action", "result"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoresponder_rate_limited_total",
			Help: "Actions suppressed by cooldowns, by kind.",
		}, []string{"kind"}),
		DeletesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoresponder_deletes_executed_total",
			Help: "Scheduled message deletions, by result.",
		}, []string{"result"}),
		StatsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoresponder_stats_flushed_total",
			Help: "Usage events flushed to the store.",
		}),
	}
}

// Register attaches all collectors to the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.MessagesEvaluated,
		m.RulesMatched,
		m.ActionsExecuted,
		m.RateLimited,
		m.DeletesExecuted,
		m.StatsFlushed,
	)
}
