package antispam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesEvaluated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_messages_evaluated_total",
	Help: "Guild messages run through the flood evaluator",
})

var messagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_messages_skipped_total",
	Help: "Bot or direct messages ignored by the evaluator",
})

var violations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_violations_total",
	Help: "Flood violations detected",
})

var evaluateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "spamguard_evaluate_duration_seconds",
	Help:    "Time spent evaluating a single message",
	Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
})
