package mitigation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_mitigation_actions_total",
	Help: "Mitigation actions by action and result",
}, []string{"action", "result"})

var actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "spamguard_mitigation_action_duration_seconds",
	Help:    "Latency of mitigation actions",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
}, []string{"action"})

var messagesPurged = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_messages_purged_total",
	Help: "Messages deleted by purges",
})

var violationsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_violations_dropped_total",
	Help: "Violations dropped because the mitigation queue was full",
})

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "spamguard_mitigation_queue_depth",
	Help: "Violations waiting for a mitigation worker",
})
