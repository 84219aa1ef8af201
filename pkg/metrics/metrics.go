// Package metrics holds the engine's Prometheus collectors: pipeline stage
// outcomes and latency, outbox claim/publish results, bus fan-out, and saga
// step/compensation outcomes. The package only collects; per SPEC_FULL.md
// §11 nothing here mounts an HTTP scrape endpoint, so Handler is exposed
// for an embedding application to wire in if it wants one.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the engine's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	pipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventcore",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of a single pipeline stage invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"stage", "outcome"},
	)

	pipelineEventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "pipeline",
			Name:      "events_processed_total",
			Help:      "Total number of events that completed the pipeline, by outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	pipelineDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "pipeline",
			Name:      "dead_lettered_total",
			Help:      "Total number of events moved to the dead-letter sink after exhausting retries.",
		},
		[]string{"event_type", "reason"},
	)

	outboxClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "outbox",
			Name:      "claims_total",
			Help:      "Total number of outbox claim attempts, by result.",
		},
		[]string{"result"},
	)

	outboxPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventcore",
			Subsystem: "outbox",
			Name:      "publish_duration_seconds",
			Help:      "Duration of a single outbox entry publish attempt to the bus.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"status"},
	)

	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventcore",
			Subsystem: "outbox",
			Name:      "pending_depth",
			Help:      "Number of outbox entries currently in NEW or CLAIMED state.",
		},
	)

	busFanout = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "bus",
			Name:      "fanout_total",
			Help:      "Total number of per-subscriber delivery attempts, by topic and result.",
		},
		[]string{"topic", "result"},
	)

	completionWaits = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventcore",
			Subsystem: "completion",
			Name:      "wait_duration_seconds",
			Help:      "Time a caller spent blocked on a completion waiter.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"outcome"},
	)

	sagaSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "saga",
			Name:      "step_outcomes_total",
			Help:      "Total number of orchestrated saga step completions, by outcome.",
		},
		[]string{"saga_type", "step", "outcome"},
	)

	sagaCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "saga",
			Name:      "compensations_total",
			Help:      "Total number of saga compensation actions run, by result.",
		},
		[]string{"saga_type", "step", "result"},
	)

	idgenExhaustion = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "idgen",
			Name:      "exhaustion_total",
			Help:      "Total number of times the identifier generator observed sequence exhaustion within a tick.",
		},
		[]string{"replica_id"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		pipelineStageDuration,
		pipelineEventsProcessed,
		pipelineDeadLettered,
		outboxClaims,
		outboxPublishDuration,
		outboxDepth,
		busFanout,
		completionWaits,
		sagaSteps,
		sagaCompensations,
		idgenExhaustion,
	)
}

// Handler exposes the registry for an embedding application's own HTTP
// mux; the engine itself never listens on a port.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordPipelineStage records a single stage invocation's duration and
// outcome (the pipeline reports "ok", "retry" and "conflict").
func RecordPipelineStage(stage, outcome string, dur time.Duration) {
	pipelineStageDuration.WithLabelValues(stage, outcome).Observe(dur.Seconds())
}

// RecordPipelineCompletion records an event's terminal pipeline outcome.
func RecordPipelineCompletion(eventType, outcome string) {
	pipelineEventsProcessed.WithLabelValues(eventType, outcome).Inc()
}

// RecordDeadLetter records an event routed to the dead-letter sink.
func RecordDeadLetter(eventType, reason string) {
	pipelineDeadLettered.WithLabelValues(eventType, reason).Inc()
}

// RecordOutboxClaim records a claim attempt's result ("claimed", "lost_race", "error").
func RecordOutboxClaim(result string) {
	outboxClaims.WithLabelValues(result).Inc()
}

// RecordOutboxPublish records a single publish attempt's duration and status.
func RecordOutboxPublish(status string, dur time.Duration) {
	outboxPublishDuration.WithLabelValues(status).Observe(dur.Seconds())
}

// SetOutboxDepth sets the current pending-entry gauge.
func SetOutboxDepth(depth int) {
	outboxDepth.Set(float64(depth))
}

// RecordBusFanout records one subscriber delivery outcome for a topic.
func RecordBusFanout(topic, result string) {
	busFanout.WithLabelValues(topic, result).Inc()
}

// RecordCompletionWait records how long a caller waited on a completion
// waiter and how it resolved ("completed", "failed", "timeout", "cancelled").
func RecordCompletionWait(outcome string, dur time.Duration) {
	completionWaits.WithLabelValues(outcome).Observe(dur.Seconds())
}

// RecordSagaStep records an orchestrated step's outcome.
func RecordSagaStep(sagaType, step, outcome string) {
	sagaSteps.WithLabelValues(sagaType, step, outcome).Inc()
}

// RecordSagaCompensation records a compensation action's result.
func RecordSagaCompensation(sagaType, step, result string) {
	sagaCompensations.WithLabelValues(sagaType, step, result).Inc()
}

// RecordIDGenExhaustion records a sequence-exhaustion event for a replica.
func RecordIDGenExhaustion(replicaID string) {
	idgenExhaustion.WithLabelValues(replicaID).Inc()
}

// fanoutWindow keeps a small in-memory ring of recent bus fan-out outcomes
// so an operator surface can show "fan-out failures in the last N minutes"
// without querying Prometheus directly.
type fanoutSample struct {
	topic string
	ok    bool
	at    time.Time
}

var (
	fanoutMu      sync.Mutex
	fanoutSamples []fanoutSample
	fanoutCap     = 10000
)

// RecordBusFanoutSample appends a recent fan-out outcome to the in-memory
// window, trimming the oldest entries once the window exceeds fanoutCap.
func RecordBusFanoutSample(topic string, ok bool, at time.Time) {
	fanoutMu.Lock()
	defer fanoutMu.Unlock()
	fanoutSamples = append(fanoutSamples, fanoutSample{topic: topic, ok: ok, at: at})
	if len(fanoutSamples) > fanoutCap {
		fanoutSamples = fanoutSamples[len(fanoutSamples)-fanoutCap:]
	}
}

// BusFanoutWindow summarizes fan-out outcomes observed within the last
// window, grouped by topic.
func BusFanoutWindow(window time.Duration, now time.Time) map[string]struct{ OK, Failed int } {
	fanoutMu.Lock()
	defer fanoutMu.Unlock()

	cutoff := now.Add(-window)
	out := make(map[string]struct{ OK, Failed int })
	for _, s := range fanoutSamples {
		if s.at.Before(cutoff) {
			continue
		}
		entry := out[s.topic]
		if s.ok {
			entry.OK++
		} else {
			entry.Failed++
		}
		out[s.topic] = entry
	}
	return out
}
