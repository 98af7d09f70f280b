// Package metrics exposes the simulator's Prometheus collectors
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simulator"

// Generation outcomes
const (
	OutcomeOK      = "ok"
	OutcomeUnknown = "unknown_entity"
	OutcomeCorrupt = "corrupt"
	OutcomeError   = "error"
)

// Per-entity prune results
const (
	PruneKept    = "kept"
	PruneRemoved = "removed"
	PruneFailed  = "failed"
	PruneSkipped = "skipped"
)

// Simulation triggers
const (
	TriggerCommand  = "command"
	TriggerSchedule = "schedule"
)

// Metrics holds every collector. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messagesTrained  prometheus.Counter
	generations      *prometheus.CounterVec
	generatedWords   prometheus.Histogram
	pruneSweeps      prometheus.Counter
	pruneEntities    *prometheus.CounterVec
	prunedEdges      prometheus.Counter
	prunedNodes      prometheus.Counter
	storageRetries   *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	simulations      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		// messagesTrained counts observed messages folded into a graph
		messagesTrained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_trained_total",
			Help:      "Total messages folded into member graphs",
		}),

		// generations counts generation requests.
		// Labels: outcome (ok, unknown_entity, corrupt, error)
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total generation requests by outcome",
		}, []string{"outcome"}),

		generatedWords: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generated_words",
			Help:      "Words per generated message",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),

		pruneSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "sweeps_total",
			Help:      "Total prune sweeps started",
		}),

		// pruneEntities counts entity passes.
		// Labels: result (kept, removed, failed, skipped)
		pruneEntities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "entities_total",
			Help:      "Total entity prune passes by result",
		}, []string{"result"}),

		prunedEdges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "edges_removed_total",
			Help:      "Total transitions removed by pruning",
		}),

		prunedNodes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "nodes_removed_total",
			Help:      "Total words removed by pruning",
		}),

		// storageRetries counts retried storage operations.
		// Labels: operation (train, prune, ...)
		storageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "retries_total",
			Help:      "Total retries after transient storage errors",
		}, []string{"operation"}),

		operationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of graph operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),

		// simulations counts simulated conversations.
		// Labels: trigger (command, schedule)
		simulations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_total",
			Help:      "Total simulated conversations by trigger",
		}, []string{"trigger"}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry backing m
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) MessageTrained() {
	if m == nil {
		return
	}
	m.messagesTrained.Inc()
}

func (m *Metrics) Generated(outcome string, words int) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.generatedWords.Observe(float64(words))
	}
}

func (m *Metrics) PruneSweepStarted() {
	if m == nil {
		return
	}
	m.pruneSweeps.Inc()
}

// EntityPruned records one entity pass and what it removed
func (m *Metrics) EntityPruned(result string, edges, nodes int) {
	if m == nil {
		return
	}
	m.pruneEntities.WithLabelValues(result).Inc()
	m.prunedEdges.Add(float64(edges))
	m.prunedNodes.Add(float64(nodes))
}

func (m *Metrics) StorageRetry(operation string) {
	if m == nil {
		return
	}
	m.storageRetries.WithLabelValues(operation).Inc()
}

// ObserveDuration records how long operation took since start
func (m *Metrics) ObserveDuration(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SimulationStarted(trigger string) {
	if m == nil {
		return
	}
	m.simulations.WithLabelValues(trigger).Inc()
}
