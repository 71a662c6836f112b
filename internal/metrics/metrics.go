package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "experience"
)

var (
	// TransitionsAppended counts transitions written per shard
	TransitionsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_appended_total",
			Help:      "Total number of transitions written to the buffer",
		},
		[]string{"shard"},
	)

	// SamplesTotal counts sampled batches
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Total number of batches sampled",
		},
		[]string{"mode"}, // mode: uniform/prioritized
	)

	// SampleDuration measures sampling latency
	SampleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "Batch sampling latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// PriorityUpdates counts priority feedback writes
	PriorityUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "priority_updates_total",
			Help:      "Total number of priorities rewritten from learner feedback",
		},
	)

	// BufferTransitions tracks readable transitions per shard
	BufferTransitions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_transitions",
			Help:      "Transitions currently readable in each shard",
		},
		[]string{"shard"},
	)

	// PriorityMass tracks total sampling mass per shard
	PriorityMass = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "priority_mass",
			Help:      "Sum of leaf priorities in each shard's tree",
		},
		[]string{"shard"},
	)

	// SnapshotOps counts snapshot operations
	SnapshotOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_ops_total",
			Help:      "Total number of snapshot operations",
		},
		[]string{"op", "status"}, // op: save/load, status: success/error
	)
)
