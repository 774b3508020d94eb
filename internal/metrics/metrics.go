// Package metrics holds cairn's prometheus counters on a private registry.
package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cairn"

// Metrics holds every counter the stores and coordinator bump.
type Metrics struct {
	registry *prometheus.Registry

	GuardHits      prometheus.Counter
	GuardMisses    prometheus.Counter
	GuardErrors    prometheus.Counter
	GuardCostSaved prometheus.Counter

	RecordsAdded        prometheus.Counter
	FilesIndexed        prometheus.Counter
	CompensatingDeletes prometheus.Counter

	Rollbacks            prometheus.Counter
	RollbackItemFailures prometheus.Counter
	JournalFailures      prometheus.Counter

	ReconcileRepairs *prometheus.CounterVec
}

// New creates a Metrics with its own registry. Every call is independent,
// so tests can construct as many as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		GuardHits:      counter("guard_hits_total", "Guard checks answered from the cache"),
		GuardMisses:    counter("guard_misses_total", "Guard checks that required processing"),
		GuardErrors:    counter("guard_errors_total", "Guard checks that failed open on an internal error"),
		GuardCostSaved: counter("guard_cost_saved_total", "Accumulated cost saved by cache hits"),

		RecordsAdded:        counter("records_added_total", "Records persisted by AddRecord"),
		FilesIndexed:        counter("files_indexed_total", "Files written to the file index"),
		CompensatingDeletes: counter("compensating_deletes_total", "Relational rows removed after a failed vector write"),

		Rollbacks:            counter("rollbacks_total", "Checkpoints rolled back"),
		RollbackItemFailures: counter("rollback_item_failures_total", "Individual moves that could not be reversed"),
		JournalFailures:      counter("journal_failures_total", "Moves performed without a recorded checkpoint"),

		ReconcileRepairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_repairs_total",
				Help:      "Derived-index repairs made by reconciliation",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.GuardHits, m.GuardMisses, m.GuardErrors, m.GuardCostSaved,
		m.RecordsAdded, m.FilesIndexed, m.CompensatingDeletes,
		m.Rollbacks, m.RollbackItemFailures, m.JournalFailures,
		m.ReconcileRepairs,
	)
	return m
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot flattens every counter into name -> value. Labelled series are
// keyed as name{label="value"}.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			c := metric.GetCounter()
			if c == nil {
				continue
			}
			key := fam.GetName()
			if labels := metric.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, l := range labels {
					parts = append(parts, l.GetName()+"=\""+l.GetValue()+"\"")
				}
				sort.Strings(parts)
				key += "{" + strings.Join(parts, ",") + "}"
			}
			out[key] = c.GetValue()
		}
	}
	return out, nil
}

// OrNew returns m, or a fresh Metrics when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New()
	}
	return m
}
