package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.GuardHits.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.GuardHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.GuardHits))
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.GuardCostSaved.Add(2.5)
	m.CompensatingDeletes.Inc()
	m.ReconcileRepairs.WithLabelValues("reembedded").Add(3)

	snap, err := m.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 2.5, snap["cairn_guard_cost_saved_total"])
	assert.Equal(t, 1.0, snap["cairn_compensating_deletes_total"])
	assert.Equal(t, 3.0, snap[`cairn_reconcile_repairs_total{kind="reembedded"}`])
	assert.Contains(t, snap, "cairn_journal_failures_total")
}

func TestOrNew(t *testing.T) {
	assert.NotNil(t, OrNew(nil))
	m := New()
	assert.Same(t, m, OrNew(m))
}
