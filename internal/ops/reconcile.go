package ops

import (
	"context"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/knowledge"
)

// ReconcileOutput contains the result of the Reconcile operation.
type ReconcileOutput struct {
	knowledge.ReconcileReport
}

// Reconcile rebuilds the vector index and the graph and prunes the file index against
// the relational store.
func Reconcile(ctx context.Context, a *app.App) (*ReconcileOutput, error) {
	report, err := a.Knowledge.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	return &ReconcileOutput{ReconcileReport: *report}, nil
}
