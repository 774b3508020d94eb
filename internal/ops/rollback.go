package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/checkpoint"
	"github.com/hpungsan/cairn/internal/errors"
)

// RollbackInput contains parameters for the Rollback operation.
type RollbackInput struct {
	ID string // required
}

// RollbackOutput contains the result of the Rollback operation.
type RollbackOutput struct {
	checkpoint.Report
}

// Rollback reverses every move recorded in a checkpoint.
func Rollback(ctx context.Context, a *app.App, input RollbackInput) (*RollbackOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	report, err := a.Checkpoints.Rollback(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RollbackOutput{Report: *report}, nil
}
