package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/checkpoint"
)

// CheckpointsInput contains parameters for the Checkpoints operation.
type CheckpointsInput struct {
	ID    string // optional: fetch one checkpoint
	Limit int    // default: 20, max: 100
}

// CheckpointsOutput contains the result of the Checkpoints operation.
type CheckpointsOutput struct {
	Items []*checkpoint.Checkpoint `json:"items"`
}

// Checkpoints lists checkpoints most recent first, or fetches one by id.
func Checkpoints(ctx context.Context, a *app.App, input CheckpointsInput) (*CheckpointsOutput, error) {
	if id := strings.TrimSpace(input.ID); id != "" {
		cp, err := a.Checkpoints.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &CheckpointsOutput{Items: []*checkpoint.Checkpoint{cp}}, nil
	}

	items, err := a.Checkpoints.List(ctx, listLimit(input.Limit))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*checkpoint.Checkpoint{}
	}
	return &CheckpointsOutput{Items: items}, nil
}
