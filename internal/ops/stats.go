package ops

import (
	"context"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/checkpoint"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/guard"
)

// StatsOutput contains the result of the Stats operation.
type StatsOutput struct {
	Records     int                       `json:"records"`
	Files       int                       `json:"files"`
	Vectors     int                       `json:"vectors"`
	GraphNodes  int                       `json:"graph_nodes"`
	GraphEdges  int                       `json:"graph_edges"`
	Checkpoints map[checkpoint.Status]int `json:"checkpoints"`
	Cache       guard.Stats               `json:"cache"`
	Provider    string                    `json:"provider"`
	EmbedDims   int                       `json:"embed_dims"`
	Counters    map[string]float64        `json:"counters"`
}

// Stats reports store sizes and this process's counters.
func Stats(ctx context.Context, a *app.App) (*StatsOutput, error) {
	out := &StatsOutput{
		Provider:  a.Config.Intelligence.Provider,
		EmbedDims: a.Vectors.Dims(),
	}
	var err error
	if out.Records, err = a.Relational.CountRecords(ctx); err != nil {
		return nil, err
	}
	if out.Files, err = a.Relational.CountFiles(ctx); err != nil {
		return nil, err
	}
	if out.Vectors, err = a.Vectors.Count(ctx); err != nil {
		return nil, err
	}
	if out.GraphNodes, out.GraphEdges, err = a.Graph.Counts(ctx); err != nil {
		return nil, err
	}
	if out.Checkpoints, err = a.Checkpoints.Count(ctx); err != nil {
		return nil, err
	}
	if out.Cache, err = a.Guard.Stats(ctx); err != nil {
		return nil, err
	}
	if out.Counters, err = a.Metrics.Snapshot(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
