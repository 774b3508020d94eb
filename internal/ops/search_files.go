package ops

import (
	"context"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/knowledge"
)

// SearchFilesInput contains parameters for the SearchFiles operation.
type SearchFilesInput struct {
	Query     string // required
	ProjectID string // optional filter
	Limit     int    // default: 10, max: 100
}

// SearchFilesOutput contains the result of the SearchFiles operation.
type SearchFilesOutput struct {
	Items []knowledge.FileHit `json:"items"`
}

// SearchFiles ranks indexed files by similarity, topped up by keyword matches.
func SearchFiles(ctx context.Context, a *app.App, input SearchFilesInput) (*SearchFilesOutput, error) {
	hits, err := a.Knowledge.SearchFiles(ctx, knowledge.SearchFilesInput{
		Query:     input.Query,
		ProjectID: input.ProjectID,
		Limit:     input.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &SearchFilesOutput{Items: hits}, nil
}
