package ops

import (
	"context"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/knowledge"
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query   string // required
	Project string // optional filter
	Limit   int    // default: 10, max: 100
}

// SearchItem is one ranked record.
type SearchItem struct {
	RecordSummary
	Score float64 `json:"score"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Items []SearchItem `json:"items"`
}

// Search returns the records most similar to a free-text query.
func Search(ctx context.Context, a *app.App, input SearchInput) (*SearchOutput, error) {
	hits, err := a.Knowledge.Search(ctx, knowledge.SearchInput{
		Query:   input.Query,
		Limit:   input.Limit,
		Project: input.Project,
	})
	if err != nil {
		return nil, err
	}

	items := make([]SearchItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, SearchItem{RecordSummary: summarize(h.Record), Score: h.Score})
	}
	return &SearchOutput{Items: items}, nil
}
