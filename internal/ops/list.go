package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/relational"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Project string // optional filter
	Type    string // optional filter
	Tag     string // optional filter
	Limit   int    // default: 20, max: 100
	Offset  int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []RecordSummary `json:"items"`
	Pagination Pagination      `json:"pagination"`
	Sort       string          `json:"sort"`
}

// List retrieves record summaries newest first with pagination.
func List(ctx context.Context, a *app.App, input ListInput) (*ListOutput, error) {
	typ, err := parseType(input.Type)
	if err != nil {
		return nil, err
	}
	limit := listLimit(input.Limit)
	offset := max(input.Offset, 0)

	// One extra row tells us whether another page exists.
	records, err := a.Relational.ListRecords(ctx, relational.ListFilter{
		Project: strings.TrimSpace(input.Project),
		Type:    typ,
		Tag:     strings.TrimSpace(input.Tag),
		Limit:   limit + 1,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	items := make([]RecordSummary, 0, len(records))
	for _, r := range records {
		items = append(items, summarize(r))
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: hasMore,
		},
		Sort: "timestamp_desc",
	}, nil
}
