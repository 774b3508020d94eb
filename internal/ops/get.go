package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/record"
)

// GetInput contains parameters for the Get operation.
type GetInput struct {
	ID          string
	IncludeText *bool // default: true (nil means default)
}

// GetOutput contains the result of the Get operation.
type GetOutput struct {
	record.Record // embedded (copy, not pointer)
}

// Get retrieves a record by id.
func Get(ctx context.Context, a *app.App, input GetInput) (*GetOutput, error) {
	r, err := a.Knowledge.GetRecord(ctx, strings.TrimSpace(input.ID))
	if err != nil {
		return nil, err
	}

	output := &GetOutput{Record: *r}
	if input.IncludeText != nil && !*input.IncludeText {
		output.RawContent = ""
	}
	return output, nil
}
