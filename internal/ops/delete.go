package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	ID string
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// Delete removes a record from the relational and vector stores.
// Deleted is true only when both deletes succeeded.
func Delete(ctx context.Context, a *app.App, input DeleteInput) (*DeleteOutput, error) {
	id := strings.TrimSpace(input.ID)
	ok, err := a.Knowledge.DeleteRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: ok, ID: id}, nil
}
