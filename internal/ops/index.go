package ops

import (
	"context"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/knowledge"
	"github.com/hpungsan/cairn/internal/record"
)

// IndexInput contains parameters for the Index operation.
type IndexInput struct {
	Path        string   // required
	ProjectID   string   // optional
	Description string   // optional
	Tags        []string // optional
	Content     *string  // optional, replaces extracted text
}

// IndexOutput contains the result of the Index operation.
type IndexOutput struct {
	record.FileEntry
}

// Index adds or refreshes a file in the file index.
func Index(ctx context.Context, a *app.App, input IndexInput) (*IndexOutput, error) {
	entry, err := a.Knowledge.IndexFile(ctx, knowledge.IndexFileInput{
		Path:        input.Path,
		ProjectID:   input.ProjectID,
		Description: input.Description,
		Tags:        input.Tags,
		Content:     input.Content,
	})
	if err != nil {
		return nil, err
	}
	return &IndexOutput{FileEntry: *entry}, nil
}
