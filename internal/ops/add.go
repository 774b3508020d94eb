package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/intel"
	"github.com/hpungsan/cairn/internal/knowledge"
	"github.com/hpungsan/cairn/internal/record"
)

// AddInput contains parameters for the Add operation.
type AddInput struct {
	Content     string   // required
	Source      string   // default: manual
	Project     string   // optional hint, wins over classification
	Topic       string   // optional hint
	ParentID    string   // optional
	RelatedIDs  []string // optional
	CreatedBy   string
	Sensitivity string // default: private
	Language    string
}

// AddOutput contains the result of the Add operation.
type AddOutput struct {
	RecordSummary
	Confidence float64 `json:"confidence"`
}

// Add classifies, summarizes and embeds content and stores it as a record.
func Add(ctx context.Context, a *app.App, input AddInput) (*AddOutput, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}

	source := record.Source(strings.ToLower(strings.TrimSpace(input.Source)))
	if source != "" && !record.ValidSource(source) {
		return nil, errors.NewInvalidRequest("unknown source: " + input.Source)
	}
	sensitivity, err := parseSensitivity(input.Sensitivity)
	if err != nil {
		return nil, err
	}

	hints := intel.Hints{}
	if p := strings.TrimSpace(input.Project); p != "" {
		hints["project"] = p
	}
	if t := strings.TrimSpace(input.Topic); t != "" {
		hints["topic"] = t
	}

	r, err := a.Knowledge.AddRecord(ctx, knowledge.AddInput{
		Content:     input.Content,
		Source:      source,
		Hints:       hints,
		ParentID:    strings.TrimSpace(input.ParentID),
		RelatedIDs:  input.RelatedIDs,
		CreatedBy:   input.CreatedBy,
		Sensitivity: sensitivity,
		Language:    input.Language,
	})
	if err != nil {
		return nil, err
	}

	return &AddOutput{
		RecordSummary: summarize(r),
		Confidence:    r.Confidence,
	}, nil
}
