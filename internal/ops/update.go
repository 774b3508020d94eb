package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/knowledge"
)

// UpdateInput contains parameters for the Update operation.
type UpdateInput struct {
	ID string

	// Editable fields (nil = don't change)
	Project     *string
	Topic       *string
	Type        *string
	Tags        *[]string
	Importance  *int
	Sensitivity *string
}

// UpdateOutput contains the result of the Update operation.
type UpdateOutput struct {
	RecordSummary
	Version int `json:"version"`
}

// Update corrects a record's classification. Content is immutable.
func Update(ctx context.Context, a *app.App, input UpdateInput) (*UpdateOutput, error) {
	if input.Project == nil && input.Topic == nil && input.Type == nil &&
		input.Tags == nil && input.Importance == nil && input.Sensitivity == nil {
		return nil, errors.NewInvalidRequest("at least one editable field must be provided")
	}

	patch := knowledge.UpdateInput{
		ID:         strings.TrimSpace(input.ID),
		Project:    input.Project,
		Topic:      input.Topic,
		Importance: input.Importance,
	}
	if input.Type != nil {
		t, err := parseType(*input.Type)
		if err != nil {
			return nil, err
		}
		if t == "" {
			return nil, errors.NewInvalidRequest("type must not be empty")
		}
		patch.Type = &t
	}
	if input.Tags != nil {
		patch.Tags = append([]string{}, (*input.Tags)...)
	}
	if input.Sensitivity != nil {
		s, err := parseSensitivity(*input.Sensitivity)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, errors.NewInvalidRequest("sensitivity must not be empty")
		}
		patch.Sensitivity = &s
	}

	r, err := a.Knowledge.UpdateRecord(ctx, patch)
	if err != nil {
		return nil, err
	}
	return &UpdateOutput{RecordSummary: summarize(r), Version: r.Version}, nil
}
