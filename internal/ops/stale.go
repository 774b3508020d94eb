package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/record"
)

// StaleInput contains parameters for the Stale operation.
type StaleInput struct {
	Days *int // default: 14 (nil means default)
}

// StaleOutput contains the result of the Stale operation.
type StaleOutput struct {
	Days     int              `json:"days"`
	Projects []record.Project `json:"projects"`
}

// Stale lists active projects with no record activity in the last Days days.
func Stale(ctx context.Context, a *app.App, input StaleInput) (*StaleOutput, error) {
	days := DefaultStaleDays
	if input.Days != nil {
		days = *input.Days
	}
	projects, err := a.Relational.GetStale(ctx, days)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []record.Project{}
	}
	return &StaleOutput{Days: days, Projects: projects}, nil
}

// ProjectStatusInput contains parameters for the ProjectStatus operation.
type ProjectStatusInput struct {
	Name   string // required
	Status string // required: active, paused, done
}

// ProjectStatusOutput contains the result of the ProjectStatus operation.
type ProjectStatusOutput struct {
	Name   string               `json:"name"`
	Status record.ProjectStatus `json:"status"`
}

// ProjectStatus pauses, completes or reactivates a project. Only active
// projects are reported as stale.
func ProjectStatus(ctx context.Context, a *app.App, input ProjectStatusInput) (*ProjectStatusOutput, error) {
	name := record.CollapseSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	status := record.ProjectStatus(strings.ToLower(strings.TrimSpace(input.Status)))
	if err := a.Relational.SetProjectStatus(ctx, name, status); err != nil {
		return nil, err
	}
	return &ProjectStatusOutput{Name: name, Status: status}, nil
}
