package ops

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/guard"
)

// DefaultCachePurpose is the guard context used when none is given.
const DefaultCachePurpose = "index"

// CheckInput contains parameters for the Check operation.
type CheckInput struct {
	Path    string // required
	Purpose string // default: index
}

// CheckOutput contains the result of the Check operation.
type CheckOutput struct {
	guard.Result
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// Check asks the guard whether a file needs processing for a purpose.
// Internal guard failures answer "process it".
func Check(ctx context.Context, a *app.App, input CheckInput) (*CheckOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	path, err := filepath.Abs(input.Path)
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid path: " + err.Error())
	}
	purpose := strings.TrimSpace(input.Purpose)
	if purpose == "" {
		purpose = DefaultCachePurpose
	}

	res := a.Guard.Check(ctx, path, purpose)
	return &CheckOutput{Result: res, Path: path, Purpose: purpose}, nil
}

// CacheSaveInput contains parameters for the CacheSave operation.
type CacheSaveInput struct {
	Hash      string          // required, from a previous Check
	Purpose   string          // default: index
	Result    json.RawMessage // required
	CostSaved float64
}

// CacheSaveOutput contains the result of the CacheSave operation.
type CacheSaveOutput struct {
	Saved bool `json:"saved"`
}

// CacheSave records the result of processing content with the given hash.
func CacheSave(ctx context.Context, a *app.App, input CacheSaveInput) (*CacheSaveOutput, error) {
	if strings.TrimSpace(input.Hash) == "" {
		return nil, errors.NewInvalidRequest("hash is required")
	}
	if len(input.Result) == 0 || !json.Valid(input.Result) {
		return nil, errors.NewInvalidRequest("result must be valid JSON")
	}
	if input.CostSaved < 0 {
		return nil, errors.NewInvalidRequest("cost_saved must be >= 0")
	}
	purpose := strings.TrimSpace(input.Purpose)
	if purpose == "" {
		purpose = DefaultCachePurpose
	}

	if err := a.Guard.SaveResult(ctx, input.Hash, purpose, input.Result, input.CostSaved); err != nil {
		return nil, err
	}
	return &CacheSaveOutput{Saved: true}, nil
}
