package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// Request types for each tool

// AddRequest represents the arguments for record_add.
type AddRequest struct {
	Content     string   `json:"content"`
	Source      string   `json:"source,omitempty"`
	Project     string   `json:"project,omitempty"`
	Topic       string   `json:"topic,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	RelatedIDs  []string `json:"related_ids,omitempty"`
	CreatedBy   string   `json:"created_by,omitempty"`
	Sensitivity string   `json:"sensitivity,omitempty"`
	Language    string   `json:"language,omitempty"`
}

// GetRequest represents the arguments for record_get.
type GetRequest struct {
	ID          string `json:"id"`
	IncludeText *bool  `json:"include_text,omitempty"`
}

// SearchRequest represents the arguments for record_search.
type SearchRequest struct {
	Query   string `json:"query"`
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// ListRequest represents the arguments for record_list.
type ListRequest struct {
	Project string `json:"project,omitempty"`
	Type    string `json:"type,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// UpdateRequest represents the arguments for record_update.
type UpdateRequest struct {
	ID          string    `json:"id"`
	Project     *string   `json:"project,omitempty"`
	Topic       *string   `json:"topic,omitempty"`
	Type        *string   `json:"type,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Importance  *int      `json:"importance,omitempty"`
	Sensitivity *string   `json:"sensitivity,omitempty"`
}

// IDRequest represents the arguments for tools that take only an ID.
type IDRequest struct {
	ID string `json:"id"`
}

// RelatedRequest represents the arguments for record_related.
type RelatedRequest struct {
	RecordID string `json:"record_id,omitempty"`
	NodeID   string `json:"node_id,omitempty"`
	Relation string `json:"relation,omitempty"`
}

// ExportRequest represents the arguments for record_export.
type ExportRequest struct {
	Path    string `json:"path,omitempty"`
	Project string `json:"project,omitempty"`
}

// ImportRequest represents the arguments for record_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// IndexRequest represents the arguments for file_index.
type IndexRequest struct {
	Path        string   `json:"path"`
	ProjectID   string   `json:"project_id,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Content     *string  `json:"content,omitempty"`
}

// SearchFilesRequest represents the arguments for file_search.
type SearchFilesRequest struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// MoveRequest represents the arguments for file_move.
type MoveRequest struct {
	Moves       []ops.MoveItem `json:"moves"`
	ActionType  string         `json:"action_type,omitempty"`
	Description string         `json:"description,omitempty"`
}

// CheckpointsRequest represents the arguments for checkpoint_list.
type CheckpointsRequest struct {
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// CheckRequest represents the arguments for cache_check.
type CheckRequest struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose,omitempty"`
}

// CacheSaveRequest represents the arguments for cache_save.
type CacheSaveRequest struct {
	Hash      string          `json:"hash"`
	Purpose   string          `json:"purpose,omitempty"`
	Result    json.RawMessage `json:"result"`
	CostSaved float64         `json:"cost_saved,omitempty"`
}

// StaleRequest represents the arguments for project_stale.
type StaleRequest struct {
	Days *int `json:"days,omitempty"`
}

// ProjectStatusRequest represents the arguments for project_status.
type ProjectStatusRequest struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Handler implementations

// HandleAdd handles the record_add tool call.
func (h *Handlers) HandleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AddRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Add(ctx, h.app, ops.AddInput{
		Content:     input.Content,
		Source:      input.Source,
		Project:     input.Project,
		Topic:       input.Topic,
		ParentID:    input.ParentID,
		RelatedIDs:  input.RelatedIDs,
		CreatedBy:   input.CreatedBy,
		Sensitivity: input.Sensitivity,
		Language:    input.Language,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGet handles the record_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Get(ctx, h.app, ops.GetInput{ID: input.ID, IncludeText: input.IncludeText})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSearch handles the record_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Search(ctx, h.app, ops.SearchInput{
		Query:   input.Query,
		Project: input.Project,
		Limit:   input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleList handles the record_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.List(ctx, h.app, ops.ListInput{
		Project: input.Project,
		Type:    input.Type,
		Tag:     input.Tag,
		Limit:   input.Limit,
		Offset:  input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleUpdate handles the record_update tool call.
func (h *Handlers) HandleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UpdateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Update(ctx, h.app, ops.UpdateInput{
		ID:          input.ID,
		Project:     input.Project,
		Topic:       input.Topic,
		Type:        input.Type,
		Tags:        input.Tags,
		Importance:  input.Importance,
		Sensitivity: input.Sensitivity,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelete handles the record_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Delete(ctx, h.app, ops.DeleteInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRelated handles the record_related tool call.
func (h *Handlers) HandleRelated(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RelatedRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Related(ctx, h.app, ops.RelatedInput{
		NodeID:   input.NodeID,
		RecordID: input.RecordID,
		Relation: input.Relation,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the record_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Export(ctx, h.app, ops.ExportInput{Path: input.Path, Project: input.Project})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImport handles the record_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Import(ctx, h.app, ops.ImportInput{
		Path: input.Path,
		Mode: ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleIndex handles the file_index tool call.
func (h *Handlers) HandleIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IndexRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Index(ctx, h.app, ops.IndexInput{
		Path:        input.Path,
		ProjectID:   input.ProjectID,
		Description: input.Description,
		Tags:        input.Tags,
		Content:     input.Content,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSearchFiles handles the file_search tool call.
func (h *Handlers) HandleSearchFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchFilesRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.SearchFiles(ctx, h.app, ops.SearchFilesInput{
		Query:     input.Query,
		ProjectID: input.ProjectID,
		Limit:     input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleMove handles the file_move tool call. A cancelled batch still
// reports what moved, inside the error details.
func (h *Handlers) HandleMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MoveRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Move(ctx, h.app, ops.MoveInput{
		Moves:       input.Moves,
		ActionType:  input.ActionType,
		Description: input.Description,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCheckpoints handles the checkpoint_list tool call.
func (h *Handlers) HandleCheckpoints(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CheckpointsRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Checkpoints(ctx, h.app, ops.CheckpointsInput{ID: input.ID, Limit: input.Limit})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRollback handles the checkpoint_rollback tool call.
func (h *Handlers) HandleRollback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Rollback(ctx, h.app, ops.RollbackInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCheck handles the cache_check tool call.
func (h *Handlers) HandleCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CheckRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Check(ctx, h.app, ops.CheckInput{Path: input.Path, Purpose: input.Purpose})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCacheSave handles the cache_save tool call.
func (h *Handlers) HandleCacheSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CacheSaveRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.CacheSave(ctx, h.app, ops.CacheSaveInput{
		Hash:      input.Hash,
		Purpose:   input.Purpose,
		Result:    input.Result,
		CostSaved: input.CostSaved,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStale handles the project_stale tool call.
func (h *Handlers) HandleStale(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StaleRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Stale(ctx, h.app, ops.StaleInput{Days: input.Days})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleProjectStatus handles the project_status tool call.
func (h *Handlers) HandleProjectStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectStatusRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ProjectStatus(ctx, h.app, ops.ProjectStatusInput{Name: input.Name, Status: input.Status})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleReconcile handles the store_reconcile tool call.
func (h *Handlers) HandleReconcile(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Reconcile(ctx, h.app)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStats handles the store_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Stats(ctx, h.app)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cerr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    cerr.Code,
			"message": cerr.Message,
			"status":  cerr.Status,
		}
		if cerr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if cerr.Details != nil {
			errorObj["details"] = cerr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
