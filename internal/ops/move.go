package ops

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/checkpoint"
	"github.com/hpungsan/cairn/internal/errors"
	"go.uber.org/zap"
)

// MaxMoveItems caps a single Move batch.
const MaxMoveItems = 500

// DefaultMoveAction is the checkpoint action type for Move.
const DefaultMoveAction = "move"

// MoveItem is one requested move.
type MoveItem struct {
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	Reason   string `json:"reason,omitempty"`
	Category string `json:"category,omitempty"`
}

// MoveInput contains parameters for the Move operation.
type MoveInput struct {
	Moves       []MoveItem // required, 1..MaxMoveItems
	ActionType  string     // default: move
	Description string
}

// MoveOutput contains the result of the Move operation.
type MoveOutput struct {
	CheckpointID string                 `json:"checkpoint_id,omitempty"`
	Moved        int                    `json:"moved"`
	Failed       []checkpoint.ItemError `json:"failed,omitempty"`
}

// Move performs a batch of file moves and then journals the ones that
// happened as a checkpoint, so they can be rolled back. Moves that fail are
// reported and skipped. If no move happened no checkpoint is written.
//
// If the journal cannot be written after files were moved, Move returns
// JOURNAL_FAILURE listing the performed moves; they are not reverted.
func Move(ctx context.Context, a *app.App, input MoveInput) (*MoveOutput, error) {
	items, err := validateMoves(input.Moves)
	if err != nil {
		return nil, err
	}
	actionType := strings.TrimSpace(input.ActionType)
	if actionType == "" {
		actionType = DefaultMoveAction
	}

	out := &MoveOutput{}
	var performed []checkpoint.Operation
	cancelled := false
	for _, it := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if err := checkpoint.MovePath(it.Src, it.Dst); err != nil {
			out.Failed = append(out.Failed, checkpoint.ItemError{Src: it.Src, Dst: it.Dst, Error: err.Error()})
			a.Logger.Warn("move failed", zap.String("src", it.Src), zap.String("dst", it.Dst), zap.Error(err))
			continue
		}
		performed = append(performed, checkpoint.Operation{
			Src:      it.Src,
			Dst:      it.Dst,
			Reason:   it.Reason,
			Category: it.Category,
		})
	}
	out.Moved = len(performed)

	if len(performed) > 0 {
		meta := map[string]any{"requested": len(items), "failed": len(out.Failed)}
		id, err := a.Checkpoints.Create(context.WithoutCancel(ctx), actionType, input.Description, performed, meta)
		if err != nil {
			return nil, journalFailure(a, performed, err)
		}
		out.CheckpointID = id
	}

	if cancelled {
		cerr := errors.NewCancelled("move")
		cerr.Details = map[string]any{"checkpoint_id": out.CheckpointID, "moved": out.Moved}
		return out, cerr
	}
	return out, nil
}

func journalFailure(a *app.App, performed []checkpoint.Operation, err error) error {
	moves := make([]map[string]string, len(performed))
	for i, op := range performed {
		moves[i] = map[string]string{"src": op.Src, "dst": op.Dst}
	}
	a.Metrics.JournalFailures.Inc()
	a.Logger.Error("files moved but checkpoint not recorded",
		zap.Int("moves", len(moves)), zap.Any("performed", moves), zap.Error(err))
	return errors.NewJournalFailure(moves, err)
}

// validateMoves resolves paths and rejects empty, identical, traversing or
// duplicated entries.
func validateMoves(moves []MoveItem) ([]MoveItem, error) {
	if len(moves) == 0 {
		return nil, errors.NewInvalidRequest("moves must not be empty")
	}
	if len(moves) > MaxMoveItems {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("moves exceeds maximum of %d items", MaxMoveItems))
	}

	out := make([]MoveItem, len(moves))
	seenSrc := make(map[string]bool, len(moves))
	seenDst := make(map[string]bool, len(moves))
	for i, m := range moves {
		if strings.TrimSpace(m.Src) == "" || strings.TrimSpace(m.Dst) == "" {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("moves[%d]: src and dst are required", i))
		}
		if hasDotDot(m.Src) || hasDotDot(m.Dst) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("moves[%d]: path must not contain directory traversal (..)", i))
		}
		src, err := filepath.Abs(m.Src)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("moves[%d]: invalid src: %v", i, err))
		}
		dst, err := filepath.Abs(m.Dst)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("moves[%d]: invalid dst: %v", i, err))
		}
		if src == dst {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("moves[%d]: src and dst are the same", i))
		}
		if seenSrc[src] || seenDst[dst] {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("moves[%d]: path appears twice in the batch", i))
		}
		seenSrc[src], seenDst[dst] = true, true
		m.Src, m.Dst = src, dst
		out[i] = m
	}
	return out, nil
}
