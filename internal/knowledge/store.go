// Package knowledge coordinates the relational, vector and graph stores.
//
// The relational store is the source of truth. The vector index and the
// graph are derived from it: vectors are written after the relational row
// (and the row is removed again if the vector write fails), graph writes are
// best-effort, and Reconcile rebuilds whatever drifted.
package knowledge

import (
	"context"
	stderrors "errors"

	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/graph"
	"github.com/hpungsan/cairn/internal/intel"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/hpungsan/cairn/internal/metrics"
	"github.com/hpungsan/cairn/internal/relational"
	"github.com/hpungsan/cairn/internal/vector"
	"go.uber.org/zap"
)

// Vector metadata kinds.
const (
	KindRecord = "record"
	KindFile   = "file"
)

const (
	DefaultSnippetChars         = 1000
	DefaultFallbackScore        = 0.5
	DefaultReconcileConcurrency = 4
	DefaultSearchLimit          = 10
	MaxSearchLimit              = 100
)

// VectorIndex is the subset of vector.Store the coordinator uses.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error
	Search(ctx context.Context, vec []float32, limit int, filter map[string]any) ([]vector.Hit, error)
	Get(ctx context.Context, id string) ([]float32, map[string]any, error)
	Delete(ctx context.Context, id string) error
	IDs(ctx context.Context, kind string) ([]string, error)
}

// TextExtractor reads indexable text from a file. ok is false for binary files.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (text string, ok bool, err error)
}

// FileHasher computes the content hash recorded in the file index.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// Deps are the stores and collaborators a Store coordinates.
type Deps struct {
	Relational *relational.Store
	Vectors    VectorIndex
	Graph      *graph.Store
	Intel      intel.Intelligence
	Extractor  TextExtractor
	Hasher     FileHasher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Options tunes the coordinator. Zero values take the defaults.
type Options struct {
	SnippetChars         int
	FallbackScore        float64
	ReconcileConcurrency int
}

// Store is the knowledge coordinator.
type Store struct {
	rel       *relational.Store
	vec       VectorIndex
	graph     *graph.Store
	intel     intel.Intelligence
	extractor TextExtractor
	hasher    FileHasher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
}

// New wires the coordinator. Zero Options take the defaults; a nil logger
// or metrics set is replaced with a no-op one.
func New(d Deps, opts Options) *Store {
	if opts.SnippetChars <= 0 {
		opts.SnippetChars = DefaultSnippetChars
	}
	if opts.FallbackScore <= 0 {
		opts.FallbackScore = DefaultFallbackScore
	}
	if opts.ReconcileConcurrency <= 0 {
		opts.ReconcileConcurrency = DefaultReconcileConcurrency
	}
	return &Store{
		rel:       d.Relational,
		vec:       d.Vectors,
		graph:     d.Graph,
		intel:     d.Intel,
		extractor: d.Extractor,
		hasher:    d.Hasher,
		metrics:   metrics.OrNew(d.Metrics),
		logger:    logging.OrNop(d.Logger).Named("knowledge"),
		opts:      opts,
	}
}

// Related returns the one-hop outbound neighbours of nodeID.
func (s *Store) Related(ctx context.Context, nodeID, relation string) ([]graph.Related, error) {
	if nodeID == "" {
		return nil, errors.NewInvalidRequest("node_id is required")
	}
	return s.graph.GetRelated(ctx, nodeID, relation)
}

// collaborator converts an intel or extract failure into the error callers
// see. Structured errors pass through; cancellation stays cancellation.
func collaborator(op string, err error) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewCancelled(op)
	}
	return errors.NewCollaborator(op, err)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return min(limit, MaxSearchLimit)
}

// bestEffort logs a failed derived write. Graph edges never fail the caller.
func (s *Store) bestEffort(op string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	s.logger.Warn("derived write failed", append([]zap.Field{zap.String("op", op), zap.Error(err)}, fields...)...)
}
