// Package vector is a similarity index over opaque string ids with scalar
// metadata. It owns its own directory and SQLite file, separate from cairn.db,
// and is treated as a derived index that can be rebuilt from the relational store.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
)

const (
	storeName = "vector"
	// DirName is the vector store's directory under the base directory.
	DirName  = "vectors"
	fileName = "index.db"
)

// metadataKey restricts filter keys so they can be embedded in a JSON path.
var metadataKey = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Hit is one similarity search result. Score is 1 - cosine distance.
type Hit struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Store is a brute-force cosine index persisted in SQLite.
type Store struct {
	db     *sql.DB
	dims   int
	logger *zap.Logger
}

// Open opens (or creates) the index under dir. Every vector must have dims components.
func Open(dir string, dims int, logger *zap.Logger) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("vector dims must be positive, got %d", dims)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vector directory: %w", err)
	}

	conn, err := db.Open(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
		  id             TEXT PRIMARY KEY,
		  dims           INTEGER NOT NULL,
		  embedding      BLOB NOT NULL,
		  metadata_json  TEXT NOT NULL DEFAULT '{}',
		  updated_at     INTEGER NOT NULL
		);
	`)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create vector schema: %w", err)
	}

	return &Store{db: conn, dims: dims, logger: logging.OrNop(logger).Named(storeName)}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dims returns the configured dimensionality.
func (s *Store) Dims() int {
	return s.dims
}

func (s *Store) fail(op string, err error, values ...goerr.Option) error {
	return errors.Storage(s.logger, storeName, op, err, values...)
}

// Upsert stores vec under id, replacing any previous vector and metadata.
// Metadata is reduced to scalars first (see SanitizeMetadata).
func (s *Store) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error {
	if id == "" {
		return errors.NewInvalidRequest("vector id is required")
	}
	if len(vec) != s.dims {
		return errors.NewInvalidRequest(fmt.Sprintf("vector has %d dimensions, index expects %d", len(vec), s.dims))
	}

	meta, err := json.Marshal(SanitizeMetadata(metadata))
	if err != nil {
		return s.fail("upsert", err, goerr.V("vector_id", id))
	}

	err = db.WithBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO vectors (id, dims, embedding, metadata_json, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				dims = excluded.dims,
				embedding = excluded.embedding,
				metadata_json = excluded.metadata_json,
				updated_at = excluded.updated_at
		`, id, len(vec), encode(vec), string(meta), time.Now().UnixNano())
		return err
	})
	if err != nil {
		return s.fail("upsert", err, goerr.V("vector_id", id))
	}
	return nil
}

// Search returns up to limit hits ranked by cosine similarity to vec.
// Every filter key must equal the hit's metadata value (logical AND).
func (s *Store) Search(ctx context.Context, vec []float32, limit int, filter map[string]any) ([]Hit, error) {
	if len(vec) != s.dims {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query vector has %d dimensions, index expects %d", len(vec), s.dims))
	}
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT id, embedding, metadata_json FROM vectors WHERE dims = ?`
	args := []any{s.dims}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !metadataKey.MatchString(k) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid metadata filter key %q", k))
		}
		v, ok := filterValue(filter[k])
		if !ok {
			continue
		}
		query += fmt.Sprintf(" AND json_extract(metadata_json, '$.%s') = ?", k)
		args = append(args, v)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("search", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			id   string
			blob []byte
			meta string
		)
		if err := rows.Scan(&id, &blob, &meta); err != nil {
			return nil, s.fail("search", err)
		}
		stored, err := decode(blob)
		if err != nil {
			s.logger.Warn("skipping corrupt vector", zap.String("vector_id", id), zap.Error(err))
			continue
		}
		h := Hit{ID: id, Score: Cosine(vec, stored)}
		if err := json.Unmarshal([]byte(meta), &h.Metadata); err != nil {
			s.logger.Warn("skipping vector with corrupt metadata", zap.String("vector_id", id), zap.Error(err))
			continue
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("search", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Get returns the stored vector and metadata for id, or NOT_FOUND.
func (s *Store) Get(ctx context.Context, id string) ([]float32, map[string]any, error) {
	var (
		blob []byte
		meta string
	)
	err := s.db.QueryRowContext(ctx, `SELECT embedding, metadata_json FROM vectors WHERE id = ?`, id).Scan(&blob, &meta)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil, errors.NewNotFound("vector", id)
		}
		return nil, nil, s.fail("get", err, goerr.V("vector_id", id))
	}

	vec, err := decode(blob)
	if err != nil {
		return nil, nil, s.fail("get", err, goerr.V("vector_id", id))
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(meta), &md); err != nil {
		return nil, nil, s.fail("get", err, goerr.V("vector_id", id))
	}
	return vec, md, nil
}

// Delete removes the vector for id. It never touches the relational store.
// Returns NOT_FOUND if no vector existed.
func (s *Store) Delete(ctx context.Context, id string) error {
	var affected int64
	err := db.WithBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return s.fail("delete", err, goerr.V("vector_id", id))
	}
	if affected == 0 {
		return errors.NewNotFound("vector", id)
	}
	return nil
}

// IDs returns the ids whose metadata "kind" equals kind, or every id when kind is empty.
func (s *Store) IDs(ctx context.Context, kind string) ([]string, error) {
	query := `SELECT id FROM vectors`
	var args []any
	if kind != "" {
		query += ` WHERE json_extract(metadata_json, '$.kind') = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("ids", err)
	}
	return ids, nil
}

// Count returns the number of stored vectors.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		return 0, s.fail("count", err)
	}
	return n, nil
}

// filterValue converts a filter value to what json_extract returns for it.
// JSON booleans come back as integers. Nil filter values are ignored.
func filterValue(v any) (any, bool) {
	v = scalar(v)
	switch t := v.(type) {
	case nil:
		return nil, false
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return t, true
	}
}

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decode(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
