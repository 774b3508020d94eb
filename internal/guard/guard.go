// Package guard skips repeated work on unchanged content. Results are cached
// per (content hash, context) in the shared database and never expire.
package guard

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/hpungsan/cairn/internal/metrics"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const storeName = "guard"

// Defaults used when Options leaves a field zero.
const (
	DefaultFullThreshold = 10 << 20
	DefaultSampleBytes   = 1 << 20
)

// Options tunes hashing. Files smaller than FullThreshold are hashed whole;
// larger files hash only SampleBytes from the head and from the tail.
type Options struct {
	FullThreshold int64
	SampleBytes   int64
}

// Result is the outcome of Check. CachedResult is set only when
// ShouldProcess is false.
type Result struct {
	ShouldProcess bool            `json:"should_process"`
	Hash          string          `json:"hash,omitempty"`
	CachedResult  json.RawMessage `json:"cached_result,omitempty"`
}

// Stats summarizes the cache.
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      int     `json:"hits"`
	CostSaved float64 `json:"cost_saved"`
}

// Guard is the content-hash cache.
type Guard struct {
	db      *sql.DB
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New returns a Guard over the cache_entries table in conn.
func New(conn *sql.DB, opts Options, m *metrics.Metrics, logger *zap.Logger) *Guard {
	if opts.FullThreshold <= 0 {
		opts.FullThreshold = DefaultFullThreshold
	}
	if opts.SampleBytes <= 0 {
		opts.SampleBytes = DefaultSampleBytes
	}
	return &Guard{
		db:      conn,
		opts:    opts,
		metrics: metrics.OrNew(m),
		logger:  logging.OrNop(logger).Named(storeName),
	}
}

// Check hashes path and looks up (hash, context). A hit returns the cached
// result with ShouldProcess false. A miss, or any failure while hashing or
// reading the cache, returns ShouldProcess true: the guard never blocks work.
func (g *Guard) Check(ctx context.Context, path, purpose string) Result {
	hash, err := g.HashFile(path)
	if err != nil {
		g.failOpen("hash", path, err)
		return Result{ShouldProcess: true}
	}

	var (
		id     string
		result string
		cost   float64
	)
	err = g.db.QueryRowContext(ctx,
		`SELECT id, result_json, cost_saved FROM cache_entries WHERE content_hash = ? AND context = ?`,
		hash, purpose,
	).Scan(&id, &result, &cost)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			g.metrics.GuardMisses.Inc()
			return Result{ShouldProcess: true, Hash: hash}
		}
		g.failOpen("lookup", path, err)
		return Result{ShouldProcess: true, Hash: hash}
	}

	err = db.WithBusyRetry(ctx, func() error {
		_, err := g.db.ExecContext(ctx,
			`UPDATE cache_entries SET hits = hits + 1, last_hit_at = ? WHERE id = ?`,
			time.Now().UnixNano(), id)
		return err
	})
	if err != nil {
		// The cached value is still good; only the counter is lost.
		g.logger.Warn("failed to record cache hit", zap.String("entry_id", id), zap.Error(err))
	}

	g.metrics.GuardHits.Inc()
	g.metrics.GuardCostSaved.Add(cost)
	return Result{ShouldProcess: false, Hash: hash, CachedResult: json.RawMessage(result)}
}

func (g *Guard) failOpen(stage, path string, err error) {
	g.metrics.GuardErrors.Inc()
	g.logger.Warn("guard failed open", zap.String("stage", stage), zap.String("path", path), zap.Error(err))
}

// SaveResult caches result for (hash, context). Saving the same key again
// replaces the result and cost but keeps the hit count.
func (g *Guard) SaveResult(ctx context.Context, hash, purpose string, result any, costSaved float64) error {
	if hash == "" || purpose == "" {
		return errors.NewInvalidRequest("hash and purpose are required")
	}
	if costSaved < 0 {
		return errors.NewInvalidRequest("cost_saved must be >= 0")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("result is not JSON-encodable: %v", err))
	}

	err = db.WithBusyRetry(ctx, func() error {
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO cache_entries (id, content_hash, context, result_json, cost_saved, hits, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT(content_hash, context) DO UPDATE SET
				result_json = excluded.result_json,
				cost_saved = excluded.cost_saved
		`, ulid.Make().String(), hash, purpose, string(data), costSaved, time.Now().UnixNano())
		return err
	})
	if err != nil {
		return errors.Storage(g.logger, storeName, "save result", err)
	}
	return nil
}

// Stats totals entries, hits and the cost avoided by those hits.
func (g *Guard) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := g.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hits), 0), COALESCE(SUM(hits * cost_saved), 0) FROM cache_entries`,
	).Scan(&s.Entries, &s.Hits, &s.CostSaved)
	if err != nil {
		return Stats{}, errors.Storage(g.logger, storeName, "stats", err)
	}
	return s, nil
}

// HashFile returns the hex sha256 of path. Files at or above the full-hash
// threshold hash their size plus the first and last SampleBytes, so two large
// files that differ only in the middle hash the same.
func (g *Guard) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	h := sha256.New()
	size := info.Size()
	if size < g.opts.FullThreshold {
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	sample := min(g.opts.SampleBytes, size)
	fmt.Fprintf(h, "sampled:%d:", size)
	if _, err := io.CopyN(h, f, sample); err != nil {
		return "", err
	}
	if _, err := f.Seek(-sample, io.SeekEnd); err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
