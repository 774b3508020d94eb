// Package relational is the source of truth for records, projects and the
// file index. It lives in the shared cairn.db file.
package relational

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
)

const storeName = "relational"

// Store implements record, project and file-index persistence over SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New wraps an initialized database handle (see db.Init).
func New(conn *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: conn, logger: logging.OrNop(logger).Named(storeName)}
}

func (s *Store) fail(op string, err error, values ...goerr.Option) error {
	return errors.Storage(s.logger, storeName, op, err, values...)
}

// write runs fn inside a transaction, retrying the whole transaction on SQLITE_BUSY.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.WithBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// likePattern escapes LIKE wildcards in term and wraps it in %...%.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}
