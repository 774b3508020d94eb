package relational

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/record"
	"github.com/m-mizutani/goerr/v2"
)

const fileColumns = `path, project_id, description, tags_json, content_hash, last_modified, vector_id, indexed_at`

// UpsertFile writes the file entry keyed by path, overwriting any previous entry.
func (s *Store) UpsertFile(ctx context.Context, f *record.FileEntry) error {
	tags, err := db.EncodeJSON(f.Tags)
	if err != nil {
		return s.fail("upsert file", err, goerr.V("path", f.Path))
	}

	err = db.WithBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO file_index (`+fileColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				project_id = excluded.project_id,
				description = excluded.description,
				tags_json = excluded.tags_json,
				content_hash = excluded.content_hash,
				last_modified = excluded.last_modified,
				vector_id = excluded.vector_id,
				indexed_at = excluded.indexed_at
		`, f.Path, f.ProjectID, f.Description, tags, f.ContentHash,
			toUnix(f.LastModified), f.VectorID, toUnix(f.IndexedAt))
		return err
	})
	if err != nil {
		return s.fail("upsert file", err, goerr.V("path", f.Path))
	}
	return nil
}

// GetFile returns the entry for path, or NOT_FOUND.
func (s *Store) GetFile(ctx context.Context, path string) (*record.FileEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM file_index WHERE path = ?`, path)
	f, err := scanFile(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound("file", path)
		}
		return nil, s.fail("get file", err, goerr.V("path", path))
	}
	return f, nil
}

// GetFilesByHash returns every entry with the given content hash.
func (s *Store) GetFilesByHash(ctx context.Context, hash string) ([]*record.FileEntry, error) {
	return s.queryFiles(ctx, "files by hash",
		`SELECT `+fileColumns+` FROM file_index WHERE content_hash = ? ORDER BY path`, hash)
}

// DeleteFile removes the entry for path. NOT_FOUND if absent.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	var affected int64
	err := db.WithBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM file_index WHERE path = ?`, path)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return s.fail("delete file", err, goerr.V("path", path))
	}
	if affected == 0 {
		return errors.NewNotFound("file", path)
	}
	return nil
}

// ListFiles returns file entries ordered by path, optionally scoped to a project.
func (s *Store) ListFiles(ctx context.Context, projectID string) ([]*record.FileEntry, error) {
	if projectID == "" {
		return s.queryFiles(ctx, "list files", `SELECT `+fileColumns+` FROM file_index ORDER BY path`)
	}
	return s.queryFiles(ctx, "list files",
		`SELECT `+fileColumns+` FROM file_index WHERE project_id = ? ORDER BY path`, projectID)
}

// SearchFilesText is the keyword fallback for file search. An entry matches
// when any query term appears in its description, tags or path
// (case-insensitive). Entries matching more terms rank first.
func (s *Store) SearchFilesText(ctx context.Context, query, projectID string, limit int) ([]*record.FileEntry, error) {
	terms := queryTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	var (
		score []string
		match []string
		args  []any
	)
	for _, term := range terms {
		cond := `(lower(description) LIKE ? ESCAPE '\' OR lower(COALESCE(tags_json, '')) LIKE ? ESCAPE '\' OR lower(path) LIKE ? ESCAPE '\')`
		p := likePattern(term)
		score = append(score, "("+cond+")")
		match = append(match, cond)
		args = append(args, p, p, p)
	}
	// Score and match clauses bind the same patterns twice.
	allArgs := append(append([]any{}, args...), args...)

	q := `SELECT ` + fileColumns + ` FROM file_index WHERE (` + strings.Join(match, " OR ") + `)`
	if projectID != "" {
		q += ` AND project_id = ?`
		allArgs = append(allArgs, projectID)
	}
	q = `SELECT ` + fileColumns + ` FROM (SELECT *, ` + strings.Join(score, " + ") + ` AS hits FROM (` + q + `))
		ORDER BY hits DESC, indexed_at DESC, path ASC LIMIT ?`
	allArgs = append(allArgs, limit)

	return s.queryFiles(ctx, "search files", q, allArgs...)
}

// CountFiles returns the number of indexed files.
func (s *Store) CountFiles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_index`).Scan(&n); err != nil {
		return 0, s.fail("count files", err)
	}
	return n, nil
}

func (s *Store) queryFiles(ctx context.Context, op, query string, args ...any) ([]*record.FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var out []*record.FileEntry
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func scanFile(row scanner) (*record.FileEntry, error) {
	var f record.FileEntry
	var tags sql.NullString
	var modified, indexed int64
	if err := row.Scan(&f.Path, &f.ProjectID, &f.Description, &tags, &f.ContentHash, &modified, &f.VectorID, &indexed); err != nil {
		return nil, err
	}
	if err := db.DecodeJSON(tags, &f.Tags); err != nil {
		return nil, err
	}
	f.LastModified = fromUnix(modified)
	f.IndexedAt = fromUnix(indexed)
	return &f, nil
}

// queryTerms lowercases and splits a query, dropping terms shorter than
// three runes unless the query is a single short word.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 1 {
		return fields
	}
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if len([]rune(f)) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
