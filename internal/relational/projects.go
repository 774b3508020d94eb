package relational

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/record"
	"github.com/m-mizutani/goerr/v2"
)

// touchProject creates the project row or bumps its updated_at, keeping the
// highest importance seen. Status is left alone on update.
func touchProject(ctx context.Context, tx *sql.Tx, name string, importance int, updatedAt int64) error {
	if updatedAt == 0 {
		updatedAt = record.Now().UnixNano()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projects (name, status, importance, updated_at)
		VALUES (?, 'active', ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			importance = MAX(projects.importance, excluded.importance),
			updated_at = MAX(projects.updated_at, excluded.updated_at)
	`, name, importance, updatedAt)
	return err
}

// GetStale returns active projects not updated within the last days,
// most important first. Used by reminder tooling.
func (s *Store) GetStale(ctx context.Context, days int) ([]record.Project, error) {
	if days < 0 {
		return nil, errors.NewInvalidRequest("days must be >= 0")
	}
	cutoff := record.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixNano()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, status, importance, updated_at
		FROM projects
		WHERE status = 'active' AND updated_at < ?
		ORDER BY importance DESC, updated_at ASC, name ASC
	`, cutoff)
	if err != nil {
		return nil, s.fail("get stale", err, goerr.V("days", days))
	}
	defer rows.Close()

	var out []record.Project
	for rows.Next() {
		var (
			p       record.Project
			status  string
			updated int64
		)
		if err := rows.Scan(&p.Name, &status, &p.Importance, &updated); err != nil {
			return nil, s.fail("get stale", err)
		}
		p.Status = record.ProjectStatus(status)
		p.UpdatedAt = fromUnix(updated)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("get stale", err)
	}
	return out, nil
}

// SetProjectStatus changes a project's status. NOT_FOUND if the project has
// never been touched by a record.
func (s *Store) SetProjectStatus(ctx context.Context, name string, status record.ProjectStatus) error {
	if !record.ValidProjectStatus(status) {
		return errors.NewInvalidRequest("status must be one of active, paused, done")
	}

	var affected int64
	err := db.WithBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE projects SET status = ? WHERE name = ?`, string(status), name)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return s.fail("set project status", err, goerr.V("project", name))
	}
	if affected == 0 {
		return errors.NewNotFound("project", name)
	}
	return nil
}
