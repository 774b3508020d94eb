package relational

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/record"
	"github.com/m-mizutani/goerr/v2"
)

const recordColumns = `id, timestamp, source, project, topic, type, tags_json,
	ultra_brief, executive_json, detailed_summary, raw_content,
	decisions_json, actions_json, questions_json, insights_json, people_json, projects_json,
	parent_id, related_json, language, sentiment, importance, confidence, sensitivity,
	version, created_by, updated_at`

// ListFilter narrows ListRecords. Zero values mean "no filter".
type ListFilter struct {
	Project string
	Type    record.Type
	Tag     string
	Limit   int
	Offset  int
}

// SaveRecord fully upserts r by id and touches its project row.
// The embedding is never written here.
func (s *Store) SaveRecord(ctx context.Context, r *record.Record) error {
	args, err := recordArgs(r)
	if err != nil {
		return s.fail("save record", err, goerr.V("record_id", r.ID))
	}

	query := `INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			source = excluded.source,
			project = excluded.project,
			topic = excluded.topic,
			type = excluded.type,
			tags_json = excluded.tags_json,
			ultra_brief = excluded.ultra_brief,
			executive_json = excluded.executive_json,
			detailed_summary = excluded.detailed_summary,
			raw_content = excluded.raw_content,
			decisions_json = excluded.decisions_json,
			actions_json = excluded.actions_json,
			questions_json = excluded.questions_json,
			insights_json = excluded.insights_json,
			people_json = excluded.people_json,
			projects_json = excluded.projects_json,
			parent_id = excluded.parent_id,
			related_json = excluded.related_json,
			language = excluded.language,
			sentiment = excluded.sentiment,
			importance = excluded.importance,
			confidence = excluded.confidence,
			sensitivity = excluded.sensitivity,
			version = excluded.version,
			created_by = excluded.created_by,
			updated_at = excluded.updated_at`

	err = s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		if r.Project == "" {
			return nil
		}
		return touchProject(ctx, tx, r.Project, r.Importance, toUnix(r.UpdatedAt))
	})
	if err != nil {
		return s.fail("save record", err, goerr.V("record_id", r.ID))
	}
	return nil
}

// GetRecord returns the record with id, or NOT_FOUND.
func (s *Store) GetRecord(ctx context.Context, id string) (*record.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound("record", id)
		}
		return nil, s.fail("get record", err, goerr.V("record_id", id))
	}
	return r, nil
}

// GetRecords returns the records that exist for ids, keyed by id.
// Missing ids are simply absent from the map.
func (s *Store) GetRecords(ctx context.Context, ids []string) (map[string]*record.Record, error) {
	out := make(map[string]*record.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, s.fail("get records", err, goerr.V("count", len(ids)))
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, s.fail("get records", err)
		}
		out[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("get records", err)
	}
	return out, nil
}

// DeleteRecord hard-deletes the row. Returns NOT_FOUND if nothing was deleted.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	var affected int64
	err := db.WithBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return s.fail("delete record", err, goerr.V("record_id", id))
	}
	if affected == 0 {
		return errors.NewNotFound("record", id)
	}
	return nil
}

// ListRecords returns records newest first.
func (s *Store) ListRecords(ctx context.Context, f ListFilter) ([]*record.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(records.tags_json) WHERE lower(json_each.value) = lower(?))")
		args = append(args, f.Tag)
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("list records", err, goerr.V("project", f.Project))
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, s.fail("list records", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list records", err)
	}
	return out, nil
}

// RecordIDs returns every record id. Used by reconciliation.
func (s *Store) RecordIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM records ORDER BY id`)
	if err != nil {
		return nil, s.fail("record ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("record ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("record ids", err)
	}
	return ids, nil
}

// CountRecords returns the number of stored records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, s.fail("count records", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func recordArgs(r *record.Record) ([]any, error) {
	lists := []any{r.Tags, r.ExecutiveSummary, r.Decisions, r.ActionItems, r.OpenQuestions,
		r.KeyInsights, r.PeopleMentioned, r.ProjectsMentioned, r.RelatedIDs}
	encoded := make([]sql.NullString, len(lists))
	for i, l := range lists {
		ns, err := db.EncodeJSON(l)
		if err != nil {
			return nil, fmt.Errorf("encode list field %d: %w", i, err)
		}
		encoded[i] = ns
	}

	return []any{
		r.ID, toUnix(r.Timestamp), string(r.Source), r.Project, r.Topic, string(r.Type), encoded[0],
		r.UltraBrief, encoded[1], r.DetailedSummary, r.RawContent,
		encoded[2], encoded[3], encoded[4], encoded[5], encoded[6], encoded[7],
		db.ToNullString(r.ParentID), encoded[8], r.Language, r.Sentiment, r.Importance, r.Confidence, string(r.Sensitivity),
		r.Version, r.CreatedBy, toUnix(r.UpdatedAt),
	}, nil
}

func scanRecord(row scanner) (*record.Record, error) {
	var r record.Record
	var ts, updated int64
	var source, typ, sensitivity string
	var tags, exec, decisions, actions, questions sql.NullString
	var insights, people, projects, related, parent sql.NullString

	err := row.Scan(
		&r.ID, &ts, &source, &r.Project, &r.Topic, &typ, &tags,
		&r.UltraBrief, &exec, &r.DetailedSummary, &r.RawContent,
		&decisions, &actions, &questions, &insights, &people, &projects,
		&parent, &related, &r.Language, &r.Sentiment, &r.Importance, &r.Confidence, &sensitivity,
		&r.Version, &r.CreatedBy, &updated,
	)
	if err != nil {
		return nil, err
	}

	r.Timestamp = fromUnix(ts)
	r.UpdatedAt = fromUnix(updated)
	r.Source = record.Source(source)
	r.Type = record.Type(typ)
	r.Sensitivity = record.Sensitivity(sensitivity)
	r.ParentID = db.FromNullString(parent)

	decode := []struct {
		col sql.NullString
		dst *[]string
	}{
		{tags, &r.Tags},
		{exec, &r.ExecutiveSummary},
		{decisions, &r.Decisions},
		{actions, &r.ActionItems},
		{questions, &r.OpenQuestions},
		{insights, &r.KeyInsights},
		{people, &r.PeopleMentioned},
		{projects, &r.ProjectsMentioned},
		{related, &r.RelatedIDs},
	}
	for _, d := range decode {
		if err := db.DecodeJSON(d.col, d.dst); err != nil {
			return nil, err
		}
	}

	return &r, nil
}
