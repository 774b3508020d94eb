package relational

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn, nil)
}

func fullRecord() *record.Record {
	ts := time.Date(2026, 5, 4, 3, 2, 1, 123456789, time.UTC)
	return &record.Record{
		ID:                uuid.NewString(),
		Timestamp:         ts,
		Source:            record.SourceEmail,
		Project:           "DB",
		Topic:             "storage engine",
		Type:              record.TypeDecision,
		Tags:              []string{"postgres", "database"},
		UltraBrief:        "Chose PostgreSQL",
		ExecutiveSummary:  []string{"We picked PostgreSQL.", "SQLite stays for local."},
		DetailedSummary:   "Long form summary.",
		RawContent:        "We decided to use PostgreSQL for the DB project.",
		Decisions:         []string{"use PostgreSQL"},
		ActionItems:       []string{"provision cluster", "migrate schema"},
		OpenQuestions:     []string{"which version?"},
		KeyInsights:       []string{"JSONB covers our document needs"},
		PeopleMentioned:   []string{"Dana"},
		ProjectsMentioned: []string{"DB", "Billing"},
		ParentID:          uuid.NewString(),
		RelatedIDs:        []string{"0a6c1b6e-0000-4000-8000-000000000001", "0a6c1b6e-0000-4000-8000-000000000002"},
		Language:          "en",
		Sentiment:         "positive",
		Importance:        4,
		Confidence:        0.875,
		Sensitivity:       record.SensitivityConfidential,
		Version:           2,
		CreatedBy:         "tester",
		UpdatedAt:         ts.Add(time.Minute),
	}
}

func TestSaveRecord_RoundTripsEveryField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := fullRecord()

	require.NoError(t, s.SaveRecord(ctx, want))

	got, err := s.GetRecord(ctx, want.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveRecord_NeverStoresEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := fullRecord()
	r.Embedding = []float32{1, 2, 3}

	require.NoError(t, s.SaveRecord(ctx, r))
	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)
}

func TestSaveRecord_FullUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := fullRecord()
	require.NoError(t, s.SaveRecord(ctx, r))

	// A second save replaces every column, including clearing lists.
	r.Tags = nil
	r.ActionItems = nil
	r.UltraBrief = "changed"
	r.Version = 3
	require.NoError(t, s.SaveRecord(ctx, r))

	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Tags)
	assert.Nil(t, got.ActionItems)
	assert.Equal(t, "changed", got.UltraBrief)
	assert.Equal(t, 3, got.Version)

	n, err := s.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetRecord_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecord(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestGetRecords_SkipsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := fullRecord(), fullRecord()
	require.NoError(t, s.SaveRecord(ctx, a))
	require.NoError(t, s.SaveRecord(ctx, b))

	got, err := s.GetRecords(ctx, []string{a.ID, "ghost", b.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, a.ID)
	assert.Contains(t, got, b.ID)

	empty, err := s.GetRecords(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := fullRecord()
	require.NoError(t, s.SaveRecord(ctx, r))

	require.NoError(t, s.DeleteRecord(ctx, r.ID))
	_, err := s.GetRecord(ctx, r.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = s.DeleteRecord(ctx, r.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestListRecords_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, spec := range []struct {
		project string
		typ     record.Type
		tags    []string
	}{
		{"alpha", record.TypeNote, []string{"Go"}},
		{"alpha", record.TypeTask, []string{"sqlite"}},
		{"beta", record.TypeNote, []string{"go", "mcp"}},
	} {
		r := fullRecord()
		r.Project = spec.project
		r.Type = spec.typ
		r.Tags = spec.tags
		r.Timestamp = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.SaveRecord(ctx, r))
	}

	all, err := s.ListRecords(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Timestamp.After(all[1].Timestamp), "newest first")

	alpha, err := s.ListRecords(ctx, ListFilter{Project: "alpha"})
	require.NoError(t, err)
	assert.Len(t, alpha, 2)

	notes, err := s.ListRecords(ctx, ListFilter{Type: record.TypeNote})
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	tagged, err := s.ListRecords(ctx, ListFilter{Tag: "GO"})
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	page, err := s.ListRecords(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)
}

func TestRecordIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := fullRecord()
	require.NoError(t, s.SaveRecord(ctx, r))

	ids, err := s.RecordIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{r.ID}, ids)
}

func TestGetStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fixed := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	orig := record.Now
	record.Now = func() time.Time { return fixed }
	t.Cleanup(func() { record.Now = orig })

	save := func(project string, importance int, age time.Duration) {
		r := fullRecord()
		r.Project = project
		r.Importance = importance
		r.UpdatedAt = fixed.Add(-age)
		require.NoError(t, s.SaveRecord(ctx, r))
	}
	save("old-low", 2, 30*24*time.Hour)
	save("old-high", 5, 20*24*time.Hour)
	save("fresh", 5, time.Hour)
	save("paused", 5, 40*24*time.Hour)
	require.NoError(t, s.SetProjectStatus(ctx, "paused", record.ProjectPaused))

	stale, err := s.GetStale(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "old-high", stale[0].Name)
	assert.Equal(t, "old-low", stale[1].Name)
	assert.Equal(t, record.ProjectActive, stale[0].Status)

	_, err = s.GetStale(ctx, -1)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSetProjectStatus_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SetProjectStatus(ctx, "nope", record.ProjectDone)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = s.SetProjectStatus(ctx, "nope", "archived")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestProjectImportanceKeepsMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hi := fullRecord()
	hi.Project = "p"
	hi.Importance = 5
	hi.UpdatedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRecord(ctx, hi))

	lo := fullRecord()
	lo.Project = "p"
	lo.Importance = 1
	lo.UpdatedAt = hi.UpdatedAt
	require.NoError(t, s.SaveRecord(ctx, lo))

	stale, err := s.GetStale(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, 5, stale[0].Importance)
}
