package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/checkpoint"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/graph"
	"github.com/hpungsan/cairn/internal/knowledge"
	"github.com/hpungsan/cairn/internal/record"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func mustAdd(t *testing.T, a *app.App, content, project string) *AddOutput {
	t.Helper()
	out, err := Add(context.Background(), a, AddInput{Content: content, Project: project})
	require.NoError(t, err)
	return out
}

func TestAdd_GetSearchDelete(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	added := mustAdd(t, a, "We decided to use PostgreSQL for the billing service because of its transactional guarantees.", "atlas")
	mustAdd(t, a, "Buy more coffee filters for the office kitchen.", "")
	assert.Equal(t, record.TypeDecision, added.Type)
	assert.Equal(t, "atlas", added.Project)

	got, err := Get(ctx, a, GetInput{ID: added.ID})
	require.NoError(t, err)
	assert.Contains(t, got.RawContent, "PostgreSQL")

	noText := false
	got, err = Get(ctx, a, GetInput{ID: added.ID, IncludeText: &noText})
	require.NoError(t, err)
	assert.Empty(t, got.RawContent)

	found, err := Search(ctx, a, SearchInput{Query: "why did we choose Postgres", Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, found.Items)
	assert.Equal(t, added.ID, found.Items[0].ID)

	del, err := Delete(ctx, a, DeleteInput{ID: added.ID})
	require.NoError(t, err)
	assert.True(t, del.Deleted)

	_, err = Get(ctx, a, GetInput{ID: added.ID})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = Delete(ctx, a, DeleteInput{ID: added.ID})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestAdd_Validation(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input AddInput
	}{
		{"empty content", AddInput{Content: "   "}},
		{"unknown source", AddInput{Content: "x", Source: "carrier-pigeon"}},
		{"unknown sensitivity", AddInput{Content: "x", Sensitivity: "secret"}},
		{"bad parent id", AddInput{Content: "x", ParentID: "not-a-uuid"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Add(ctx, a, tc.input)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestList_Pagination(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	for _, c := range []string{"first note", "second note", "third note"} {
		mustAdd(t, a, c, "atlas")
		time.Sleep(2 * time.Millisecond)
	}
	mustAdd(t, a, "elsewhere", "borealis")

	page, err := List(ctx, a, ListInput{Project: "atlas", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Pagination.HasMore)
	assert.Equal(t, "third note", page.Items[0].UltraBrief)

	page, err = List(ctx, a, ListInput{Project: "atlas", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.Pagination.HasMore)

	_, err = List(ctx, a, ListInput{Type: "memo"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestUpdate(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	added := mustAdd(t, a, "Maybe we could cache the search results", "atlas")

	_, err := Update(ctx, a, UpdateInput{ID: added.ID})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	typ := "task"
	tags := []string{"Cache", "search"}
	out, err := Update(ctx, a, UpdateInput{ID: added.ID, Type: &typ, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, record.TypeTask, out.Type)
	assert.Equal(t, 2, out.Version)
	assert.Equal(t, []string{"Cache", "search"}, out.Tags)

	bad := "memo"
	_, err = Update(ctx, a, UpdateInput{ID: added.ID, Type: &bad})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestRelated(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	parent := mustAdd(t, a, "Plan the Q3 launch", "atlas")
	child, err := Add(ctx, a, AddInput{Content: "Book the venue for the Q3 launch", ParentID: parent.ID})
	require.NoError(t, err)

	out, err := Related(ctx, a, RelatedInput{RecordID: child.ID, Relation: "child_of"})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, graph.RecordNode(parent.ID), out.Items[0].Edge.Target)

	out, err = Related(ctx, a, RelatedInput{NodeID: graph.ProjectNode("atlas")})
	require.NoError(t, err)
	assert.Len(t, out.Items, 1)

	_, err = Related(ctx, a, RelatedInput{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestIndexAndSearchFiles(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "billing.md")
	require.NoError(t, os.WriteFile(path, []byte("# Billing\n\nInvoices are generated nightly from the ledger."), 0600))

	entry, err := Index(ctx, a, IndexInput{Path: path, ProjectID: "atlas", Tags: []string{"billing"}})
	require.NoError(t, err)
	assert.Equal(t, knowledge.FileVectorID(path), entry.VectorID)

	hits, err := SearchFiles(ctx, a, SearchFilesInput{Query: "nightly invoices", ProjectID: "atlas"})
	require.NoError(t, err)
	require.NotEmpty(t, hits.Items)
	assert.Equal(t, path, hits.Items[0].Path)

	_, err = Index(ctx, a, IndexInput{Path: filepath.Join(dir, "missing.md")})
	assert.True(t, errors.Is(err, errors.ErrFileNotFound))
}

func TestMove_ThenRollback(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	dir := t.TempDir()

	a1 := filepath.Join(dir, "inbox", "a.txt")
	b1 := filepath.Join(dir, "inbox", "b.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(a1), 0755))
	require.NoError(t, os.WriteFile(a1, []byte("a"), 0600))
	require.NoError(t, os.WriteFile(b1, []byte("b"), 0600))

	out, err := Move(ctx, a, MoveInput{
		Description: "tidy inbox",
		Moves: []MoveItem{
			{Src: a1, Dst: filepath.Join(dir, "docs", "a.txt"), Category: "docs"},
			{Src: b1, Dst: filepath.Join(dir, "notes", "b.txt")},
			{Src: filepath.Join(dir, "ghost.txt"), Dst: filepath.Join(dir, "x.txt")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Moved)
	require.Len(t, out.Failed, 1)
	require.NotEmpty(t, out.CheckpointID)
	assert.NoFileExists(t, a1)
	assert.FileExists(t, filepath.Join(dir, "docs", "a.txt"))

	list, err := Checkpoints(ctx, a, CheckpointsInput{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, DefaultMoveAction, list.Items[0].ActionType)
	assert.Len(t, list.Items[0].Operations, 2)

	rb, err := Rollback(ctx, a, RollbackInput{ID: out.CheckpointID})
	require.NoError(t, err)
	assert.Equal(t, 2, rb.SuccessCount)
	assert.FileExists(t, a1)
	assert.FileExists(t, b1)

	_, err = Rollback(ctx, a, RollbackInput{ID: out.CheckpointID})
	assert.True(t, errors.Is(err, errors.ErrAlreadyRolledBack))

	one, err := Checkpoints(ctx, a, CheckpointsInput{ID: out.CheckpointID})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusRolledBack, one.Items[0].Status)
}

func TestMove_NothingMovedWritesNoCheckpoint(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	dir := t.TempDir()

	out, err := Move(ctx, a, MoveInput{Moves: []MoveItem{{Src: filepath.Join(dir, "nope"), Dst: filepath.Join(dir, "still-nope")}}})
	require.NoError(t, err)
	assert.Empty(t, out.CheckpointID)
	assert.Len(t, out.Failed, 1)

	counts, err := a.Checkpoints.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[checkpoint.StatusActive])
}

func TestMove_JournalFailure(t *testing.T) {
	a := newTestApp(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "report.pdf")
	dst := filepath.Join(dir, "archive", "report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0600))

	// The move itself needs no database; the journal write does.
	require.NoError(t, a.DB.Close())

	_, err := Move(context.Background(), a, MoveInput{Moves: []MoveItem{{Src: src, Dst: dst}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJournalFailure))

	cerr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, []map[string]string{{"src": src, "dst": dst}}, cerr.Details["moves"])
	assert.FileExists(t, dst)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.JournalFailures))
}

func TestMove_Validation(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		moves []MoveItem
	}{
		{"empty", nil},
		{"missing dst", []MoveItem{{Src: "/tmp/a"}}},
		{"same path", []MoveItem{{Src: "/tmp/a", Dst: "/tmp/a"}}},
		{"traversal", []MoveItem{{Src: "/tmp/a", Dst: "/tmp/../etc/a"}}},
		{"duplicate src", []MoveItem{{Src: "/tmp/a", Dst: "/tmp/b"}, {Src: "/tmp/a", Dst: "/tmp/c"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Move(ctx, a, MoveInput{Moves: tc.moves})
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestCheckAndCacheSave(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scan.txt")
	require.NoError(t, os.WriteFile(path, []byte("receipt total 42.00"), 0600))

	first, err := Check(ctx, a, CheckInput{Path: path})
	require.NoError(t, err)
	assert.True(t, first.ShouldProcess)
	assert.Equal(t, DefaultCachePurpose, first.Purpose)

	_, err = CacheSave(ctx, a, CacheSaveInput{Hash: first.Hash, Result: json.RawMessage(`{"total":42}`), CostSaved: 0.01})
	require.NoError(t, err)

	for range 2 {
		again, err := Check(ctx, a, CheckInput{Path: path})
		require.NoError(t, err)
		assert.False(t, again.ShouldProcess)
		assert.JSONEq(t, `{"total":42}`, string(again.CachedResult))
	}

	_, err = CacheSave(ctx, a, CacheSaveInput{Hash: first.Hash, Result: json.RawMessage(`{not json`)})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestStaleAndProjectStatus(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	orig := record.Now
	record.Now = func() time.Time { return time.Now().UTC().Add(-30 * 24 * time.Hour) }
	mustAdd(t, a, "Kick off the data migration", "atlas")
	record.Now = orig
	mustAdd(t, a, "Fresh work", "borealis")

	out, err := Stale(ctx, a, StaleInput{})
	require.NoError(t, err)
	assert.Equal(t, DefaultStaleDays, out.Days)
	require.Len(t, out.Projects, 1)
	assert.Equal(t, "atlas", out.Projects[0].Name)

	_, err = ProjectStatus(ctx, a, ProjectStatusInput{Name: "atlas", Status: "Paused"})
	require.NoError(t, err)
	out, err = Stale(ctx, a, StaleInput{})
	require.NoError(t, err)
	assert.Empty(t, out.Projects)

	_, err = ProjectStatus(ctx, a, ProjectStatusInput{Name: "atlas", Status: "archived"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = ProjectStatus(ctx, a, ProjectStatusInput{Name: "nobody", Status: "done"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestApp(t)
	ctx := context.Background()
	mustAdd(t, src, "We decided to adopt trunk-based development.", "atlas")
	mustAdd(t, src, "Remind me to renew the TLS certificate.", "borealis")

	exported, err := Export(ctx, src, ExportInput{Project: "atlas"})
	require.NoError(t, err)
	assert.Equal(t, 1, exported.Count)
	assert.Equal(t, src.ExportsDir(), filepath.Dir(exported.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(exported.Path), "atlas-"))

	f, err := os.Open(exported.Path)
	require.NoError(t, err)
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var header ExportHeader
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &header))
	assert.True(t, header.CairnExport)
	f.Close()

	dst := newTestApp(t)
	target := filepath.Join(dst.ExportsDir(), "in.jsonl")
	data, err := os.ReadFile(exported.Path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(target, append(data, []byte("{broken\n")...), 0600))

	imported, err := Import(ctx, dst, ImportInput{Path: target})
	require.NoError(t, err)
	assert.Equal(t, 1, imported.Imported)
	require.Len(t, imported.Errors, 1)
	assert.Equal(t, 3, imported.Errors[0].Line)

	found, err := Search(ctx, dst, SearchInput{Query: "trunk-based development"})
	require.NoError(t, err)
	require.NotEmpty(t, found.Items)
	assert.Equal(t, "atlas", found.Items[0].Project)

	again, err := Import(ctx, dst, ImportInput{Path: target})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Imported)
	assert.Equal(t, 1, again.Skipped)

	_, err = Import(ctx, dst, ImportInput{Path: target, Mode: "merge"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestImport_RequiresExportHeader(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	noHeader := filepath.Join(a.ExportsDir(), "raw.jsonl")
	require.NoError(t, os.WriteFile(noHeader, []byte(`{"id":"abc","raw_content":"x"}`+"\n"), 0600))
	_, err := Import(ctx, a, ImportInput{Path: noHeader})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	future := filepath.Join(a.ExportsDir(), "future.jsonl")
	require.NoError(t, os.WriteFile(future, []byte(`{"_cairn_export":true,"schema_version":"2.0"}`+"\n"), 0600))
	_, err = Import(ctx, a, ImportInput{Path: future})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	empty := filepath.Join(a.ExportsDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	_, err = Import(ctx, a, ImportInput{Path: empty})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	headerOnly := filepath.Join(a.ExportsDir(), "header.jsonl")
	require.NoError(t, os.WriteFile(headerOnly, []byte(`{"_cairn_export":true,"schema_version":"1.0"}`+"\n"), 0600))
	out, err := Import(ctx, a, ImportInput{Path: headerOnly})
	require.NoError(t, err)
	assert.Zero(t, out.Imported)
	assert.Empty(t, out.Errors)
}

func TestExport_RejectsPathOutsideAllowedDirs(t *testing.T) {
	a := newTestApp(t)
	_, err := Export(context.Background(), a, ExportInput{Path: filepath.Join(t.TempDir(), "out.jsonl")})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestReconcileAndStats(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	added := mustAdd(t, a, "The staging cluster runs on spot instances.", "atlas")
	require.NoError(t, a.Vectors.Delete(ctx, added.ID))

	rec, err := Reconcile(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RecordsReembedded)

	stats, err := Stats(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 1, stats.Vectors)
	assert.Equal(t, "local", stats.Provider)
	assert.Equal(t, 256, stats.EmbedDims)
	assert.Equal(t, 1.0, stats.Counters["cairn_records_added_total"])
	assert.Equal(t, 1.0, stats.Counters[`cairn_reconcile_repairs_total{kind="reembed"}`])
	assert.Positive(t, stats.GraphNodes)
}
