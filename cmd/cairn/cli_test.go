package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/ops"
	"github.com/hpungsan/cairn/internal/watch"
)

func setupTestApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// runCLI runs the CLI with args and returns what it wrote to stdout.
func runCLI(t *testing.T, ctx context.Context, a *app.App, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	runErr := newCLIApp(a).RunContext(ctx, append([]string{"cairn"}, args...))

	w.Close()
	os.Stdout = oldStdout
	return <-outC, runErr
}

// withStdin replaces stdin with a pipe carrying content for the rest of the test.
func withStdin(t *testing.T, content string) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	go func() {
		_, _ = w.WriteString(content)
		w.Close()
	}()

	oldStdin := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = oldStdin
		r.Close()
	})
}

func decodeOutput[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), "output: %s", out)
	return v
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single item", "foo", []string{"foo"}},
		{"multiple items", "foo,bar,baz", []string{"foo", "bar", "baz"}},
		{"items with spaces", " foo , bar , baz ", []string{"foo", "bar", "baz"}},
		{"empty items dropped", "foo,,bar,", []string{"foo", "bar"}},
		{"only commas", ",,,", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseList(tt.input))
		})
	}
}

func TestParseMoves(t *testing.T) {
	moves, err := parseMoves([]string{"/a/1.txt", "/b/1.txt", "/a/2.txt", "/b/2.txt"}, "tidy")
	require.NoError(t, err)
	assert.Equal(t, []ops.MoveItem{
		{Src: "/a/1.txt", Dst: "/b/1.txt", Reason: "tidy"},
		{Src: "/a/2.txt", Dst: "/b/2.txt", Reason: "tidy"},
	}, moves)

	_, err = parseMoves([]string{"/a/1.txt"}, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestParseMoves_FromStdin(t *testing.T) {
	withStdin(t, `[{"src":"/a/1.txt","dst":"/b/1.txt","category":"docs"}]`)

	moves, err := parseMoves(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []ops.MoveItem{{Src: "/a/1.txt", Dst: "/b/1.txt", Category: "docs"}}, moves)
}

func TestParseMoves_BadStdinJSON(t *testing.T) {
	withStdin(t, `{"src":"/a"}`)

	_, err := parseMoves(nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestCLIAddGetDelete(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	out, err := runCLI(t, ctx, a, "add", "--project=atlas", "We decided to use SQLite for the local cache.")
	require.NoError(t, err)
	added := decodeOutput[ops.AddOutput](t, out)
	require.NotEmpty(t, added.ID)
	assert.Equal(t, "atlas", added.Project)

	out, err = runCLI(t, ctx, a, "get", "--no-text", added.ID)
	require.NoError(t, err)
	got := decodeOutput[ops.GetOutput](t, out)
	assert.Equal(t, added.ID, got.ID)
	assert.Empty(t, got.RawContent)

	out, err = runCLI(t, ctx, a, "search", "SQLite", "cache")
	require.NoError(t, err)
	found := decodeOutput[ops.SearchOutput](t, out)
	require.NotEmpty(t, found.Items)
	assert.Equal(t, added.ID, found.Items[0].ID)

	out, err = runCLI(t, ctx, a, "delete", added.ID)
	require.NoError(t, err)
	assert.True(t, decodeOutput[ops.DeleteOutput](t, out).Deleted)

	_, err = runCLI(t, ctx, a, "get", added.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[NOT_FOUND]")
}

func TestCLIAddFromStdin(t *testing.T) {
	a := setupTestApp(t)
	withStdin(t, "  Remember to renew the TLS certificate.  \n")

	out, err := runCLI(t, context.Background(), a, "add", "--topic=ops")
	require.NoError(t, err)
	added := decodeOutput[ops.AddOutput](t, out)

	rec, err := a.Relational.GetRecord(context.Background(), added.ID)
	require.NoError(t, err)
	assert.Equal(t, "Remember to renew the TLS certificate.", rec.RawContent)
}

func TestCLIUpdateAppliesOnlySetFlags(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	out, err := runCLI(t, ctx, a, "add", "--project=atlas", "--topic=storage", "Compaction runs nightly.")
	require.NoError(t, err)
	added := decodeOutput[ops.AddOutput](t, out)

	out, err = runCLI(t, ctx, a, "update", "--importance=4", "--tags=ops, nightly", added.ID)
	require.NoError(t, err)
	updated := decodeOutput[ops.UpdateOutput](t, out)
	assert.Equal(t, 4, updated.Importance)
	assert.Equal(t, []string{"ops", "nightly"}, updated.Tags)
	assert.Equal(t, "atlas", updated.Project)
	assert.Equal(t, "storage", updated.Topic)

	_, err = runCLI(t, ctx, a, "update", added.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[INVALID_REQUEST]")
}

func TestCLIListAndStats(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	for _, content := range []string{"First note.", "Second note.", "Third note."} {
		_, err := runCLI(t, ctx, a, "add", "--project=atlas", content)
		require.NoError(t, err)
	}

	out, err := runCLI(t, ctx, a, "list", "--limit=2")
	require.NoError(t, err)
	page := decodeOutput[ops.ListOutput](t, out)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.Pagination.HasMore)

	out, err = runCLI(t, ctx, a, "stats")
	require.NoError(t, err)
	stats := decodeOutput[ops.StatsOutput](t, out)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 3, stats.Vectors)
}

func TestCLIMoveAndRollback(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := filepath.Join(dir, "inbox", "invoice.pdf")
	dst := filepath.Join(dir, "finance", "invoice.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0600))

	out, err := runCLI(t, ctx, a, "move", "--description=file invoices", src, dst)
	require.NoError(t, err)
	moved := decodeOutput[ops.MoveOutput](t, out)
	require.NotEmpty(t, moved.CheckpointID)
	assert.FileExists(t, dst)

	out, err = runCLI(t, ctx, a, "checkpoints", moved.CheckpointID)
	require.NoError(t, err)
	cps := decodeOutput[ops.CheckpointsOutput](t, out)
	require.Len(t, cps.Items, 1)
	assert.Equal(t, "file invoices", cps.Items[0].Description)

	_, err = runCLI(t, ctx, a, "rollback", moved.CheckpointID)
	require.NoError(t, err)
	assert.FileExists(t, src)
	assert.NoFileExists(t, dst)

	_, err = runCLI(t, ctx, a, "rollback", moved.CheckpointID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[ALREADY_ROLLED_BACK]")
}

func TestCLIIndexCheckAndSearchFiles(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "runbook.md")
	require.NoError(t, os.WriteFile(path, []byte("# Runbook\n\nRestart the ingest worker when the queue backs up."), 0600))

	_, err := runCLI(t, ctx, a, "index", "--project=atlas", "--tags=ops", path)
	require.NoError(t, err)

	out, err := runCLI(t, ctx, a, "search-files", "restart ingest worker")
	require.NoError(t, err)
	files := decodeOutput[ops.SearchFilesOutput](t, out)
	require.NotEmpty(t, files.Items)
	assert.Equal(t, path, files.Items[0].Path)

	out, err = runCLI(t, ctx, a, "check", path)
	require.NoError(t, err)
	check := decodeOutput[ops.CheckOutput](t, out)
	assert.True(t, check.ShouldProcess)
	assert.Equal(t, ops.DefaultCachePurpose, check.Purpose)
}

func TestCLIStaleAndProjectStatus(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	_, err := runCLI(t, ctx, a, "add", "--project=atlas", "Atlas kickoff.")
	require.NoError(t, err)

	out, err := runCLI(t, ctx, a, "project-status", "atlas", "done")
	require.NoError(t, err)
	assert.Equal(t, "done", string(decodeOutput[ops.ProjectStatusOutput](t, out).Status))

	out, err = runCLI(t, ctx, a, "stale", "--days=0")
	require.NoError(t, err)
	stale := decodeOutput[ops.StaleOutput](t, out)
	assert.Equal(t, 0, stale.Days)
	assert.Empty(t, stale.Projects)

	_, err = runCLI(t, ctx, a, "project-status", "atlas")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[INVALID_REQUEST]")
}

func TestCLIExportImportReconcile(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	_, err := runCLI(t, ctx, a, "add", "--project=atlas", "Rotate API keys every quarter.")
	require.NoError(t, err)

	out, err := runCLI(t, ctx, a, "export", "--project=atlas")
	require.NoError(t, err)
	exported := decodeOutput[ops.ExportOutput](t, out)
	assert.Equal(t, 1, exported.Count)

	out, err = runCLI(t, ctx, a, "import", "--mode=replace", exported.Path)
	require.NoError(t, err)
	imported := decodeOutput[ops.ImportOutput](t, out)
	assert.Equal(t, 1, imported.Imported)
	assert.Empty(t, imported.Errors)

	out, err = runCLI(t, ctx, a, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "{")
}

func TestCLIWatchStopsOnCancel(t *testing.T) {
	a := setupTestApp(t)
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := runCLI(t, ctx, a, "watch", "--debounce=20ms", "--ignore=*.tmp", dir)
	require.NoError(t, err)
	stats := decodeOutput[watch.Stats](t, out)
	assert.Zero(t, stats.Errors)

	_, err = runCLI(t, context.Background(), a, "watch")
	require.Error(t, err)

	_, err = runCLI(t, context.Background(), a, "watch", filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestOutputError(t *testing.T) {
	err := outputError(errors.NewNotFound("record", "abc"))
	assert.Equal(t, "[NOT_FOUND] record not found: abc", err.Error())

	err = outputError(errors.NewInternal(io.ErrUnexpectedEOF))
	assert.Equal(t, "[INTERNAL] an internal error occurred", err.Error())

	err = outputError(io.EOF)
	assert.Equal(t, "EOF", err.Error())
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"cairn"}, false},
		{"add command", []string{"cairn", "add"}, true},
		{"search-files command", []string{"cairn", "search-files"}, true},
		{"watch command", []string{"cairn", "watch"}, true},
		{"help flag", []string{"cairn", "--help"}, true},
		{"version flag", []string{"cairn", "--version"}, true},
		{"short help flag", []string{"cairn", "-h"}, true},
		{"short version flag", []string{"cairn", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"cairn", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			assert.Equal(t, tt.expected, isCLIMode())
		})
	}
}

func TestCLICommandsMatchTable(t *testing.T) {
	for _, cmd := range newCLIApp(nil).Commands {
		assert.True(t, cliCommands[cmd.Name], "command %q missing from cliCommands", cmd.Name)
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"cairn"}, false},
		{"help flag", []string{"cairn", "--help"}, true},
		{"short help flag", []string{"cairn", "-h"}, true},
		{"version flag", []string{"cairn", "--version"}, true},
		{"short version flag", []string{"cairn", "-v"}, true},
		{"help subcommand", []string{"cairn", "help"}, true},
		{"add command is not help", []string{"cairn", "add"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			assert.Equal(t, tt.expected, isHelpOrVersion())
		})
	}
}

func TestReadStdinWithLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		withStdin(t, "small content")

		result, err := readStdin(1000)
		require.NoError(t, err)
		assert.Equal(t, "small content", result)
	})

	t.Run("exceeds limit", func(t *testing.T) {
		withStdin(t, strings.Repeat("x", 100))

		_, err := readStdin(50)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})
}
