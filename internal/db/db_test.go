package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/cairn/internal/config"
)

func TestInit(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(tmpDir, "cairn.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", dbPath)
	}

	exportsDir := filepath.Join(tmpDir, "exports")
	info, err := os.Stat(exportsDir)
	if os.IsNotExist(err) {
		t.Errorf("exports directory not created at %s", exportsDir)
	} else if !info.IsDir() {
		t.Errorf("exports path is not a directory")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	for _, table := range []string{"records", "projects", "file_index", "graph_nodes", "graph_edges", "checkpoints", "cache_entries"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestInit_CreatesDirectories(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", "path", ".cairn")

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Errorf("base directory not created at %s", baseDir)
	}
}

func TestInit_MigrationIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	db1.Close()

	db2, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	defer db2.Close()

	version, err := GetUserVersion(db2)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version after second Init = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInit_SchemaIndexes(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	indexes := []string{
		"idx_records_project",
		"idx_records_type",
		"idx_records_timestamp",
		"idx_file_index_hash",
		"idx_graph_edges_target",
		"idx_cache_entries_key",
	}

	for _, idx := range indexes {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", idx, err)
		}
	}
}

func TestConfigurePool(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	ConfigurePool(db, nil)
	ConfigurePool(db, &config.Config{DBMaxOpenConns: 1, DBMaxIdleConns: 1})

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestWithBusyRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries busy then succeeds", func(t *testing.T) {
		calls := 0
		err := WithBusyRetry(ctx, func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithBusyRetry() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		calls := 0
		err := WithBusyRetry(ctx, func() error {
			calls++
			return errors.New("database is locked")
		})
		if !IsBusyError(err) {
			t.Fatalf("err = %v, want busy error", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		err := WithBusyRetry(ctx, func() error {
			calls++
			return errors.New("no such table")
		})
		if err == nil || calls != 1 {
			t.Errorf("err = %v, calls = %d; want error after 1 call", err, calls)
		}
	})

	t.Run("other errors come back as returned", func(t *testing.T) {
		want := errors.New("no such column")
		err := WithBusyRetry(ctx, func() error { return want })
		if err != want {
			t.Errorf("err = %#v, want %#v", err, want)
		}
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := WithBusyRetry(cctx, func() error {
			calls++
			cancel()
			return errors.New("database is locked")
		})
		if err == nil {
			t.Fatal("WithBusyRetry() error = nil, want error")
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestJSONColumns(t *testing.T) {
	ns, err := EncodeJSON([]string{})
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}
	if ns.Valid {
		t.Error("empty slice should encode as NULL")
	}

	ns, err = EncodeJSON([]string{"a", "b"})
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}
	var got []string
	if err := DecodeJSON(ns, &got); err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("round trip = %v", got)
	}

	var untouched []string
	if err := DecodeJSON(sql.NullString{}, &untouched); err != nil || untouched != nil {
		t.Errorf("DecodeJSON(NULL) = %v, %v", untouched, err)
	}
}
