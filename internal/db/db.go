package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/cairn/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// FileName is the shared database file under the base directory.
const FileName = "cairn.db"

// Init initializes the shared SQLite database at baseDir/cairn.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.cairn.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	dbPath := filepath.Join(baseDir, FileName)
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// Open opens a SQLite file with the busy timeout and WAL pragmas applied to
// every pooled connection. It does not run migrations; the vector store
// uses it for its own file.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: records, projects, file index
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS records (
		  id                 TEXT PRIMARY KEY,
		  timestamp          INTEGER NOT NULL,
		  source             TEXT NOT NULL,
		  project            TEXT NOT NULL DEFAULT '',
		  topic              TEXT NOT NULL DEFAULT '',
		  type               TEXT NOT NULL,
		  tags_json          TEXT,
		  ultra_brief        TEXT NOT NULL DEFAULT '',
		  executive_json     TEXT,
		  detailed_summary   TEXT NOT NULL DEFAULT '',
		  raw_content        TEXT NOT NULL,
		  decisions_json     TEXT,
		  actions_json       TEXT,
		  questions_json     TEXT,
		  insights_json      TEXT,
		  people_json        TEXT,
		  projects_json      TEXT,
		  parent_id          TEXT,
		  related_json       TEXT,
		  language           TEXT NOT NULL DEFAULT '',
		  sentiment          TEXT NOT NULL DEFAULT '',
		  importance         INTEGER NOT NULL,
		  confidence         REAL NOT NULL,
		  sensitivity        TEXT NOT NULL,
		  version            INTEGER NOT NULL,
		  created_by         TEXT NOT NULL DEFAULT '',
		  updated_at         INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_project ON records(project);
		CREATE INDEX IF NOT EXISTS idx_records_type ON records(type);
		CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp DESC);

		CREATE TABLE IF NOT EXISTS projects (
		  name        TEXT PRIMARY KEY,
		  status      TEXT NOT NULL DEFAULT 'active',
		  importance  INTEGER NOT NULL DEFAULT 3,
		  updated_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS file_index (
		  path           TEXT PRIMARY KEY,
		  project_id     TEXT NOT NULL DEFAULT '',
		  description    TEXT NOT NULL DEFAULT '',
		  tags_json      TEXT,
		  content_hash   TEXT NOT NULL,
		  last_modified  INTEGER NOT NULL,
		  vector_id      TEXT NOT NULL,
		  indexed_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_file_index_hash ON file_index(content_hash);
		CREATE INDEX IF NOT EXISTS idx_file_index_project ON file_index(project_id);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: graph, checkpoints, guard cache
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS graph_nodes (
		  id               TEXT PRIMARY KEY,
		  type             TEXT NOT NULL,
		  properties_json  TEXT,
		  updated_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS graph_edges (
		  source           TEXT NOT NULL,
		  target           TEXT NOT NULL,
		  relation         TEXT NOT NULL,
		  properties_json  TEXT,
		  updated_at       INTEGER NOT NULL,
		  PRIMARY KEY (source, target, relation)
		);

		CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target);

		CREATE TABLE IF NOT EXISTS checkpoints (
		  id               TEXT PRIMARY KEY,
		  timestamp        INTEGER NOT NULL,
		  action_type      TEXT NOT NULL,
		  description      TEXT NOT NULL DEFAULT '',
		  operations_json  TEXT NOT NULL,
		  meta_json        TEXT,
		  status           TEXT NOT NULL DEFAULT 'active',
		  rolled_back_at   INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_timestamp ON checkpoints(timestamp DESC);

		CREATE TABLE IF NOT EXISTS cache_entries (
		  id            TEXT PRIMARY KEY,
		  content_hash  TEXT NOT NULL,
		  context       TEXT NOT NULL,
		  result_json   TEXT NOT NULL,
		  cost_saved    REAL NOT NULL DEFAULT 0,
		  hits          INTEGER NOT NULL DEFAULT 0,
		  created_at    INTEGER NOT NULL,
		  last_hit_at   INTEGER
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_cache_entries_key
		ON cache_entries(content_hash, context);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
