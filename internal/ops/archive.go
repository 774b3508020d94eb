package ops

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/hpungsan/cairn/internal/config"
	"github.com/hpungsan/cairn/internal/errors"
)

// A record archive is the JSONL file Export writes and Import reads: one
// ExportHeader line, then one record per line.

const archiveExt = ".jsonl"

// ExportSchemaVersion is written in every export header. Import accepts any
// version with the same major number.
const ExportSchemaVersion = "1.0"

// ExportHeader is the first line of an archive.
type ExportHeader struct {
	CairnExport   bool   `json:"_cairn_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ArchiveAccess says whether an archive is about to be read or written.
type ArchiveAccess int

const (
	ArchiveRead ArchiveAccess = iota
	ArchiveWrite
)

// ResolveArchivePath checks path against the archive rules and returns it
// absolute and cleaned:
//   - no ".." component, and a .jsonl extension
//   - its parent is the exports directory or an absolute allowed_paths entry
//     itself, not a subdirectory, and is not a symlink (lifted by
//     allow_unsafe_paths)
//   - the file is not a symlink
//   - for reads, the file exists and is a regular file
//
// With no intermediate directory to swap, openNoFollow's O_NOFOLLOW on the
// last component is enough at open time.
func ResolveArchivePath(path string, access ArchiveAccess, exportsDir string, cfg *config.Config) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.NewInvalidRequest("path is required")
	}
	if hasDotDot(path) {
		return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	if filepath.Ext(abs) != archiveExt {
		return "", errors.NewInvalidRequest("archive path must have " + archiveExt + " extension")
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		dirs, err := archiveDirs(exportsDir, cfg)
		if err != nil {
			return "", err
		}
		parent := filepath.Dir(abs)
		if !slices.Contains(dirs, parent) {
			return "", errors.NewInvalidRequest(
				fmt.Sprintf("archive must be directly in an allowed directory (no subdirectories); allowed: %v", dirs))
		}
		if isSymlink(parent) {
			return "", errors.NewInvalidRequest("parent directory must not be a symlink")
		}
	}

	info, err := os.Lstat(abs)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		return "", errors.NewInvalidRequest("path must not be a symlink")
	case err == nil && access == ArchiveRead && !info.Mode().IsRegular():
		return "", errors.NewInvalidRequest("archive is not a regular file")
	case os.IsNotExist(err) && access == ArchiveRead:
		return "", errors.NewFileNotFound(path)
	}
	return abs, nil
}

// archiveDirs lists the directories archives may sit in. An entry that is
// itself a symlink is resolved so the comparison is against the real path.
func archiveDirs(exportsDir string, cfg *config.Config) ([]string, error) {
	candidates := make([]string, 0, 4)
	if exportsDir != "" {
		candidates = append(candidates, exportsDir)
	}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				candidates = append(candidates, p)
			}
		}
	}

	dirs := make([]string, 0, len(candidates))
	for _, d := range candidates {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if isSymlink(abs) {
			if abs, err = filepath.EvalSymlinks(abs); err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
		}
		dirs = append(dirs, abs)
	}
	return dirs, nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// hasDotDot reports whether any component of path, split on either
// separator, is "..".
func hasDotDot(path string) bool {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == filepath.Separator })
	return slices.Contains(parts, "..")
}

// checkArchiveHeader verifies that line is an export header this build can
// read.
func checkArchiveHeader(line []byte) error {
	var h ExportHeader
	if err := json.Unmarshal(line, &h); err != nil || !h.CairnExport {
		return errors.NewInvalidRequest("not a cairn export: the first line must be the export header")
	}
	if major(h.SchemaVersion) != major(ExportSchemaVersion) {
		return errors.NewInvalidRequest(fmt.Sprintf("unsupported export schema version %q (want %s.x)",
			h.SchemaVersion, major(ExportSchemaVersion)))
	}
	return nil
}

func major(version string) string {
	m, _, _ := strings.Cut(version, ".")
	return m
}

// archiveFileName names a default export: <project|all>-<timestamp>.jsonl.
func archiveFileName(project string, now time.Time) string {
	name := "all"
	if project != "" {
		name = projectSlug(project)
	}
	return name + "-" + now.Format("2006-01-02T150405") + archiveExt
}

// projectSlug reduces a project name to lowercase letters, digits and '_',
// with every other run of characters collapsed to one '-'. Leading and
// trailing separators are dropped.
func projectSlug(project string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(project) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}

// createArchiveTemp creates an empty file next to dest for a
// write-then-rename. The random suffix plus O_EXCL means an existing file is
// never reused.
func createArchiveTemp(dest string) (*os.File, string, error) {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, "", errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tmp := dest + "." + hex.EncodeToString(suffix) + ".tmp"
	f, err := openNoFollow(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, "", err
	}
	return f, tmp, nil
}
