package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/relational"
)

// exportBatchSize is how many records are read per page while exporting.
const exportBatchSize = 200

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path    string // optional, default: <base>/exports/<project|all>-<timestamp>.jsonl
	Project string // optional filter by project
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes records to a JSONL file: one header line, then one record
// per line, newest first. Embeddings are not exported.
func Export(ctx context.Context, a *app.App, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportedAt := now.Unix()
	project := strings.TrimSpace(input.Project)

	exportPath := input.Path
	if exportPath == "" {
		exportPath = filepath.Join(a.ExportsDir(), archiveFileName(project, now))
	}

	exportPath, err := ResolveArchivePath(exportPath, ArchiveWrite, a.ExportsDir(), a.Config)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Write to a temp file and rename so an existing export survives failure.
	file, tempPath, err := createArchiveTemp(exportPath)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(ExportHeader{
		CairnExport:   true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    exportedAt,
	}); err != nil {
		return nil, errors.NewInternal(err)
	}

	count := 0
	for offset := 0; ; offset += exportBatchSize {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("export")
		}
		batch, err := a.Relational.ListRecords(ctx, relational.ListFilter{
			Project: project,
			Limit:   exportBatchSize,
			Offset:  offset,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range batch {
			if err := enc.Encode(r); err != nil {
				return nil, errors.NewInternal(err)
			}
			count++
		}
		if len(batch) < exportBatchSize {
			break
		}
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before the rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination.
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	// On Windows os.Rename fails if the destination exists; the existing
	// file is kept rather than risking a non-atomic replace.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (choose a new path or delete the existing file)")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{
		Path:       exportPath,
		Count:      count,
		ExportedAt: exportedAt,
	}, nil
}
