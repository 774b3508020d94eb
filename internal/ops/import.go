package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/record"
)

// ImportMode controls what happens when an imported id already exists.
type ImportMode string

const (
	ImportModeSkip    ImportMode = "skip"    // keep the existing record
	ImportModeReplace ImportMode = "replace" // overwrite it
)

// maxImportLine bounds a single JSONL line.
const maxImportLine = 16 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: skip
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError represents a line that could not be imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type importLine struct {
	CairnExport bool `json:"_cairn_export"`
	record.Record
}

// Import loads records from a JSONL export. The first line must be a
// compatible export header. Each record keeps its id and is re-embedded. Bad lines are reported and skipped; cancellation stops the
// import with the lines read so far applied.
func Import(ctx context.Context, a *app.App, input ImportInput) (*ImportOutput, error) {
	if input.Mode == "" {
		input.Mode = ImportModeSkip
	}
	if input.Mode != ImportModeSkip && input.Mode != ImportModeReplace {
		return nil, errors.NewInvalidRequest("mode must be one of: skip, replace")
	}
	path, err := ResolveArchivePath(input.Path, ArchiveRead, a.ExportsDir(), a.Config)
	if err != nil {
		return nil, err
	}

	file, err := openNoFollow(path, os.O_RDONLY, 0)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	out := &ImportOutput{Errors: []ImportError{}}
	fail := func(line int, id string, code errors.ErrorCode, msg string) {
		out.Errors = append(out.Errors, ImportError{Line: line, ID: id, Code: string(code), Message: msg})
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0
	sawHeader := false
	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if !sawHeader {
			if err := checkArchiveHeader(scanner.Bytes()); err != nil {
				return nil, err
			}
			sawHeader = true
			continue
		}

		var line importLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			fail(lineNum, "", errors.ErrInvalidRequest, fmt.Sprintf("invalid JSON: %v", err))
			continue
		}
		if line.CairnExport {
			fail(lineNum, "", errors.ErrInvalidRequest, "unexpected export header")
			continue
		}
		r := &line.Record
		if r.ID == "" {
			fail(lineNum, "", errors.ErrInvalidRequest, "missing id field")
			continue
		}

		if input.Mode == ImportModeSkip {
			_, err := a.Relational.GetRecord(ctx, r.ID)
			if err == nil {
				out.Skipped++
				continue
			}
			if !errors.Is(err, errors.ErrNotFound) {
				return out, err
			}
		}

		if err := a.Knowledge.PutRecord(ctx, r); err != nil {
			if errors.Is(err, errors.ErrCancelled) {
				return out, err
			}
			code := errors.ErrInternal
			if cerr, ok := errors.As(err); ok {
				code = cerr.Code
			}
			fail(lineNum, r.ID, code, err.Error())
			continue
		}
		out.Imported++
	}
	if err := scanner.Err(); err != nil {
		fail(lineNum, "", errors.ErrInternal, fmt.Sprintf("failed to read file: %v", err))
	}
	if !sawHeader && scanner.Err() == nil {
		return nil, errors.NewInvalidRequest("not a cairn export: the file is empty")
	}
	return out, nil
}
