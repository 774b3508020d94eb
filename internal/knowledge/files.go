package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/graph"
	"github.com/hpungsan/cairn/internal/record"
	"go.uber.org/zap"
)

// IndexFileInput describes a file to index. Content overrides extraction.
type IndexFileInput struct {
	Path        string
	ProjectID   string
	Description string
	Tags        []string
	Content     *string
}

// SearchFilesInput selects indexed files.
type SearchFilesInput struct {
	Query     string
	ProjectID string
	Limit     int
}

// Match sources for FileHit.
const (
	MatchVector = "vector"
	MatchText   = "text"
)

// FileHit is one ranked file.
type FileHit struct {
	Path        string   `json:"path"`
	ProjectID   string   `json:"project_id,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Score       float64  `json:"score"`
	Match       string   `json:"match"`
}

// FileVectorID derives the stable vector id for a path.
func FileVectorID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "file-" + hex.EncodeToString(sum[:])[:32]
}

// IndexFile embeds a snippet of the file and writes the vector, the file
// entry and the graph edges, in that order. Re-indexing a path overwrites
// its entry. If another entry has the same content hash and its path is gone
// from disk, the file is treated as moved and the stale entry is removed.
func (s *Store) IndexFile(ctx context.Context, in IndexFileInput) (*record.FileEntry, error) {
	if strings.TrimSpace(in.Path) == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	path, err := filepath.Abs(in.Path)
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid path: " + err.Error())
	}

	info, statErr := os.Stat(path)
	if statErr != nil && (in.Content == nil || !stderrors.Is(statErr, fs.ErrNotExist)) {
		if stderrors.Is(statErr, fs.ErrNotExist) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewInternal(statErr)
	}
	if info != nil && info.IsDir() {
		return nil, errors.NewInvalidRequest("path is a directory: " + path)
	}

	var content string
	if in.Content != nil {
		content = *in.Content
	} else {
		text, ok, err := s.extractor.ExtractText(ctx, path)
		if err != nil {
			return nil, collaborator("extract", err)
		}
		if ok {
			content = text
		}
	}

	tags := record.NormalizeTags(in.Tags)
	description := record.CollapseSpace(in.Description)

	emb, err := s.intel.Embed(ctx, s.snippet(description, tags, content))
	if err != nil {
		return nil, collaborator("embed", err)
	}

	hash, lastModified, err := s.fingerprint(path, info, content)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	entry := &record.FileEntry{
		Path:         path,
		ProjectID:    in.ProjectID,
		Description:  description,
		Tags:         tags,
		ContentHash:  hash,
		LastModified: lastModified,
		VectorID:     FileVectorID(path),
		IndexedAt:    record.Now(),
	}
	if err := entry.Validate(); err != nil {
		return nil, errors.NewInvalidRequest("file entry is invalid: " + strings.Join(record.FieldErrors(err), "; "))
	}

	md := map[string]any{"kind": KindFile, "path": path}
	if in.ProjectID != "" {
		md["project_id"] = in.ProjectID
	}
	if err := s.vec.Upsert(ctx, entry.VectorID, emb, md); err != nil {
		return nil, err
	}
	if err := s.rel.UpsertFile(ctx, entry); err != nil {
		return nil, err
	}
	s.metrics.FilesIndexed.Inc()

	s.pruneMoved(ctx, entry)
	s.bestEffort("link file", s.linkFile(ctx, entry), zap.String("path", entry.Path))
	return entry, nil
}

// snippet is what gets embedded for a file: description, tags, and the
// first SnippetChars runes of content.
func (s *Store) snippet(description string, tags []string, content string) string {
	runes := []rune(content)
	if len(runes) > s.opts.SnippetChars {
		runes = runes[:s.opts.SnippetChars]
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{description, strings.Join(tags, ", "), string(runes)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// fingerprint returns the content hash and modification time. Files on disk
// are hashed by the guard's hasher; supplied content for a path that does
// not exist is hashed directly.
func (s *Store) fingerprint(path string, info fs.FileInfo, content string) (string, time.Time, error) {
	if info == nil {
		sum := sha256.Sum256([]byte(content))
		return hex.EncodeToString(sum[:]), record.Now(), nil
	}
	hash, err := s.hasher.HashFile(path)
	if err != nil {
		return "", time.Time{}, err
	}
	return hash, info.ModTime().UTC(), nil
}

// pruneMoved removes entries that share entry's content hash but whose
// path no longer exists.
func (s *Store) pruneMoved(ctx context.Context, entry *record.FileEntry) {
	same, err := s.rel.GetFilesByHash(ctx, entry.ContentHash)
	if err != nil {
		s.bestEffort("move detection", err, zap.String("path", entry.Path))
		return
	}
	for _, other := range same {
		if other.Path == entry.Path || exists(other.Path) {
			continue
		}
		s.logger.Info("file moved; removing stale entry", zap.String("from", other.Path), zap.String("to", entry.Path))
		s.bestEffort("remove moved entry", s.removeFile(ctx, other), zap.String("path", other.Path))
	}
}

// removeFile deletes a file entry with its vector and graph node.
// Missing pieces are not errors.
func (s *Store) removeFile(ctx context.Context, f *record.FileEntry) error {
	var errs []error
	if err := s.rel.DeleteFile(ctx, f.Path); err != nil && !errors.Is(err, errors.ErrNotFound) {
		errs = append(errs, err)
	}
	if err := s.vec.Delete(ctx, f.VectorID); err != nil && !errors.Is(err, errors.ErrNotFound) {
		errs = append(errs, err)
	}
	if err := s.graph.DeleteNode(ctx, graph.FileNode(f.Path)); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// fileEdges lists the edges derived from f. HAS_FILE is the only one
// pointing into the file's node.
func fileEdges(f *record.FileEntry) []graph.Edge {
	node := graph.FileNode(f.Path)
	var edges []graph.Edge
	if f.ProjectID != "" {
		edges = append(edges, graph.Edge{Source: graph.ProjectNode(f.ProjectID), Target: node, Relation: graph.HasFile})
	}
	for _, tag := range f.Tags {
		edges = append(edges, graph.Edge{Source: node, Target: graph.ConceptNode(tag), Relation: graph.RefersTo})
	}
	return edges
}

// linkFile replaces the file's graph edges with the ones derived from f.
func (s *Store) linkFile(ctx context.Context, f *record.FileEntry) error {
	node := graph.FileNode(f.Path)
	errs := []error{
		s.graph.ClearEdges(ctx, node, graph.HasFile),
		s.graph.UpsertNode(ctx, node, graph.TypeFile, map[string]any{
			"path":        f.Path,
			"description": f.Description,
		}),
	}
	if f.ProjectID != "" {
		errs = append(errs, s.graph.UpsertNode(ctx, graph.ProjectNode(f.ProjectID), graph.TypeProject, map[string]any{"name": f.ProjectID}))
	}
	for _, tag := range f.Tags {
		errs = append(errs, s.graph.UpsertNode(ctx, graph.ConceptNode(tag), graph.TypeConcept, map[string]any{"name": tag}))
	}
	for _, e := range fileEdges(f) {
		errs = append(errs, s.graph.UpsertEdge(ctx, e.Source, e.Target, e.Relation, nil))
	}
	return stderrors.Join(errs...)
}

// SearchFiles ranks indexed files by similarity. When the vector search
// returns fewer than Limit files, keyword matches over description, tags and
// path fill the rest at the fallback score. Results are unique by path.
func (s *Store) SearchFiles(ctx context.Context, in SearchFilesInput) ([]FileHit, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	limit := clampLimit(in.Limit)

	emb, err := s.intel.Embed(ctx, query)
	if err != nil {
		return nil, collaborator("embed", err)
	}
	filter := map[string]any{"kind": KindFile}
	if in.ProjectID != "" {
		filter["project_id"] = in.ProjectID
	}
	hits, err := s.vec.Search(ctx, emb, limit, filter)
	if err != nil {
		return nil, err
	}

	out := make([]FileHit, 0, limit)
	seen := make(map[string]bool, limit)
	for _, h := range hits {
		path, _ := h.Metadata["path"].(string)
		if path == "" || seen[path] {
			continue
		}
		f, err := s.rel.GetFile(ctx, path)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		seen[path] = true
		out = append(out, fileHit(f, h.Score, MatchVector))
	}

	if len(out) < limit {
		text, err := s.rel.SearchFilesText(ctx, query, in.ProjectID, limit)
		if err != nil {
			return nil, err
		}
		for _, f := range text {
			if len(out) >= limit {
				break
			}
			if seen[f.Path] {
				continue
			}
			seen[f.Path] = true
			out = append(out, fileHit(f, s.opts.FallbackScore, MatchText))
		}
	}
	return out, nil
}

func fileHit(f *record.FileEntry, score float64, match string) FileHit {
	return FileHit{
		Path:        f.Path,
		ProjectID:   f.ProjectID,
		Description: f.Description,
		Tags:        f.Tags,
		Score:       score,
		Match:       match,
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
