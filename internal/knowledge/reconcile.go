package knowledge

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/graph"
	"github.com/hpungsan/cairn/internal/record"
	"github.com/hpungsan/cairn/internal/relational"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// ReconcileReport counts the repairs one Reconcile pass made.
type ReconcileReport struct {
	RecordsReembedded    int      `json:"records_reembedded"`
	OrphanVectorsDeleted int      `json:"orphan_vectors_deleted"`
	FilesPruned          int      `json:"files_pruned"`
	GraphRelinked        int      `json:"graph_relinked"`
	GraphNodesPruned     int      `json:"graph_nodes_pruned"`
	Errors               []string `json:"errors,omitempty"`
}

// Repair kinds, used as the metrics label.
const (
	repairReembed      = "reembed"
	repairOrphanVector = "orphan_vector"
	repairPrunedFile   = "pruned_file"
	repairGraphRelink  = "graph_relink"
	repairGraphNode    = "graph_node"
)

// reconcilePage is how many records one ListRecords call returns during
// the graph pass.
const reconcilePage = 200

// Reconcile brings the derived stores back in line with the relational
// store. Records without a vector are re-embedded, vectors without a record
// or file entry are deleted, and file entries whose path is gone are pruned.
// In the graph, record and file nodes without a row are deleted and rows
// whose edges differ from the derived set are relinked. Per-item failures are reported, not returned; only failures to
// enumerate a store abort the pass.
func (s *Store) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	var mu sync.Mutex
	itemErr := func(format string, args ...any) {
		mu.Lock()
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	recordIDs, err := s.rel.RecordIDs(ctx)
	if err != nil {
		return nil, err
	}
	vectorRecordIDs, err := s.vec.IDs(ctx, KindRecord)
	if err != nil {
		return nil, err
	}
	haveVector := toSet(vectorRecordIDs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ReconcileConcurrency)
	for _, id := range recordIDs {
		if haveVector[id] {
			continue
		}
		g.Go(func() error {
			if err := s.reembed(gctx, id); err != nil {
				if errors.Is(err, errors.ErrCancelled) {
					return err
				}
				itemErr("reembed %s: %v", id, err)
				return nil
			}
			mu.Lock()
			report.RecordsReembedded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	haveRecord := toSet(recordIDs)
	for _, id := range vectorRecordIDs {
		if haveRecord[id] {
			continue
		}
		if err := s.vec.Delete(ctx, id); err != nil && !errors.Is(err, errors.ErrNotFound) {
			itemErr("delete orphan vector %s: %v", id, err)
			continue
		}
		report.OrphanVectorsDeleted++
	}

	files, err := s.rel.ListFiles(ctx, "")
	if err != nil {
		return nil, err
	}
	fileVectors := make(map[string]bool, len(files))
	live := make([]*record.FileEntry, 0, len(files))
	for _, f := range files {
		if exists(f.Path) {
			fileVectors[f.VectorID] = true
			live = append(live, f)
			continue
		}
		if err := s.removeFile(ctx, f); err != nil {
			itemErr("prune file %s: %v", f.Path, err)
			continue
		}
		report.FilesPruned++
	}

	vectorFileIDs, err := s.vec.IDs(ctx, KindFile)
	if err != nil {
		return nil, err
	}
	for _, id := range vectorFileIDs {
		if fileVectors[id] {
			continue
		}
		if err := s.vec.Delete(ctx, id); err != nil && !errors.Is(err, errors.ErrNotFound) {
			itemErr("delete orphan vector %s: %v", id, err)
			continue
		}
		report.OrphanVectorsDeleted++
	}

	if err := s.reconcileGraph(ctx, report, live, itemErr); err != nil {
		return nil, err
	}

	s.metrics.ReconcileRepairs.WithLabelValues(repairReembed).Add(float64(report.RecordsReembedded))
	s.metrics.ReconcileRepairs.WithLabelValues(repairOrphanVector).Add(float64(report.OrphanVectorsDeleted))
	s.metrics.ReconcileRepairs.WithLabelValues(repairPrunedFile).Add(float64(report.FilesPruned))
	s.metrics.ReconcileRepairs.WithLabelValues(repairGraphRelink).Add(float64(report.GraphRelinked))
	s.metrics.ReconcileRepairs.WithLabelValues(repairGraphNode).Add(float64(report.GraphNodesPruned))
	s.logger.Info("reconcile finished",
		zap.Int("reembedded", report.RecordsReembedded),
		zap.Int("orphan_vectors", report.OrphanVectorsDeleted),
		zap.Int("pruned_files", report.FilesPruned),
		zap.Int("graph_relinked", report.GraphRelinked),
		zap.Int("graph_nodes_pruned", report.GraphNodesPruned),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// reconcileGraph deletes record and file nodes that have no row, then
// relinks every row whose edges drifted. Pruning runs first so that deleting
// a stale node cannot strip edges a relink just wrote.
func (s *Store) reconcileGraph(ctx context.Context, report *ReconcileReport, files []*record.FileEntry,
	itemErr func(string, ...any)) error {
	var records []*record.Record
	for offset := 0; ; offset += reconcilePage {
		page, err := s.rel.ListRecords(ctx, relational.ListFilter{Limit: reconcilePage, Offset: offset})
		if err != nil {
			return err
		}
		records = append(records, page...)
		if len(page) < reconcilePage {
			break
		}
	}

	liveNodes := make(map[string]bool, len(records)+len(files))
	for _, r := range records {
		liveNodes[graph.RecordNode(r.ID)] = true
	}
	for _, f := range files {
		liveNodes[graph.FileNode(f.Path)] = true
	}
	for _, typ := range []string{graph.TypeRecord, graph.TypeFile} {
		ids, err := s.graph.NodeIDs(ctx, typ)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if liveNodes[id] {
				continue
			}
			if err := s.graph.DeleteNode(ctx, id); err != nil {
				itemErr("delete graph node %s: %v", id, err)
				continue
			}
			report.GraphNodesPruned++
		}
	}

	relink := func(node, inbound string, want []graph.Edge, link func() error) {
		drifted, err := s.graphDrifted(ctx, node, inbound, want)
		if err == nil && drifted {
			err = link()
		}
		if err != nil {
			itemErr("relink %s: %v", node, err)
			return
		}
		if drifted {
			report.GraphRelinked++
		}
	}
	for _, r := range records {
		relink(graph.RecordNode(r.ID), graph.HasRecord, recordEdges(r), func() error { return s.linkRecord(ctx, r) })
	}
	for _, f := range files {
		relink(graph.FileNode(f.Path), graph.HasFile, fileEdges(f), func() error { return s.linkFile(ctx, f) })
	}
	return nil
}

type edgeKey struct{ source, target, relation string }

// graphDrifted reports whether node is missing or its edges differ from
// want. inbound is the one relation whose edges into node are derived from
// the node's own row.
func (s *Store) graphDrifted(ctx context.Context, node, inbound string, want []graph.Edge) (bool, error) {
	if _, err := s.graph.GetNode(ctx, node); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	out, err := s.graph.Edges(ctx, node)
	if err != nil {
		return false, err
	}
	sources, err := s.graph.Sources(ctx, node, inbound)
	if err != nil {
		return false, err
	}

	have := make(map[edgeKey]bool, len(out)+len(sources))
	for _, e := range out {
		have[edgeKey{e.Source, e.Target, e.Relation}] = true
	}
	for _, src := range sources {
		have[edgeKey{src, node, inbound}] = true
	}
	expected := make(map[edgeKey]bool, len(want))
	for _, e := range want {
		expected[edgeKey{e.Source, e.Target, e.Relation}] = true
	}
	return !maps.Equal(have, expected), nil
}

func (s *Store) reembed(ctx context.Context, id string) error {
	r, err := s.rel.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	emb, err := s.intel.Embed(ctx, r.RawContent)
	if err != nil {
		return collaborator("embed", err)
	}
	return s.vec.Upsert(ctx, r.ID, emb, recordMetadata(r))
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
