package knowledge

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/google/uuid"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/graph"
	"github.com/hpungsan/cairn/internal/intel"
	"github.com/hpungsan/cairn/internal/record"
	"go.uber.org/zap"
)

// AddInput is the content and caller context for a new record.
type AddInput struct {
	Content     string
	Source      record.Source
	Hints       intel.Hints
	ParentID    string
	RelatedIDs  []string
	CreatedBy   string
	Sensitivity record.Sensitivity
	Language    string
}

// SearchInput selects records by semantic similarity.
type SearchInput struct {
	Query   string
	Limit   int
	Project string
}

// SearchHit is one ranked record.
type SearchHit struct {
	Record *record.Record `json:"record"`
	Score  float64        `json:"score"`
}

// UpdateInput patches a record's classification. Nil fields are left alone.
type UpdateInput struct {
	ID          string
	Project     *string
	Topic       *string
	Type        *record.Type
	Tags        []string
	Importance  *int
	Sensitivity *record.Sensitivity
}

// AddRecord runs content through embed, classify and summarize, then
// persists the record: relational row first, vector second. If the vector
// write fails the row is deleted again and PARTIAL_CONSISTENCY is returned.
// Nothing is persisted when a collaborator fails.
func (s *Store) AddRecord(ctx context.Context, in AddInput) (*record.Record, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	if in.Source == "" {
		in.Source = record.SourceManual
	}

	emb, err := s.intel.Embed(ctx, content)
	if err != nil {
		return nil, collaborator("embed", err)
	}
	cls, err := s.intel.Classify(ctx, content, in.Hints)
	if err != nil {
		return nil, collaborator("classify", err)
	}
	sum, err := s.intel.Summarize(ctx, content)
	if err != nil {
		return nil, collaborator("summarize", err)
	}

	now := record.Now()
	r := &record.Record{
		ID:                uuid.NewString(),
		Timestamp:         now,
		Source:            in.Source,
		Project:           cls.Project,
		Topic:             cls.Topic,
		Type:              cls.Type,
		Tags:              cls.Tags,
		UltraBrief:        sum.UltraBrief,
		ExecutiveSummary:  sum.ExecutiveSummary,
		DetailedSummary:   sum.DetailedSummary,
		RawContent:        content,
		Decisions:         sum.Decisions,
		ActionItems:       sum.ActionItems,
		OpenQuestions:     sum.OpenQuestions,
		KeyInsights:       sum.KeyInsights,
		PeopleMentioned:   sum.PeopleMentioned,
		ProjectsMentioned: sum.ProjectsMentioned,
		ParentID:          in.ParentID,
		RelatedIDs:        in.RelatedIDs,
		Language:          in.Language,
		Sentiment:         cls.Sentiment,
		Importance:        cls.Importance,
		Confidence:        cls.Confidence,
		Sensitivity:       in.Sensitivity,
		Version:           1,
		CreatedBy:         in.CreatedBy,
		UpdatedAt:         now,
		Embedding:         emb,
	}
	if !record.ValidType(r.Type) {
		r.Type = record.TypeNote
	}
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, invalidRecord(err)
	}

	if err := s.rel.SaveRecord(ctx, r); err != nil {
		return nil, err
	}

	if err := s.vec.Upsert(ctx, r.ID, emb, recordMetadata(r)); err != nil {
		return nil, s.compensate(ctx, r.ID, err)
	}

	s.metrics.RecordsAdded.Inc()
	s.bestEffort("link record", s.linkRecord(ctx, r), zap.String("record_id", r.ID))
	return r, nil
}

// compensate removes the relational row of a record whose vector write
// failed. The cleanup runs even if ctx was cancelled.
func (s *Store) compensate(ctx context.Context, id string, vecErr error) error {
	s.metrics.CompensatingDeletes.Inc()
	details := map[string]any{"record_id": id, "compensated": true}

	if err := s.rel.DeleteRecord(context.WithoutCancel(ctx), id); err != nil {
		details["compensated"] = false
		details["compensation_error"] = err.Error()
		s.logger.Error("compensating delete failed; record exists without a vector",
			zap.String("record_id", id), zap.NamedError("vector_error", vecErr), zap.Error(err))
		return errors.NewPartialConsistency("vector write failed and the record could not be removed", details, stderrors.Join(vecErr, err))
	}

	s.logger.Error("vector write failed; record removed", zap.String("record_id", id), zap.Error(vecErr))
	return errors.NewPartialConsistency("vector write failed; record was not saved", details, vecErr)
}

func recordMetadata(r *record.Record) map[string]any {
	md := map[string]any{
		"kind": KindRecord,
		"type": string(r.Type),
	}
	if r.Project != "" {
		md["project"] = r.Project
	}
	return md
}

func invalidRecord(err error) error {
	return errors.NewInvalidRequest("record is invalid: " + strings.Join(record.FieldErrors(err), "; "))
}

// recordEdges lists the edges derived from r. HAS_RECORD is the only one
// pointing into the record's node.
func recordEdges(r *record.Record) []graph.Edge {
	node := graph.RecordNode(r.ID)
	var edges []graph.Edge
	if r.Project != "" {
		edges = append(edges, graph.Edge{Source: graph.ProjectNode(r.Project), Target: node, Relation: graph.HasRecord})
	}
	if r.ParentID != "" {
		edges = append(edges, graph.Edge{Source: node, Target: graph.RecordNode(r.ParentID), Relation: graph.ChildOf})
	}
	for _, rel := range r.RelatedIDs {
		edges = append(edges, graph.Edge{Source: node, Target: graph.RecordNode(rel), Relation: graph.RelatedTo})
	}
	return edges
}

// linkRecord replaces the record's graph edges with the ones derived from r.
func (s *Store) linkRecord(ctx context.Context, r *record.Record) error {
	node := graph.RecordNode(r.ID)
	errs := []error{
		s.graph.ClearEdges(ctx, node, graph.HasRecord),
		s.graph.UpsertNode(ctx, node, graph.TypeRecord, map[string]any{
			"type":        string(r.Type),
			"ultra_brief": r.UltraBrief,
		}),
	}
	if r.Project != "" {
		errs = append(errs, s.graph.UpsertNode(ctx, graph.ProjectNode(r.Project), graph.TypeProject, map[string]any{"name": r.Project}))
	}
	for _, e := range recordEdges(r) {
		errs = append(errs, s.graph.UpsertEdge(ctx, e.Source, e.Target, e.Relation, nil))
	}
	return stderrors.Join(errs...)
}

// GetRecord returns the record with id, or NOT_FOUND.
func (s *Store) GetRecord(ctx context.Context, id string) (*record.Record, error) {
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	return s.rel.GetRecord(ctx, id)
}

// Search embeds the query and returns records ranked by similarity. Vector
// hits without a relational row are dropped.
func (s *Store) Search(ctx context.Context, in SearchInput) ([]SearchHit, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	limit := clampLimit(in.Limit)

	emb, err := s.intel.Embed(ctx, query)
	if err != nil {
		return nil, collaborator("embed", err)
	}

	filter := map[string]any{"kind": KindRecord}
	if in.Project != "" {
		filter["project"] = in.Project
	}
	hits, err := s.vec.Search(ctx, emb, limit, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := s.rel.GetRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		r, ok := rows[h.ID]
		if !ok {
			s.logger.Debug("dropping vector hit without a record", zap.String("record_id", h.ID))
			continue
		}
		out = append(out, SearchHit{Record: r, Score: h.Score})
	}
	return out, nil
}

// DeleteRecord removes the record row and its vector. It reports true only
// when both deletes succeed; no compensation is attempted when one fails.
// The graph node goes too, best-effort.
func (s *Store) DeleteRecord(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.NewInvalidRequest("id is required")
	}

	relErr := s.rel.DeleteRecord(ctx, id)
	vecErr := s.vec.Delete(ctx, id)
	s.bestEffort("delete record node", s.graph.DeleteNode(ctx, graph.RecordNode(id)), zap.String("record_id", id))

	if errors.Is(relErr, errors.ErrNotFound) && errors.Is(vecErr, errors.ErrNotFound) {
		return false, errors.NewNotFound("record", id)
	}
	if relErr != nil || vecErr != nil {
		return false, stderrors.Join(relErr, vecErr)
	}
	return true, nil
}

// PutRecord stores a complete record under its own id, replacing any row
// with that id, and embeds its raw content. A new record whose vector write
// fails is removed again; a replaced one is left for Reconcile.
func (s *Store) PutRecord(ctx context.Context, r *record.Record) error {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return invalidRecord(err)
	}
	emb, err := s.intel.Embed(ctx, r.RawContent)
	if err != nil {
		return collaborator("embed", err)
	}

	_, err = s.rel.GetRecord(ctx, r.ID)
	existed := err == nil
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}
	if err := s.rel.SaveRecord(ctx, r); err != nil {
		return err
	}
	if err := s.vec.Upsert(ctx, r.ID, emb, recordMetadata(r)); err != nil {
		if !existed {
			return s.compensate(ctx, r.ID, err)
		}
		return errors.NewPartialConsistency("record replaced but its vector was not; run reconcile",
			map[string]any{"record_id": r.ID}, err)
	}

	s.bestEffort("link record", s.linkRecord(ctx, r), zap.String("record_id", r.ID))
	return nil
}

// UpdateRecord applies a classification patch, bumps the version and
// re-saves the full row. The stored embedding is reused with refreshed
// metadata, or recomputed if the vector is missing.
func (s *Store) UpdateRecord(ctx context.Context, in UpdateInput) (*record.Record, error) {
	r, err := s.GetRecord(ctx, in.ID)
	if err != nil {
		return nil, err
	}

	if in.Project != nil {
		r.Project = *in.Project
	}
	if in.Topic != nil {
		r.Topic = *in.Topic
	}
	if in.Type != nil {
		r.Type = *in.Type
	}
	if in.Tags != nil {
		r.Tags = in.Tags
	}
	if in.Importance != nil {
		r.Importance = *in.Importance
	}
	if in.Sensitivity != nil {
		r.Sensitivity = *in.Sensitivity
	}
	r.Version++
	r.UpdatedAt = record.Now()

	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, invalidRecord(err)
	}
	if err := s.rel.SaveRecord(ctx, r); err != nil {
		return nil, err
	}

	emb, _, err := s.vec.Get(ctx, r.ID)
	if errors.Is(err, errors.ErrNotFound) {
		emb, err = s.intel.Embed(ctx, r.RawContent)
		if err != nil {
			return nil, collaborator("embed", err)
		}
	} else if err != nil {
		return nil, err
	}
	if err := s.vec.Upsert(ctx, r.ID, emb, recordMetadata(r)); err != nil {
		return nil, errors.NewPartialConsistency("record updated but its vector was not; run reconcile",
			map[string]any{"record_id": r.ID}, err)
	}

	s.bestEffort("link record", s.linkRecord(ctx, r), zap.String("record_id", r.ID))
	return r, nil
}
