// Package graph is a one-hop relationship index stored in the shared cairn.db.
// It answers "what does X point at" and nothing more: traversal is
// outbound only and never goes past the first hop.
package graph

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
)

const storeName = "graph"

// Relations written by the knowledge store.
const (
	HasFile   = "HAS_FILE"
	RefersTo  = "REFERS_TO"
	HasRecord = "HAS_RECORD"
	ChildOf   = "CHILD_OF"
	RelatedTo = "RELATED_TO"
)

// Node types.
const (
	TypeProject = "project"
	TypeFile    = "file"
	TypeConcept = "concept"
	TypeRecord  = "record"
)

// ProjectNode returns the node id for a project name.
func ProjectNode(name string) string { return TypeProject + ":" + name }

// FileNode returns the node id for a file path.
func FileNode(path string) string { return TypeFile + ":" + path }

// ConceptNode returns the node id for a tag. Tags are case-insensitive.
func ConceptNode(tag string) string { return TypeConcept + ":" + strings.ToLower(strings.TrimSpace(tag)) }

// RecordNode returns the node id for a record id.
func RecordNode(id string) string { return TypeRecord + ":" + id }

// Node is a typed vertex. Properties are free-form JSON.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Edge is a directed, named relation keyed by (Source, Target, Relation).
type Edge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Relation   string         `json:"relation"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Related is one outbound neighbour: the edge and, when it has been
// upserted, the target node.
type Related struct {
	Edge Edge  `json:"edge"`
	Node *Node `json:"node,omitempty"`
}

// Store persists nodes and edges. Both are last-write-wins.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New returns a Store over the shared cairn.db connection.
func New(conn *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: conn, logger: logging.OrNop(logger).Named(storeName)}
}

func (s *Store) fail(op string, err error, values ...goerr.Option) error {
	return errors.Storage(s.logger, storeName, op, err, values...)
}

// UpsertNode creates or replaces the node.
func (s *Store) UpsertNode(ctx context.Context, id, typ string, props map[string]any) error {
	if id == "" || typ == "" {
		return errors.NewInvalidRequest("node id and type are required")
	}
	propsJSON, err := db.EncodeJSON(props)
	if err != nil {
		return s.fail("upsert node", err, goerr.V("node_id", id))
	}

	err = db.WithBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO graph_nodes (id, type, properties_json, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				properties_json = excluded.properties_json,
				updated_at = excluded.updated_at
		`, id, typ, propsJSON, time.Now().UnixNano())
		return err
	})
	if err != nil {
		return s.fail("upsert node", err, goerr.V("node_id", id))
	}
	return nil
}

// UpsertEdge creates or replaces the edge keyed by (source, target, relation).
// There is never more than one row per key; properties are overwritten.
func (s *Store) UpsertEdge(ctx context.Context, source, target, relation string, props map[string]any) error {
	if source == "" || target == "" || relation == "" {
		return errors.NewInvalidRequest("edge source, target and relation are required")
	}
	propsJSON, err := db.EncodeJSON(props)
	if err != nil {
		return s.fail("upsert edge", err, goerr.V("source", source), goerr.V("target", target))
	}

	err = db.WithBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO graph_edges (source, target, relation, properties_json, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(source, target, relation) DO UPDATE SET
				properties_json = excluded.properties_json,
				updated_at = excluded.updated_at
		`, source, target, relation, propsJSON, time.Now().UnixNano())
		return err
	})
	if err != nil {
		return s.fail("upsert edge", err,
			goerr.V("source", source), goerr.V("target", target), goerr.V("relation", relation))
	}
	return nil
}

// GetNode returns the node with id, or NOT_FOUND.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	var (
		n       Node
		props   sql.NullString
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, properties_json, updated_at FROM graph_nodes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Type, &props, &updated)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound("node", id)
		}
		return nil, s.fail("get node", err, goerr.V("node_id", id))
	}
	if err := db.DecodeJSON(props, &n.Properties); err != nil {
		return nil, s.fail("get node", err, goerr.V("node_id", id))
	}
	n.UpdatedAt = time.Unix(0, updated).UTC()
	return &n, nil
}

// GetRelated returns nodeID's outbound neighbours, optionally restricted to
// one relation. Inbound edges are never followed.
func (s *Store) GetRelated(ctx context.Context, nodeID, relation string) ([]Related, error) {
	query := `
		SELECT e.source, e.target, e.relation, e.properties_json, e.updated_at,
		       n.id, n.type, n.properties_json, n.updated_at
		FROM graph_edges e
		LEFT JOIN graph_nodes n ON n.id = e.target
		WHERE e.source = ?`
	args := []any{nodeID}
	if relation != "" {
		query += ` AND e.relation = ?`
		args = append(args, relation)
	}
	query += ` ORDER BY e.relation, e.target`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("get related", err, goerr.V("node_id", nodeID))
	}
	defer rows.Close()

	var out []Related
	for rows.Next() {
		var r Related
		var edgeProps, nodeProps, tgtID, tgtType sql.NullString
		var edgeUpdated int64
		var nodeUpdated sql.NullInt64
		if err := rows.Scan(&r.Edge.Source, &r.Edge.Target, &r.Edge.Relation, &edgeProps, &edgeUpdated,
			&tgtID, &tgtType, &nodeProps, &nodeUpdated); err != nil {
			return nil, s.fail("get related", err)
		}
		if err := db.DecodeJSON(edgeProps, &r.Edge.Properties); err != nil {
			s.logger.Warn("edge properties unreadable", zap.String("source", r.Edge.Source), zap.Error(err))
		}
		r.Edge.UpdatedAt = time.Unix(0, edgeUpdated).UTC()

		if tgtID.Valid {
			n := &Node{ID: tgtID.String, Type: tgtType.String, UpdatedAt: time.Unix(0, nodeUpdated.Int64).UTC()}
			if err := db.DecodeJSON(nodeProps, &n.Properties); err != nil {
				s.logger.Warn("node properties unreadable", zap.String("node_id", n.ID), zap.Error(err))
			}
			r.Node = n
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("get related", err)
	}
	return out, nil
}

// Edges returns every outbound edge of source.
func (s *Store) Edges(ctx context.Context, source string) ([]Edge, error) {
	related, err := s.GetRelated(ctx, source, "")
	if err != nil {
		return nil, err
	}
	edges := make([]Edge, len(related))
	for i, r := range related {
		edges[i] = r.Edge
	}
	return edges, nil
}

// DeleteNode removes the node and every edge that starts or ends at it.
// Deleting a node that does not exist is not an error.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	err := db.WithBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE source = ? OR target = ?`, id, id); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return s.fail("delete node", err, goerr.V("node_id", id))
	}
	return nil
}

// ClearEdges removes every outbound edge of id and every inbound edge whose
// relation is one of inbound. The node itself is kept.
func (s *Store) ClearEdges(ctx context.Context, id string, inbound ...string) error {
	query := `DELETE FROM graph_edges WHERE source = ?`
	args := []any{id}
	if len(inbound) > 0 {
		query += ` OR (target = ? AND relation IN (` + placeholders(len(inbound)) + `))`
		args = append(args, id)
		for _, rel := range inbound {
			args = append(args, rel)
		}
	}

	err := db.WithBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return s.fail("clear edges", err, goerr.V("node_id", id))
	}
	return nil
}

// Sources returns the nodes with a relation edge into target, sorted.
func (s *Store) Sources(ctx context.Context, target, relation string) ([]string, error) {
	return s.ids(ctx, "sources",
		`SELECT source FROM graph_edges WHERE target = ? AND relation = ? ORDER BY source`, target, relation)
}

// NodeIDs returns the id of every node of typ, sorted.
func (s *Store) NodeIDs(ctx context.Context, typ string) ([]string, error) {
	return s.ids(ctx, "node ids", `SELECT id FROM graph_nodes WHERE type = ? ORDER BY id`, typ)
}

func (s *Store) ids(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Counts returns the number of nodes and edges.
func (s *Store) Counts(ctx context.Context) (nodes, edges int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM graph_nodes), (SELECT COUNT(*) FROM graph_edges)`,
	).Scan(&nodes, &edges)
	if err != nil {
		return 0, 0, s.fail("counts", err)
	}
	return nodes, edges, nil
}
