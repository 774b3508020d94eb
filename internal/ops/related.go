package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/graph"
)

// RelatedInput contains parameters for the Related operation.
type RelatedInput struct {
	NodeID   string // graph node id, e.g. "project:atlas"
	RecordID string // shorthand for NodeID "record:<id>"
	Relation string // optional filter
}

// RelatedOutput contains the result of the Related operation.
type RelatedOutput struct {
	NodeID string          `json:"node_id"`
	Items  []graph.Related `json:"items"`
}

// Related lists the one-hop outbound neighbours of a graph node.
func Related(ctx context.Context, a *app.App, input RelatedInput) (*RelatedOutput, error) {
	nodeID := strings.TrimSpace(input.NodeID)
	if nodeID == "" && strings.TrimSpace(input.RecordID) != "" {
		nodeID = graph.RecordNode(strings.TrimSpace(input.RecordID))
	}

	items, err := a.Knowledge.Related(ctx, nodeID, strings.ToUpper(strings.TrimSpace(input.Relation)))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []graph.Related{}
	}
	return &RelatedOutput{NodeID: nodeID, Items: items}, nil
}
