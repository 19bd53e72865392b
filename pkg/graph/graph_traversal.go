package graph

import (
	"context"

	"github.com/cockroachdb/errors"
)

// TraversalOptions defines options for graph traversal
type TraversalOptions struct {
	MaxDepth  int      `json:"max_depth"`
	EdgeTypes []string `json:"edge_types,omitempty"`
	NodeTypes []string `json:"node_types,omitempty"`
	Direction string   `json:"direction"` // "out", "in", "both"
	Limit     int      `json:"limit"`
}

// Neighbors performs a breadth-first search to find neighboring nodes
func (g *GraphStore) Neighbors(ctx context.Context, nodeID string, opts TraversalOptions) ([]*GraphNode, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 1
	}
	if opts.Direction == "" {
		opts.Direction = DirectionBoth
	}

	type item struct {
		nodeID string
		depth  int
	}
	visited := map[string]bool{nodeID: true}
	queue := []item{{nodeID, 0}}

	var neighbors []*GraphNode
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= opts.MaxDepth {
			continue
		}

		edges, err := g.GetEdges(ctx, current.nodeID, opts.Direction)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get edges")
		}

		for _, edge := range edges {
			if len(opts.EdgeTypes) > 0 && !contains(opts.EdgeTypes, edge.EdgeType) {
				continue
			}

			neighborID := edge.ToNodeID
			if edge.ToNodeID == current.nodeID {
				neighborID = edge.FromNodeID
			}
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			node, err := g.GetNode(ctx, neighborID)
			if err != nil {
				continue // Skip if node not found
			}
			// filtered nodes are still walked through
			if current.depth+1 < opts.MaxDepth {
				queue = append(queue, item{neighborID, current.depth + 1})
			}
			if len(opts.NodeTypes) > 0 && !contains(opts.NodeTypes, node.NodeType) {
				continue
			}

			neighbors = append(neighbors, node)
			if opts.Limit > 0 && len(neighbors) >= opts.Limit {
				return neighbors, nil
			}
		}
	}

	return neighbors, nil
}

func contains(slice []string, value string) bool {
	for _, s := range slice {
		if s == value {
			return true
		}
	}
	return false
}
