package kg

import (
	"context"
	"strings"

	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/graph"
)

// Node and edge types of the reference model in the graph store
const (
	NodeDimension = "kg_dimension"
	NodeLevel     = "kg_level"
	NodeMember    = "kg_member"

	EdgeInDimension = "inDimension"
	EdgeInLevel     = "inLevel"
	EdgeRollup      = "rollup"
	EdgeMRollup     = "mRollup"
)

var nodeTypes = []string{NodeDimension, NodeLevel, NodeMember}

func nodeID(nodeType, id string) string {
	return nodeType + ":" + id
}

// Save replaces the reference model held in g with m
func Save(ctx context.Context, g *graph.GraphStore, m *Model) error {
	var nodes []*graph.GraphNode
	var edges []*graph.GraphEdge

	edge := func(edgeType, fromType, from, toType, to string) {
		edges = append(edges, &graph.GraphEdge{
			ID:         edgeType + ":" + nodeID(fromType, from),
			FromNodeID: nodeID(fromType, from),
			ToNodeID:   nodeID(toType, to),
			EdgeType:   edgeType,
		})
	}

	for _, d := range m.Dimensions() {
		nodes = append(nodes, &graph.GraphNode{ID: nodeID(NodeDimension, d.ID), Content: d.ID, NodeType: NodeDimension})
	}
	levels, err := m.Levels("")
	if err != nil {
		return core.WrapError("save reference model", err)
	}
	for _, l := range levels {
		nodes = append(nodes, &graph.GraphNode{ID: nodeID(NodeLevel, l.ID), Content: l.ID, NodeType: NodeLevel})
		edge(EdgeInDimension, NodeLevel, l.ID, NodeDimension, l.Dimension)
		if l.Rollup != "" {
			edge(EdgeRollup, NodeLevel, l.ID, NodeLevel, l.Rollup)
		}
	}
	for _, l := range levels {
		members, err := m.Members(l.ID)
		if err != nil {
			return core.WrapError("save reference model", err)
		}
		for _, mem := range members {
			nodes = append(nodes, &graph.GraphNode{
				ID:         nodeID(NodeMember, mem.ID),
				Content:    mem.ID,
				NodeType:   NodeMember,
				Properties: map[string]interface{}{"name": mem.Name},
			})
			edge(EdgeInLevel, NodeMember, mem.ID, NodeLevel, mem.Level)
			if mem.Rollup != "" {
				edge(EdgeMRollup, NodeMember, mem.ID, NodeMember, mem.Rollup)
			}
		}
	}

	if err := g.ReplaceSubgraph(ctx, nodeTypes, nodes, edges); err != nil {
		return core.WrapError("save reference model", err)
	}
	return nil
}

// Load reads the reference model held in g. An empty store yields an
// empty model.
func Load(ctx context.Context, g *graph.GraphStore) (*Model, error) {
	nodes, err := g.GetAllNodes(ctx, &graph.GraphFilter{NodeTypes: nodeTypes})
	if err != nil {
		return nil, core.WrapError("load reference model", err)
	}

	targets := make(map[string]map[string]string) // edge type -> from node -> to content
	for _, edgeType := range []string{EdgeInDimension, EdgeInLevel, EdgeRollup, EdgeMRollup} {
		edges, err := g.GetEdgesByType(ctx, edgeType)
		if err != nil {
			return nil, core.WrapError("load reference model", err)
		}
		targets[edgeType] = make(map[string]string, len(edges))
		for _, e := range edges {
			targets[edgeType][e.FromNodeID] = contentOf(e.ToNodeID)
		}
	}

	b := NewBuilder()
	for _, n := range nodes {
		switch n.NodeType {
		case NodeDimension:
			b.AddDimension(n.Content)
		case NodeLevel:
			b.AddLevel(n.Content, targets[EdgeInDimension][n.ID], targets[EdgeRollup][n.ID])
		case NodeMember:
			b.AddMember(n.Content, targets[EdgeInLevel][n.ID], targets[EdgeMRollup][n.ID])
		}
	}
	return b.Build()
}

// contentOf strips the node type prefix written by nodeID
func contentOf(id string) string {
	for _, t := range nodeTypes {
		if rest, ok := strings.CutPrefix(id, t+":"); ok {
			return rest
		}
	}
	return id
}
