package graph

import (
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
)

// exportFormat tags the JSON document written by ExportJSON
const exportFormat = "semlake-graph-v1"

type graphDocument struct {
	Nodes    []*GraphNode   `json:"nodes"`
	Edges    []*GraphEdge   `json:"edges"`
	Metadata exportMetadata `json:"metadata"`
}

type exportMetadata struct {
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
	Format    string `json:"format"`
}

// ExportJSON writes every node and edge as one JSON document
func (g *GraphStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	nodes, err := g.GetAllNodes(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to get nodes")
	}

	allEdges := make([]*GraphEdge, 0)
	for _, node := range nodes {
		edges, err := g.GetEdges(ctx, node.ID, DirectionOut)
		if err != nil {
			return errors.Wrapf(err, "failed to get edges of %s", node.ID)
		}
		allEdges = append(allEdges, edges...)
	}

	doc := graphDocument{
		Nodes: nodes,
		Edges: allEdges,
		Metadata: exportMetadata{
			NodeCount: len(nodes),
			EdgeCount: len(allEdges),
			Format:    exportFormat,
		},
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// ImportJSON replaces the whole content of the store with a document
// written by ExportJSON. The replacement happens in one transaction.
func (g *GraphStore) ImportJSON(ctx context.Context, reader io.Reader) error {
	var doc graphDocument
	if err := json.NewDecoder(reader).Decode(&doc); err != nil {
		return errors.Wrap(err, "failed to decode JSON")
	}
	if doc.Metadata.Format != "" && doc.Metadata.Format != exportFormat {
		return errors.Newf("unsupported graph format %q", doc.Metadata.Format)
	}

	counts, err := g.CountNodes(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list node types")
	}
	seen := make(map[string]bool, len(counts))
	var nodeTypes []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			nodeTypes = append(nodeTypes, t)
		}
	}
	for t := range counts {
		add(t)
	}
	for _, n := range doc.Nodes {
		if n != nil {
			add(n.NodeType)
		}
	}
	sort.Strings(nodeTypes)

	if err := g.ReplaceSubgraph(ctx, nodeTypes, doc.Nodes, doc.Edges); err != nil {
		return errors.Wrap(err, "failed to import graph")
	}
	return nil
}
