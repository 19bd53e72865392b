package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/liliang-cn/semlake/pkg/core"
)

// ReplaceSubgraph atomically replaces every node whose type is in nodeTypes,
// together with every edge touching those nodes, by the given nodes and
// edges. Either the whole replacement is visible or none of it is.
func (g *GraphStore) ReplaceSubgraph(ctx context.Context, nodeTypes []string, nodes []*GraphNode, edges []*GraphEdge) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return core.PersistenceError(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if len(nodeTypes) > 0 {
		args := make([]interface{}, len(nodeTypes))
		for i, t := range nodeTypes {
			args[i] = t
		}
		in := placeholders(len(nodeTypes))

		edgeQuery := fmt.Sprintf(`DELETE FROM graph_edges WHERE
			from_node_id IN (SELECT id FROM graph_nodes WHERE node_type IN (%s)) OR
			to_node_id IN (SELECT id FROM graph_nodes WHERE node_type IN (%s))`, in, in)
		if _, err := tx.ExecContext(ctx, edgeQuery, append(append([]interface{}{}, args...), args...)...); err != nil {
			return core.PersistenceError(err, "delete subgraph edges")
		}
		nodeQuery := fmt.Sprintf(`DELETE FROM graph_nodes WHERE node_type IN (%s)`, in)
		if _, err := tx.ExecContext(ctx, nodeQuery, args...); err != nil {
			return core.PersistenceError(err, "delete subgraph nodes")
		}
	}

	if err := upsertNodesTx(ctx, tx, nodes); err != nil {
		return core.PersistenceError(err, "replace subgraph")
	}
	if err := upsertEdgesTx(ctx, tx, edges); err != nil {
		return core.PersistenceError(err, "replace subgraph")
	}

	if err := tx.Commit(); err != nil {
		return core.PersistenceError(err, "commit subgraph")
	}
	return nil
}

// upsertNodesTx writes nodes inside tx and stops at the first invalid one
func upsertNodesTx(ctx context.Context, tx *sql.Tx, nodes []*GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, upsertNodeSQL)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, node := range nodes {
		if node == nil || node.ID == "" {
			return fmt.Errorf("invalid node: missing ID")
		}
		props, err := encodeProperties(node.Properties)
		if err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, node.ID, node.Content, node.NodeType, props); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
		}
	}
	return nil
}

// upsertEdgesTx writes edges inside tx and stops at the first invalid one.
// A zero weight is stored as 1.
func upsertEdgesTx(ctx context.Context, tx *sql.Tx, edges []*GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, upsertEdgeSQL)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, edge := range edges {
		if edge == nil || edge.ID == "" {
			return fmt.Errorf("invalid edge: missing ID")
		}
		if edge.FromNodeID == "" || edge.ToNodeID == "" {
			return fmt.Errorf("invalid edge %s: missing node IDs", edge.ID)
		}
		weight := edge.Weight
		if weight == 0 {
			weight = 1.0
		}
		props, err := encodeProperties(edge.Properties)
		if err != nil {
			return fmt.Errorf("edge %s: %w", edge.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			edge.ID,
			edge.FromNodeID,
			edge.ToNodeID,
			edge.EdgeType,
			weight,
			props,
		); err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", edge.ID, err)
		}
	}
	return nil
}
