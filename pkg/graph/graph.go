package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/liliang-cn/semlake/pkg/core"
)

// Edge directions accepted by GetEdges and Neighbors
const (
	DirectionOut  = "out"
	DirectionIn   = "in"
	DirectionBoth = "both"
)

// GraphNode represents a typed node with a property bag
type GraphNode struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content,omitempty"`
	NodeType   string                 `json:"node_type,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// GraphEdge represents a directed edge between two nodes
type GraphEdge struct {
	ID         string                 `json:"id"`
	FromNodeID string                 `json:"from_node_id"`
	ToNodeID   string                 `json:"to_node_id"`
	EdgeType   string                 `json:"edge_type,omitempty"`
	Weight     float64                `json:"weight"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// GraphFilter defines filtering options for node listings
type GraphFilter struct {
	NodeTypes []string `json:"node_types,omitempty"`
}

// StringProp returns a string property, or "" when absent
func (n *GraphNode) StringProp(key string) string {
	if v, ok := n.Properties[key].(string); ok {
		return v
	}
	return ""
}

// IntProp returns a numeric property as int. JSON numbers decode as float64.
func (n *GraphNode) IntProp(key string) (int, bool) {
	switch v := n.Properties[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// InitGraphSchema creates the graph tables if they don't exist
func (g *GraphStore) InitGraphSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS graph_nodes (
		id TEXT PRIMARY KEY,
		content TEXT,
		node_type TEXT,
		properties TEXT, -- JSON
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS graph_edges (
		id TEXT PRIMARY KEY,
		from_node_id TEXT NOT NULL,
		to_node_id TEXT NOT NULL,
		edge_type TEXT,
		weight REAL DEFAULT 1.0,
		properties TEXT, -- JSON
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (from_node_id) REFERENCES graph_nodes(id) ON DELETE CASCADE,
		FOREIGN KEY (to_node_id) REFERENCES graph_nodes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_edges_from ON graph_edges(from_node_id);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON graph_edges(to_node_id);
	CREATE INDEX IF NOT EXISTS idx_edges_type ON graph_edges(edge_type);
	CREATE INDEX IF NOT EXISTS idx_nodes_type ON graph_nodes(node_type);
	CREATE INDEX IF NOT EXISTS idx_edges_composite ON graph_edges(from_node_id, edge_type);
	`

	if _, err := g.db.ExecContext(ctx, schema); err != nil {
		return core.PersistenceError(err, "create graph schema")
	}
	return nil
}

func encodeProperties(props map[string]interface{}) (string, error) {
	if props == nil {
		return "", nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", errors.Wrap(err, "encode properties")
	}
	return string(data), nil
}

func decodeProperties(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var props map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &props); err != nil {
		return nil, errors.Wrap(err, "decode properties")
	}
	return props, nil
}

const upsertNodeSQL = `
	INSERT INTO graph_nodes (id, content, node_type, properties, updated_at)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content,
		node_type = excluded.node_type,
		properties = excluded.properties,
		updated_at = CURRENT_TIMESTAMP
	`

const upsertEdgeSQL = `
	INSERT INTO graph_edges (id, from_node_id, to_node_id, edge_type, weight, properties)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		from_node_id = excluded.from_node_id,
		to_node_id = excluded.to_node_id,
		edge_type = excluded.edge_type,
		weight = excluded.weight,
		properties = excluded.properties
	`

// GetNode retrieves a node by ID
func (g *GraphStore) GetNode(ctx context.Context, nodeID string) (*GraphNode, error) {
	query := `
	SELECT id, content, node_type, properties, created_at, updated_at
	FROM graph_nodes
	WHERE id = ?
	`

	node, err := scanNode(g.db.QueryRowContext(ctx, query, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("node not found: %s", nodeID)
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*GraphNode, error) {
	var node GraphNode
	var content, nodeType, propertiesJSON sql.NullString

	if err := row.Scan(
		&node.ID,
		&content,
		&nodeType,
		&propertiesJSON,
		&node.CreatedAt,
		&node.UpdatedAt,
	); err != nil {
		return nil, err
	}
	node.Content = content.String
	node.NodeType = nodeType.String

	props, err := decodeProperties(propertiesJSON)
	if err != nil {
		return nil, err
	}
	node.Properties = props
	return &node, nil
}

func scanEdge(row rowScanner) (*GraphEdge, error) {
	var edge GraphEdge
	var edgeType, propertiesJSON sql.NullString

	if err := row.Scan(
		&edge.ID,
		&edge.FromNodeID,
		&edge.ToNodeID,
		&edgeType,
		&edge.Weight,
		&propertiesJSON,
		&edge.CreatedAt,
	); err != nil {
		return nil, err
	}
	edge.EdgeType = edgeType.String

	props, err := decodeProperties(propertiesJSON)
	if err != nil {
		return nil, err
	}
	edge.Properties = props
	return &edge, nil
}

// GetEdges retrieves edges for a node in the given direction
func (g *GraphStore) GetEdges(ctx context.Context, nodeID string, direction string) ([]*GraphEdge, error) {
	const columns = `SELECT id, from_node_id, to_node_id, edge_type, weight, properties, created_at FROM graph_edges`

	var rows *sql.Rows
	var err error
	switch direction {
	case DirectionOut:
		rows, err = g.db.QueryContext(ctx, columns+` WHERE from_node_id = ?`, nodeID)
	case DirectionIn:
		rows, err = g.db.QueryContext(ctx, columns+` WHERE to_node_id = ?`, nodeID)
	case DirectionBoth, "":
		rows, err = g.db.QueryContext(ctx, columns+` WHERE from_node_id = ? OR to_node_id = ?`, nodeID, nodeID)
	default:
		return nil, fmt.Errorf("invalid direction: %s (use 'in', 'out', or 'both')", direction)
	}
	if err != nil {
		return nil, core.PersistenceError(err, "query edges")
	}
	defer func() { _ = rows.Close() }()

	var edges []*GraphEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// GetEdgesByType returns every edge of the given type
func (g *GraphStore) GetEdgesByType(ctx context.Context, edgeType string) ([]*GraphEdge, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, from_node_id, to_node_id, edge_type, weight, properties, created_at
		FROM graph_edges WHERE edge_type = ? ORDER BY id`, edgeType)
	if err != nil {
		return nil, core.PersistenceError(err, "query edges")
	}
	defer func() { _ = rows.Close() }()

	var edges []*GraphEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// GetAllNodes retrieves all nodes ordered by ID, optionally filtered by type
func (g *GraphStore) GetAllNodes(ctx context.Context, filter *GraphFilter) ([]*GraphNode, error) {
	query := `SELECT id, content, node_type, properties, created_at, updated_at FROM graph_nodes`
	var args []interface{}

	if filter != nil && len(filter.NodeTypes) > 0 {
		query += ` WHERE node_type IN (` + placeholders(len(filter.NodeTypes)) + `)`
		for _, t := range filter.NodeTypes {
			args = append(args, t)
		}
	}
	query += ` ORDER BY id`

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.PersistenceError(err, "query nodes")
	}
	defer func() { _ = rows.Close() }()

	var nodes []*GraphNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// CountNodes returns the number of nodes of each type
func (g *GraphStore) CountNodes(ctx context.Context) (map[string]int, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT COALESCE(node_type, ''), COUNT(*) FROM graph_nodes GROUP BY node_type`)
	if err != nil {
		return nil, core.PersistenceError(err, "count nodes")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var nodeType string
		var n int
		if err := rows.Scan(&nodeType, &n); err != nil {
			return nil, err
		}
		counts[nodeType] = n
	}
	return counts, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
