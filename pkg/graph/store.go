// Package graph provides a typed node/edge store on SQLite.
//
// The reference model and the catalog are both stored as property graphs:
// nodes carry a type and a JSON property bag, edges are typed and directed.
// The store uses modernc.org/sqlite, so no cgo is required.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/liliang-cn/semlake/pkg/core"
)

// GraphStore provides graph operations on a SQLite database
type GraphStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens (or creates) the database at path and initialises the graph schema
func Open(ctx context.Context, path string) (*GraphStore, error) {
	if path == "" {
		return nil, core.WrapError("open", fmt.Errorf("database path cannot be empty"))
	}

	// journal_mode=WAL: readers do not block the writer
	// synchronous=NORMAL: safe with WAL, fewer fsyncs
	// busy_timeout=5000: wait up to 5s for a lock instead of failing immediately
	// foreign_keys=1: applied on every pooled connection so edge cascades hold
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.PersistenceError(err, "open database")
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(2 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, core.PersistenceError(err, "connect to database")
	}

	g := &GraphStore{db: db, path: path}
	if err := g.InitGraphSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

// NewGraphStore wraps an already open database. The caller keeps ownership
// of db; the schema is not created.
func NewGraphStore(db *sql.DB) *GraphStore {
	return &GraphStore{db: db}
}

// DB returns the underlying database handle
func (g *GraphStore) DB() *sql.DB {
	return g.db
}

// Path returns the database file path, empty for wrapped handles
func (g *GraphStore) Path() string {
	return g.path
}

// Close closes the database
func (g *GraphStore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	if err := g.db.Close(); err != nil {
		return core.PersistenceError(err, "close database")
	}
	return nil
}
