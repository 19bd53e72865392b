// Package lake is the entry point of semlake: it ties the reference model,
// the ensemble index, the catalog and the mapper together behind the
// operations a console or CLI needs.
package lake

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liliang-cn/semlake/pkg/catalog"
	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/graph"
	"github.com/liliang-cn/semlake/pkg/index"
	"github.com/liliang-cn/semlake/pkg/joiner"
	"github.com/liliang-cn/semlake/pkg/kg"
	"github.com/liliang-cn/semlake/pkg/mapper"
	"github.com/liliang-cn/semlake/pkg/rollup"
)

// reference is the read-only state rebuilt when the reference model changes
type reference struct {
	model  *kg.Model
	index  *index.Ensemble // nil when the model has no levels
	mapper *mapper.Mapper
	rollup *rollup.Evaluator
}

// Lake is an open semlake database
type Lake struct {
	cfg       core.Config
	graph     *graph.GraphStore
	catalog   *catalog.Catalog
	estimator *joiner.Estimator
	ref       atomic.Pointer[reference]

	mu      sync.Mutex // serialises mount, unmount, sync, clear and reference swaps
	closed  bool
	logger  core.Logger
	metrics *core.Metrics
}

// Option is a functional option for configuring the Lake
type Option func(*Lake)

// WithLogger sets the logger shared by every component
func WithLogger(logger core.Logger) Option {
	return func(l *Lake) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the collectors shared by every component
func WithMetrics(m *core.Metrics) Option {
	return func(l *Lake) {
		if m != nil {
			l.metrics = m
		}
	}
}

// Open opens or creates the database named by cfg, loads the reference
// model (importing cfg.Reference when the database holds none), builds
// the index and loads the catalog.
func Open(ctx context.Context, cfg core.Config, opts ...Option) (*Lake, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapError("open", err)
	}
	l := &Lake{
		cfg:     cfg,
		logger:  core.NopLogger(),
		metrics: core.NopMetrics(),
	}
	for _, opt := range opts {
		opt(l)
	}

	g, err := graph.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	l.graph = g

	if err := l.init(ctx); err != nil {
		_ = g.Close()
		return nil, err
	}
	return l, nil
}

func (l *Lake) init(ctx context.Context) error {
	var p catalog.Persister = catalog.NewGraphPersister(l.graph)
	if l.cfg.Catalog.Format == core.CatalogFormatJSON {
		p = catalog.NewFilePersister(l.cfg.Catalog.File)
	}
	cat, err := catalog.Open(ctx, p,
		catalog.WithLogger(l.logger.With("component", "catalog")),
		catalog.WithMetrics(l.metrics))
	if err != nil {
		return err
	}
	l.catalog = cat

	est, err := joiner.NewEstimator(index.ConfigFrom(l.cfg),
		joiner.WithDelta(l.cfg.Join.Delta),
		joiner.WithLogger(l.logger.With("component", "joiner")),
		joiner.WithMetrics(l.metrics))
	if err != nil {
		return err
	}
	l.estimator = est

	model, err := kg.Load(ctx, l.graph)
	if err != nil {
		return err
	}
	if model.Empty() && l.cfg.Reference != "" {
		f, err := os.Open(l.cfg.Reference)
		if err != nil {
			return core.WrapError("import reference", err)
		}
		defer func() { _ = f.Close() }()
		if model, err = l.saveReference(ctx, f, kg.FormatOf(l.cfg.Reference)); err != nil {
			return err
		}
	}
	return l.swap(ctx, model)
}

// saveReference parses RDF from r and stores the model
func (l *Lake) saveReference(ctx context.Context, r io.Reader, format kg.Format) (*kg.Model, error) {
	model, err := kg.Parse(r, format)
	if err != nil {
		return nil, core.WrapError("import reference", err)
	}
	if err := kg.Save(ctx, l.graph, model); err != nil {
		return nil, err
	}
	st := model.Stats()
	l.logger.Info("reference imported", "dimensions", st.Dimensions, "levels", st.Levels, "members", st.Members)
	return model, nil
}

// swap builds the index over model and publishes both together
func (l *Lake) swap(ctx context.Context, model *kg.Model) error {
	ref := &reference{
		model:  model,
		rollup: rollup.New(model, l.catalog),
	}
	if !model.Empty() {
		start := time.Now()
		ix, err := mapper.BuildIndex(ctx, model, index.ConfigFrom(l.cfg), l.cfg.Sketch.Seed,
			index.WithLogger(l.logger.With("component", "index")))
		if err != nil {
			return core.WrapError("build index", err)
		}
		core.ObserveSince(l.metrics.IndexBuild, start)
		l.metrics.IndexEntries.Set(float64(ix.Len()))

		m, err := mapper.New(ix, model, l.catalog, mapper.ConfigFrom(l.cfg),
			mapper.WithLogger(l.logger.With("component", "mapper")),
			mapper.WithMetrics(l.metrics))
		if err != nil {
			return err
		}
		ref.index, ref.mapper = ix, m
		l.logger.Info("index built", "entries", ix.Len(), "partitions", len(ix.Partitions()), "elapsed", time.Since(start))
	}
	l.ref.Store(ref)
	return nil
}

// ImportReference replaces the reference model with the RDF read from r
// and rebuilds the index. Existing mappings are left as they are;
// Sync re-maps a source against the new model.
func (l *Lake) ImportReference(ctx context.Context, r io.Reader, format kg.Format) (kg.Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	model, err := l.saveReference(ctx, r, format)
	if err != nil {
		return kg.Stats{}, err
	}
	if err := l.swap(ctx, model); err != nil {
		return kg.Stats{}, err
	}
	return model.Stats(), nil
}

// ImportGraph replaces the database content with a document written by
// GraphStore.ExportJSON, then reloads the reference model and the catalog
// from it.
func (l *Lake) ImportGraph(ctx context.Context, r io.Reader) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.graph.ImportJSON(ctx, r); err != nil {
		return core.WrapError("import graph", err)
	}
	model, err := kg.Load(ctx, l.graph)
	if err != nil {
		return err
	}
	sources, err := catalog.NewGraphPersister(l.graph).Load(ctx)
	if err != nil {
		return err
	}
	if err := l.catalog.Reset(sources); err != nil {
		return core.WrapError("import graph", err)
	}
	if err := l.swap(ctx, model); err != nil {
		return err
	}
	st := model.Stats()
	l.logger.Info("graph imported", "sources", len(sources), "levels", st.Levels, "members", st.Members)
	return l.catalog.Persist(ctx)
}

// RebuildIndex reloads the reference model from the database and rebuilds
// the index wholesale.
func (l *Lake) RebuildIndex(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	model, err := kg.Load(ctx, l.graph)
	if err != nil {
		return err
	}
	return l.swap(ctx, model)
}

// Model returns the current reference model
func (l *Lake) Model() *kg.Model { return l.ref.Load().model }

// Catalog returns the catalog
func (l *Lake) Catalog() *catalog.Catalog { return l.catalog }

// Graph returns the underlying graph store
func (l *Lake) Graph() *graph.GraphStore { return l.graph }

// Config returns the configuration the lake was opened with
func (l *Lake) Config() core.Config { return l.cfg }

// Close persists the catalog and closes the database. Closing twice is a no-op.
func (l *Lake) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	err := l.catalog.Persist(context.Background())
	if cerr := l.graph.Close(); err == nil {
		err = cerr
	}
	return err
}
