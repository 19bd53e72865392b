// Package mapper assigns reference levels to the columns of mounted sources
// and computes their member profiles.
//
// Each column is reduced to its distinct values, sketched, and looked up in
// the ensemble index at the containment threshold. When several levels pass,
// the one with the highest estimated containment wins, ties going to the
// smaller level ID.
package mapper

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/semlake/internal/tabular"
	"github.com/liliang-cn/semlake/pkg/catalog"
	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/index"
	"github.com/liliang-cn/semlake/pkg/joiner"
	"github.com/liliang-cn/semlake/pkg/kg"
	"github.com/liliang-cn/semlake/pkg/minhash"
)

// Config contains the mapper parameters
type Config struct {
	Threshold float64 // Containment needed to map a column
	NumPerm   int
	Seed      int64
	Workers   int // Columns sketched concurrently, 0 = one goroutine per column
}

// DefaultConfig returns the default mapper parameters
func DefaultConfig() Config {
	return Config{
		Threshold: 0.8,
		NumPerm:   256,
		Seed:      minhash.DefaultSeed,
	}
}

// ConfigFrom builds a mapper Config from the application configuration
func ConfigFrom(cfg core.Config) Config {
	return Config{
		Threshold: cfg.Mapping.Threshold,
		NumPerm:   cfg.Sketch.NumPerm,
		Seed:      cfg.Sketch.Seed,
		Workers:   cfg.Mapping.Workers,
	}
}

// Column is a named sequence of string-coerced cells
type Column struct {
	Name   string
	Values []string
}

// ColumnsOf returns the columns of t in file order
func ColumnsOf(t *tabular.Table) []Column {
	out := make([]Column, len(t.Columns))
	for i, name := range t.Columns {
		out[i] = Column{Name: name, Values: t.Values[name]}
	}
	return out
}

// Result is the outcome of mapping one column
type Result struct {
	Column      string
	Distinct    int
	Level       string // Empty when no level passed the threshold
	Containment float64
	Candidates  []index.Match // Every level that passed, best first
	Profile     Profile

	HashTime    time.Duration
	QueryTime   time.Duration
	ProfileTime time.Duration
}

// Mapped reports whether a level was assigned
func (r Result) Mapped() bool { return r.Level != "" }

// Mapper maps columns against one reference model and its index
type Mapper struct {
	index   *index.Ensemble
	model   *kg.Model
	catalog *catalog.Catalog
	cfg     Config
	logger  core.Logger
	metrics *core.Metrics
}

// Option configures a Mapper
type Option func(*Mapper)

// WithLogger sets the mapper logger
func WithLogger(logger core.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the collectors updated by the mapper
func WithMetrics(metrics *core.Metrics) Option {
	return func(m *Mapper) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// New creates a mapper. The catalog may be nil when MapSource is not used.
func New(ix *index.Ensemble, model *kg.Model, cat *catalog.Catalog, cfg Config, opts ...Option) (*Mapper, error) {
	if ix == nil || model == nil {
		return nil, core.InvalidStatef("mapper needs an index and a reference model")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, core.Computationf("threshold must be in (0, 1], got %g", cfg.Threshold)
	}
	if cfg.NumPerm != ix.Config().NumPerm {
		return nil, core.Computationf("num_perm %d does not match the index (%d)", cfg.NumPerm, ix.Config().NumPerm)
	}
	if cfg.Workers < 0 {
		return nil, core.Computationf("workers must be non-negative, got %d", cfg.Workers)
	}
	m := &Mapper{
		index:   ix,
		model:   model,
		catalog: cat,
		cfg:     cfg,
		logger:  core.NopLogger(),
		metrics: core.NopMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MapColumns maps every column concurrently. Results are in column order.
func (m *Mapper) MapColumns(ctx context.Context, cols []Column) ([]Result, error) {
	results := make([]Result, len(cols))

	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.Workers > 0 {
		g.SetLimit(m.cfg.Workers)
	}
	for i, col := range cols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := m.mapColumn(col)
			if err != nil {
				return errors.Wrapf(err, "map column %q", col.Name)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Mapper) mapColumn(col Column) (Result, error) {
	r := Result{Column: col.Name}

	start := time.Now()
	distinct := make(map[string]struct{}, len(col.Values))
	for _, v := range col.Values {
		distinct[v] = struct{}{}
	}
	r.Distinct = len(distinct)
	if r.Distinct == 0 {
		m.metrics.ColumnsMapped.WithLabelValues("empty").Inc()
		return r, nil
	}
	s, err := minhash.New(m.cfg.NumPerm, minhash.WithSeed(m.cfg.Seed))
	if err != nil {
		return r, err
	}
	s.UpdateSet(distinct)
	r.HashTime = time.Since(start)
	m.metrics.SketchDuration.WithLabelValues("column").Observe(r.HashTime.Seconds())

	start = time.Now()
	matches, err := m.index.Query(s, r.Distinct, m.cfg.Threshold)
	if err != nil {
		return r, err
	}
	r.QueryTime = time.Since(start)
	m.metrics.QueryDuration.Observe(r.QueryTime.Seconds())

	if len(matches) == 0 {
		m.metrics.ColumnsMapped.WithLabelValues("unmapped").Inc()
		m.logger.Debug("column unmapped", "column", col.Name, "distinct", r.Distinct)
		return r, nil
	}
	rankMatches(matches)
	r.Candidates = matches
	r.Level = matches[0].Key
	r.Containment = matches[0].Containment

	start = time.Now()
	members, err := m.model.Members(r.Level)
	if err != nil {
		return r, err
	}
	r.Profile = ComputeProfile(col.Values, members)
	r.ProfileTime = time.Since(start)
	m.metrics.ProfileDuration.Observe(r.ProfileTime.Seconds())
	m.metrics.ColumnsMapped.WithLabelValues("mapped").Inc()

	m.logger.Debug("column mapped",
		"column", col.Name,
		"level", r.Level,
		"containment", r.Containment,
		"candidates", len(matches))
	return r, nil
}

// rankMatches orders matches by containment descending, then key
func rankMatches(matches []index.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Containment != matches[j].Containment {
			return matches[i].Containment > matches[j].Containment
		}
		return matches[i].Key < matches[j].Key
	})
}

// BuildSource maps the columns of table and returns src completed with one
// domain per column, the level and profile of every mapped domain and the
// combined row signature. The catalog is not touched.
func (m *Mapper) BuildSource(ctx context.Context, src catalog.Source, table *tabular.Table) (catalog.Source, []Result, error) {
	results, err := m.MapColumns(ctx, ColumnsOf(table))
	if err != nil {
		return src, nil, err
	}

	src.Items = table.Rows
	src.Domains = make([]catalog.Domain, len(results))
	for i, r := range results {
		d := catalog.Domain{Name: r.Column, Key: catalog.DomainKey(src.ID, r.Column)}
		if r.Mapped() {
			d.Level = r.Level
			d.Profile = r.Profile.Elements()
		}
		src.Domains[i] = d
	}
	sig, err := m.combinedSignature(table, results)
	if err != nil {
		return src, nil, err
	}
	src.Signature = sig

	m.logger.Info("source mapped",
		"source", src.ID,
		"columns", len(results),
		"mapped", mappedCount(results))
	return src, results, nil
}

// MapSource builds src from table with BuildSource and commits it to the
// catalog in one step, replacing any source with the same ID. The catalog
// is unchanged when mapping fails.
func (m *Mapper) MapSource(ctx context.Context, src catalog.Source, table *tabular.Table) ([]Result, error) {
	if m.catalog == nil {
		return nil, core.InvalidStatef("mapper has no catalog")
	}
	built, results, err := m.BuildSource(ctx, src, table)
	if err != nil {
		return nil, err
	}
	if err := m.catalog.Replace(built); err != nil {
		return nil, err
	}
	return results, nil
}

// combinedSignature sketches the rows of the mapped columns of table. The
// columns are combined ordered by level, then column name, so the signature
// does not depend on the column order of the file. It is nil when no
// column is mapped or the table has no rows.
func (m *Mapper) combinedSignature(table *tabular.Table, results []Result) (*catalog.Signature, error) {
	var mapped []Result
	for _, r := range results {
		if r.Mapped() {
			mapped = append(mapped, r)
		}
	}
	if len(mapped) == 0 || table.Rows == 0 {
		return nil, nil
	}
	sort.Slice(mapped, func(i, j int) bool {
		if mapped[i].Level != mapped[j].Level {
			return mapped[i].Level < mapped[j].Level
		}
		return mapped[i].Column < mapped[j].Column
	})

	levels := make([]string, len(mapped))
	values := make([][]string, len(mapped))
	for i, r := range mapped {
		levels[i] = r.Level
		values[i] = table.Values[r.Column]
	}

	start := time.Now()
	sig, err := joiner.CombinedSignature(m.cfg.NumPerm, m.cfg.Seed, values)
	if err != nil {
		return nil, err
	}
	m.metrics.SketchDuration.WithLabelValues("signature").Observe(time.Since(start).Seconds())
	sig.Levels = levels
	out := sig.ToCatalog()
	return &out, nil
}

func mappedCount(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Mapped() {
			n++
		}
	}
	return n
}

// IndexEntries builds one ensemble entry per level of model, keyed by level
// ID and sketched over the member names. Levels without members are skipped.
func IndexEntries(model *kg.Model, numPerm int, seed int64) ([]index.Entry, error) {
	var entries []index.Entry
	for _, d := range model.Dimensions() {
		levels, err := model.Levels(d.ID)
		if err != nil {
			return nil, err
		}
		for _, l := range levels {
			names, err := model.MemberNames(l.ID)
			if err != nil {
				return nil, err
			}
			if len(names) == 0 {
				continue
			}
			s, err := minhash.New(numPerm, minhash.WithSeed(seed))
			if err != nil {
				return nil, err
			}
			s.Update(names...)
			entries = append(entries, index.Entry{Key: l.ID, Sketch: s, Size: distinctCount(names)})
		}
	}
	return entries, nil
}

// BuildIndex builds the ensemble over every level of model
func BuildIndex(ctx context.Context, model *kg.Model, cfg index.Config, seed int64, opts ...index.Option) (*index.Ensemble, error) {
	entries, err := IndexEntries(model, cfg.NumPerm, seed)
	if err != nil {
		return nil, err
	}
	return index.NewEnsemble(ctx, cfg, entries, opts...)
}

// distinctCount counts distinct values of a sorted slice
func distinctCount(sorted []string) int {
	n := 0
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			n++
		}
	}
	return n
}
