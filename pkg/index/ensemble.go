// Package index provides the size-partitioned MinHash LSH Ensemble used to
// answer approximate containment queries against reference member sets.
//
// An Ensemble is built once from (key, sketch, size) entries and never
// modified afterwards; it is safe for concurrent queries. When the reference
// data changes, build a new Ensemble and swap it in.
package index

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/minhash"
)

// Config contains the Ensemble build parameters
type Config struct {
	NumPerm             int     // Slots per sketch, all entries must match
	NumPart             int     // Maximum number of size partitions
	MaxR                int     // Largest band row count considered
	FalsePositiveWeight float64 // Weight of the false positive area when choosing (b, r)
	FalseNegativeWeight float64 // Weight of the false negative area when choosing (b, r)
}

// DefaultConfig returns the default Ensemble parameters
func DefaultConfig() Config {
	return Config{
		NumPerm:             256,
		NumPart:             32,
		MaxR:                8,
		FalsePositiveWeight: 0.5,
		FalseNegativeWeight: 0.5,
	}
}

// ConfigFrom builds an index Config from the application configuration
func ConfigFrom(cfg core.Config) Config {
	return Config{
		NumPerm:             cfg.Sketch.NumPerm,
		NumPart:             cfg.Index.NumPart,
		MaxR:                cfg.Index.MaxR,
		FalsePositiveWeight: cfg.Index.FalsePositiveWeight,
		FalseNegativeWeight: cfg.Index.FalseNegativeWeight,
	}
}

// Validate checks the parameters
func (c Config) Validate() error {
	if c.NumPerm <= 0 {
		return core.Computationf("num_perm must be positive, got %d", c.NumPerm)
	}
	if c.NumPart <= 0 {
		return core.Computationf("num_part must be positive, got %d", c.NumPart)
	}
	if c.MaxR <= 0 || c.MaxR > c.NumPerm {
		return core.Computationf("max_r must be in [1, %d], got %d", c.NumPerm, c.MaxR)
	}
	if c.FalsePositiveWeight < 0 || c.FalseNegativeWeight < 0 ||
		c.FalsePositiveWeight+c.FalseNegativeWeight == 0 {
		return core.Computationf("weights must be non-negative and not both zero")
	}
	return nil
}

// Entry is one indexed set
type Entry struct {
	Key    string
	Sketch *minhash.Sketch
	Size   int // Number of distinct values in the set
}

// Match is a query result
type Match struct {
	Key         string
	Size        int
	Jaccard     float64
	Containment float64 // Estimated fraction of the query set covered by Key
}

// Ensemble is an immutable LSH Ensemble
type Ensemble struct {
	cfg        Config
	partitions []*partition
	size       int
	logger     core.Logger
}

// Option configures an Ensemble
type Option func(*Ensemble)

// WithLogger sets the build logger
func WithLogger(logger core.Logger) Option {
	return func(e *Ensemble) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEnsemble builds an Ensemble over entries. Partitions are built
// concurrently; the call returns the first build error or ctx's error.
func NewEnsemble(ctx context.Context, cfg Config, entries []Entry, opts ...Option) (*Ensemble, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, core.Computationf("ensemble needs at least one entry")
	}

	seen := make(map[string]struct{}, len(entries))
	sorted := make([]Entry, len(entries))
	for i, e := range entries {
		switch {
		case e.Key == "":
			return nil, core.Computationf("entry %d has an empty key", i)
		case e.Sketch == nil:
			return nil, core.Computationf("entry %q has no sketch", e.Key)
		case e.Size <= 0:
			return nil, core.Computationf("entry %q has non-positive size %d", e.Key, e.Size)
		case e.Sketch.NumPerm() != cfg.NumPerm:
			return nil, core.Computationf("entry %q has num_perm %d, want %d", e.Key, e.Sketch.NumPerm(), cfg.NumPerm)
		}
		if _, dup := seen[e.Key]; dup {
			return nil, core.Computationf("duplicate entry key %q", e.Key)
		}
		seen[e.Key] = struct{}{}
		sorted[i] = e
	}
	sortEntries(sorted)

	ens := &Ensemble{
		cfg:    cfg,
		size:   len(sorted),
		logger: core.NopLogger(),
	}
	for _, opt := range opts {
		opt(ens)
	}

	start := time.Now()
	bounds := equiDepthBounds(sorted, cfg.NumPart)
	ens.partitions = make([]*partition, len(bounds))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range bounds {
		i, b := i, b
		g.Go(func() error {
			p, err := buildPartition(gctx, cfg, sorted[b[0]:b[1]])
			if err != nil {
				return errors.Wrapf(err, "build partition %d", i)
			}
			ens.partitions[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ens.logger.Debug("ensemble built",
		"entries", ens.size,
		"partitions", len(ens.partitions),
		"elapsed", time.Since(start))
	return ens, nil
}

// Query returns every indexed key whose estimated containment of the query
// set is at least threshold. size is the number of distinct values behind s.
// Results are sorted by key.
func (e *Ensemble) Query(s *minhash.Sketch, size int, threshold float64) ([]Match, error) {
	if s == nil {
		return nil, core.Computationf("query sketch is nil")
	}
	if s.NumPerm() != e.cfg.NumPerm {
		return nil, core.Computationf("query num_perm %d, want %d", s.NumPerm(), e.cfg.NumPerm)
	}
	if size <= 0 {
		return nil, core.Computationf("query size must be positive, got %d", size)
	}
	if threshold < 0 || threshold > 1 {
		return nil, core.Computationf("threshold must be in [0, 1], got %g", threshold)
	}

	params := paramTable(e.cfg, threshold)
	var matches []Match
	for _, p := range e.partitions {
		found, err := p.query(s, size, threshold, params)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Key < matches[j].Key
	})
	return matches, nil
}

// Len returns the number of indexed entries
func (e *Ensemble) Len() int { return e.size }

// Config returns the build parameters
func (e *Ensemble) Config() Config { return e.cfg }

// Partitions describes the size partitions in ascending size order
func (e *Ensemble) Partitions() []PartitionInfo {
	out := make([]PartitionInfo, len(e.partitions))
	for i, p := range e.partitions {
		out[i] = p.info()
	}
	return out
}

// Stats returns bucket statistics aggregated over every banded table
func (e *Ensemble) Stats() map[string]interface{} {
	totalBuckets := 0
	maxBucketSize := 0
	for _, p := range e.partitions {
		for _, t := range p.tables {
			st := t.stats()
			totalBuckets += st.TotalBuckets
			if st.MaxBucketSize > maxBucketSize {
				maxBucketSize = st.MaxBucketSize
			}
		}
	}
	return map[string]interface{}{
		"num_entries":     e.size,
		"num_partitions":  len(e.partitions),
		"num_perm":        e.cfg.NumPerm,
		"max_r":           e.cfg.MaxR,
		"total_buckets":   totalBuckets,
		"max_bucket_size": maxBucketSize,
	}
}
