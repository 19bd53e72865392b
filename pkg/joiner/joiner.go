// Package joiner estimates how joinable two sources are from their combined
// row signatures, without comparing the underlying rows.
package joiner

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/axiomhq/hyperloglog"

	"github.com/liliang-cn/semlake/pkg/catalog"
	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/index"
	"github.com/liliang-cn/semlake/pkg/minhash"
)

// DefaultDelta is the bisection stopping width
const DefaultDelta = 0.049

// RowSeparator joins the values of one row into a combined key
const RowSeparator = "_"

// Signature is the combined row sketch of a set of columns. Levels names
// the level of each combined column; two signatures are only comparable
// when their Levels are equal.
type Signature struct {
	Sketch *minhash.Sketch
	Levels []string
	Size   int // Estimated distinct combined rows
	Rows   int
}

// CombinedSignature sketches the rows formed by the given columns. Column i
// holds the values of one column; all columns must have the same length.
// The distinct count is estimated with HyperLogLog.
func CombinedSignature(numPerm int, seed int64, columns [][]string) (*Signature, error) {
	if len(columns) == 0 {
		return nil, core.Computationf("combined signature needs at least one column")
	}
	rows := len(columns[0])
	for i, c := range columns {
		if len(c) != rows {
			return nil, core.Computationf("column %d has %d values, want %d", i, len(c), rows)
		}
	}

	mh, err := minhash.New(numPerm, minhash.WithSeed(seed))
	if err != nil {
		return nil, err
	}
	hll := hyperloglog.New()

	parts := make([]string, len(columns))
	for r := 0; r < rows; r++ {
		for i := range columns {
			parts[i] = columns[i][r]
		}
		key := []byte(strings.Join(parts, RowSeparator))
		mh.UpdateBytes(key)
		hll.Insert(key)
	}

	size := int(hll.Estimate())
	if size == 0 && rows > 0 {
		size = 1
	}
	return &Signature{Sketch: mh, Size: size, Rows: rows}, nil
}

// ToCatalog converts the signature for storage on a source
func (s *Signature) ToCatalog() catalog.Signature {
	return catalog.Signature{
		Levels: append([]string(nil), s.Levels...),
		Seed:   s.Sketch.Seed(),
		Slots:  s.Sketch.Values(),
		Size:   s.Size,
		Rows:   s.Rows,
	}
}

// FromCatalog restores a signature stored on a source
func FromCatalog(sig catalog.Signature) (*Signature, error) {
	mh, err := minhash.FromValues(sig.Seed, sig.Slots)
	if err != nil {
		return nil, err
	}
	return &Signature{
		Sketch: mh,
		Levels: append([]string(nil), sig.Levels...),
		Size:   sig.Size,
		Rows:   sig.Rows,
	}, nil
}

// Estimate is the result of a joinability search
type Estimate struct {
	Index           float64 // Estimated containment of s2 in s1, in [0, 1)
	Found           bool    // False when no step matched
	Iterations      int
	Steps           []Step
	RowIntersection float64 // Index * rows of s2
}

// Step is one bisection step
type Step struct {
	Threshold float64
	Matched   bool
}

// Estimator runs the bisection search
type Estimator struct {
	delta   float64
	cfg     index.Config
	logger  core.Logger
	metrics *core.Metrics
}

// Option configures an Estimator
type Option func(*Estimator)

// WithDelta sets the bisection stopping width
func WithDelta(delta float64) Option {
	return func(e *Estimator) { e.delta = delta }
}

// WithLogger sets the estimator logger
func WithLogger(logger core.Logger) Option {
	return func(e *Estimator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the collectors updated by the estimator
func WithMetrics(m *core.Metrics) Option {
	return func(e *Estimator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEstimator creates an estimator. cfg provides the banding parameters
// of the single-entry index built per search.
func NewEstimator(cfg index.Config, opts ...Option) (*Estimator, error) {
	e := &Estimator{
		delta:   DefaultDelta,
		cfg:     cfg,
		logger:  core.NopLogger(),
		metrics: core.NopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.delta <= 0 || e.delta >= 1 {
		return nil, core.Computationf("delta must be in (0, 1), got %g", e.delta)
	}
	e.cfg.NumPart = 1
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// MaxIterations returns the bisection bound ceil(log2(1/delta))
func (e *Estimator) MaxIterations() int {
	return int(math.Ceil(math.Log2(1 / e.delta)))
}

// Estimate searches the largest threshold at which s2 is still found
// contained in s1.
func (e *Estimator) Estimate(ctx context.Context, s1, s2 *Signature) (*Estimate, error) {
	if s1 == nil || s2 == nil || s1.Sketch == nil || s2.Sketch == nil {
		return nil, core.Computationf("joinability needs two signatures")
	}
	if s1.Size <= 0 || s2.Size <= 0 {
		return nil, core.Computationf("joinability needs non-empty signatures")
	}
	if !slices.Equal(s1.Levels, s2.Levels) {
		return nil, core.InvalidStatef("signatures combine different levels: %v and %v", s1.Levels, s2.Levels)
	}
	cfg := e.cfg
	cfg.NumPerm = s1.Sketch.NumPerm()
	if cfg.MaxR > cfg.NumPerm {
		cfg.MaxR = cfg.NumPerm
	}

	ens, err := index.NewEnsemble(ctx, cfg, []index.Entry{{Key: "s1", Sketch: s1.Sketch, Size: s1.Size}})
	if err != nil {
		return nil, err
	}

	est := &Estimate{}
	lo, hi := 0.0, 1.0
	for hi-lo > e.delta {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mid := (lo + hi) / 2
		matches, err := ens.Query(s2.Sketch, s2.Size, mid)
		if err != nil {
			return nil, err
		}
		matched := len(matches) > 0
		est.Steps = append(est.Steps, Step{Threshold: mid, Matched: matched})
		est.Iterations++
		if matched {
			est.Index, est.Found = mid, true
			lo = mid
			e.metrics.JoinSteps.WithLabelValues("true").Inc()
		} else {
			hi = mid
			e.metrics.JoinSteps.WithLabelValues("false").Inc()
		}
	}
	est.RowIntersection = est.Index * float64(s2.Rows)

	e.logger.Debug("joinability estimated",
		"index", est.Index,
		"iterations", est.Iterations,
		"row_intersection", est.RowIntersection)
	return est, nil
}
