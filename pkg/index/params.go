package index

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// integrationSteps is the number of Simpson intervals used per probability integral
const integrationSteps = 64

// xqGrid holds the size ratios x/q at which banding parameters are optimised:
// exp(linspace(-5, 5, 10)).
var xqGrid = func() []float64 {
	grid := floats.Span(make([]float64, 10), -5, 5)
	for i, v := range grid {
		grid[i] = math.Exp(v)
	}
	return grid
}()

// bandParams is one (b, r) choice
type bandParams struct {
	Bands int
	Rows  int
}

type paramKey struct {
	threshold float64
	numPerm   int
	maxR      int
	fpWeight  float64
	fnWeight  float64
}

var paramCache sync.Map // paramKey -> []bandParams, one per xqGrid entry

// paramTable returns the optimal banding parameters for every ratio in xqGrid
func paramTable(cfg Config, threshold float64) []bandParams {
	key := paramKey{
		threshold: threshold,
		numPerm:   cfg.NumPerm,
		maxR:      cfg.MaxR,
		fpWeight:  cfg.FalsePositiveWeight,
		fnWeight:  cfg.FalseNegativeWeight,
	}
	if v, ok := paramCache.Load(key); ok {
		return v.([]bandParams)
	}

	table := make([]bandParams, len(xqGrid))
	for i, xq := range xqGrid {
		table[i] = optimalParams(threshold, cfg.NumPerm, cfg.MaxR, xq,
			cfg.FalsePositiveWeight, cfg.FalseNegativeWeight)
	}
	v, _ := paramCache.LoadOrStore(key, table)
	return v.([]bandParams)
}

// paramsFor picks the parameters for a partition whose largest set has size
// upper, queried with a set of size q. The ratio is located with a left
// search over xqGrid and clamped to its last entry.
func paramsFor(table []bandParams, upper, q int) bandParams {
	ratio := float64(upper) / float64(q)
	i := sort.SearchFloat64s(xqGrid, ratio)
	if i == len(xqGrid) {
		i--
	}
	return table[i]
}

// optimalParams minimises the weighted false positive and false negative
// areas over every (b, r) with r <= maxR and b*r <= numPerm.
func optimalParams(threshold float64, numPerm, maxR int, xq, fpWeight, fnWeight float64) bandParams {
	best := bandParams{Bands: 1, Rows: 1}
	minError := math.Inf(1)
	for b := 1; b <= numPerm; b++ {
		for r := 1; r <= maxR; r++ {
			if b*r > numPerm {
				break
			}
			fp := falsePositiveArea(threshold, b, r, xq)
			fn := falseNegativeArea(threshold, b, r, xq)
			if err := fp*fpWeight + fn*fnWeight; err < minError {
				minError = err
				best = bandParams{Bands: b, Rows: r}
			}
		}
	}
	return best
}

// candidateProbability is the chance that a set with containment t and size
// ratio xq collides in at least one of b bands of r rows.
func candidateProbability(t float64, b, r int, xq float64) float64 {
	jaccard := t / (1 + xq - t)
	return 1 - math.Pow(1-math.Pow(jaccard, float64(r)), float64(b))
}

func falsePositiveArea(threshold float64, b, r int, xq float64) float64 {
	upper := math.Min(threshold, xq)
	return simpson(func(t float64) float64 {
		return candidateProbability(t, b, r, xq)
	}, 0, upper)
}

func falseNegativeArea(threshold float64, b, r int, xq float64) float64 {
	if xq < threshold {
		return 0
	}
	upper := math.Min(1, xq)
	return simpson(func(t float64) float64 {
		return 1 - candidateProbability(t, b, r, xq)
	}, threshold, upper)
}

// simpson integrates f over [a, b] with the composite Simpson rule on
// integrationSteps equal intervals
func simpson(f func(float64) float64, a, b float64) float64 {
	if b <= a {
		return 0
	}
	x := floats.Span(make([]float64, integrationSteps+1), a, b)
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = f(xi)
	}
	return integrate.Simpsons(x, y)
}
