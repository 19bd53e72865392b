package joiner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/index"
)

func rowsOf(prefix string, n int) [][]string {
	a := make([]string, n)
	b := make([]string, n)
	for i := 0; i < n; i++ {
		a[i] = fmt.Sprintf("%s%d", prefix, i)
		b[i] = fmt.Sprintf("%d_L0_D1", i%7)
	}
	return [][]string{a, b}
}

func signature(t *testing.T, prefix string, n int) *Signature {
	t.Helper()
	sig, err := CombinedSignature(128, 1, rowsOf(prefix, n))
	require.NoError(t, err)
	return sig
}

func estimator(t *testing.T) *Estimator {
	t.Helper()
	cfg := index.DefaultConfig()
	cfg.NumPerm = 128
	e, err := NewEstimator(cfg)
	require.NoError(t, err)
	return e
}

func TestCombinedSignature(t *testing.T) {
	sig := signature(t, "a", 200)
	assert.Equal(t, 200, sig.Rows)
	assert.InDelta(t, 200, sig.Size, 10)
	assert.Equal(t, 128, sig.Sketch.NumPerm())

	// duplicated rows count once
	dup := rowsOf("a", 50)
	dup[0] = append(dup[0], dup[0]...)
	dup[1] = append(dup[1], dup[1]...)
	sig, err := CombinedSignature(128, 1, dup)
	require.NoError(t, err)
	assert.Equal(t, 100, sig.Rows)
	assert.InDelta(t, 50, sig.Size, 3)

	_, err = CombinedSignature(128, 1, nil)
	assert.True(t, core.IsComputation(err))
	_, err = CombinedSignature(128, 1, [][]string{{"a", "b"}, {"c"}})
	assert.True(t, core.IsComputation(err))
}

func TestCatalogRoundTrip(t *testing.T) {
	sig := signature(t, "a", 100)
	sig.Levels = []string{"L0_D0", "L0_D1"}
	stored := sig.ToCatalog()
	assert.Equal(t, []string{"L0_D0", "L0_D1"}, stored.Levels)

	restored, err := FromCatalog(stored)
	require.NoError(t, err)
	j, err := restored.Sketch.Jaccard(sig.Sketch)
	require.NoError(t, err)
	assert.Equal(t, 1.0, j)
	assert.Equal(t, sig.Size, restored.Size)
	assert.Equal(t, sig.Rows, restored.Rows)
	assert.Equal(t, sig.Levels, restored.Levels)
}

func TestEstimateIdentical(t *testing.T) {
	e := estimator(t)
	assert.Equal(t, 5, e.MaxIterations())

	sig := signature(t, "a", 300)
	est, err := e.Estimate(context.Background(), sig, sig)
	require.NoError(t, err)

	assert.True(t, est.Found)
	assert.Equal(t, 5, est.Iterations)
	require.Len(t, est.Steps, 5)
	for _, p := range est.Steps {
		assert.True(t, p.Matched, "step at %g", p.Threshold)
	}
	assert.InDelta(t, 0.96875, est.Index, 1e-12)
	assert.InDelta(t, 0.96875*300, est.RowIntersection, 1e-9)
}

func TestEstimateDisjoint(t *testing.T) {
	e := estimator(t)
	est, err := e.Estimate(context.Background(), signature(t, "a", 300), signature(t, "b", 300))
	require.NoError(t, err)

	assert.False(t, est.Found)
	assert.Zero(t, est.Index)
	assert.Zero(t, est.RowIntersection)
	assert.LessOrEqual(t, est.Iterations, e.MaxIterations())
	assert.GreaterOrEqual(t, est.Index, 0.0)
	assert.Less(t, est.Index, 1.0)
}

func TestEstimateValidation(t *testing.T) {
	e := estimator(t)
	sig := signature(t, "a", 10)

	_, err := e.Estimate(context.Background(), nil, sig)
	assert.True(t, core.IsComputation(err))
	_, err = e.Estimate(context.Background(), sig, &Signature{Sketch: sig.Sketch})
	assert.True(t, core.IsComputation(err))

	other := signature(t, "a", 10)
	sig.Levels, other.Levels = []string{"L1_D0", "L1_D1"}, []string{"L1_D0"}
	_, err = e.Estimate(context.Background(), sig, other)
	assert.True(t, core.IsInvalidState(err), "different level sets")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Estimate(ctx, sig, sig)
	assert.Error(t, err)

	_, err = NewEstimator(index.DefaultConfig(), WithDelta(1.5))
	assert.True(t, core.IsComputation(err))
}
