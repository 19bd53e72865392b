package lake

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/kg"
)

type fixture struct {
	dir string
	cfg core.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	model, err := kg.Generate(kg.GenerateOptions{Dimensions: 2, Levels: 2, Population: 10})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, kg.WriteNTriples(&buf, model, ""))
	refPath := filepath.Join(dir, "reference.nt")
	require.NoError(t, os.WriteFile(refPath, buf.Bytes(), 0o644))

	cfg := core.DefaultConfig()
	cfg.Database = filepath.Join(dir, "semlake.db")
	cfg.Reference = refPath
	cfg.Datasets = dir
	cfg.Sketch.NumPerm = 128
	cfg.Index.NumPart = 4

	f := &fixture{dir: dir, cfg: cfg}
	f.writeSample(t, "sample.csv", 200)
	return f
}

// writeSample writes L0_D0 sampled from its members, L1_D0 derived from
// it and attr0 with random integers.
func (f *fixture) writeSample(t *testing.T, name string, rows int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var b strings.Builder
	b.WriteString("L0_D0,L1_D0,attr0\n")
	for i := 0; i < rows; i++ {
		child := i % 100
		if i >= 100 {
			child = rng.Intn(100)
		}
		fmt.Fprintf(&b, "%d_L0_D0,%d_L1_D0,%d\n", child/10, child, rng.Intn(100000))
	}
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func (f *fixture) open(t *testing.T) *Lake {
	t.Helper()
	l, err := Open(context.Background(), f.cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestMountDescribe(t *testing.T) {
	f := newFixture(t)
	l := f.open(t)
	ctx := context.Background()

	res, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)
	assert.Equal(t, Mounted, res.Status)
	assert.Equal(t, "sample", res.Source)

	res, err = l.Mount(ctx, filepath.Join(f.dir, "sample.csv"))
	require.NoError(t, err)
	assert.Equal(t, AlreadyMounted, res.Status)

	res, err = l.Mount(ctx, "missing.csv")
	require.NoError(t, err)
	assert.Equal(t, FileNotFound, res.Status)

	sources := l.ListSources()
	require.Len(t, sources, 1)
	assert.Equal(t, 200, sources[0].Items)

	d, err := l.Describe(core.ByID(0))
	require.NoError(t, err)
	require.Len(t, d.Domains, 3)
	assert.Equal(t, "L0_D0", d.Domains[0].Level)
	assert.Equal(t, 1.0, d.Domains[0].Completeness)
	assert.Equal(t, "L1_D0", d.Domains[1].Level)
	assert.Equal(t, 1.0, d.Domains[1].Completeness)
	assert.False(t, d.Domains[2].Mapped)
	assert.Equal(t, "sample_attr0", d.Domains[2].Key)
}

func TestProfiles(t *testing.T) {
	f := newFixture(t)
	l := f.open(t)
	ctx := context.Background()
	_, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)
	sel := core.ByKey("sample")

	exact, err := l.Profile(sel, "L1_D0", Exact)
	require.NoError(t, err)
	assert.Len(t, exact, 100)

	up, err := l.Profile(sel, "L1_D0", RolledUp)
	require.NoError(t, err)
	require.Len(t, up, 10)
	total := 0
	for _, n := range up {
		total += n
	}
	assert.Equal(t, 200, total)

	// rolling L1_D0 up gives the L0_D0 column exactly
	l0, err := l.Profile(sel, "L0_D0", Exact)
	require.NoError(t, err)
	assert.Equal(t, l0, up)

	ids, vec, err := l.ProfileVector(sel, "L0_D0")
	require.NoError(t, err)
	require.Len(t, ids, 10)
	require.Len(t, vec, 10)
	assert.Equal(t, "0_L0_D0", ids[0])
	assert.Equal(t, float64(l0["0_L0_D0"]), vec[0])

	all, err := l.ProfileAll(sel, Exact)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = l.Profile(sel, "attr0", Exact)
	assert.True(t, core.IsInvalidState(err))
	_, err = l.Profile(sel, "", Exact)
	assert.True(t, core.IsInvalidState(err))
	_, err = l.Profile(core.Selector{}, "L0_D0", Exact)
	assert.True(t, core.IsInvalidState(err))
	_, err = l.Profile(sel, "nope", Exact)
	assert.True(t, core.IsNotFound(err))
}

func TestUnmountAndRemount(t *testing.T) {
	f := newFixture(t)
	l := f.open(t)
	ctx := context.Background()

	_, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)

	status, err := l.Unmount(ctx, core.Selector{})
	require.NoError(t, err)
	assert.Equal(t, NoSourceSelected, status)

	status, err = l.Unmount(ctx, core.ByKey("sample"))
	require.NoError(t, err)
	assert.Equal(t, Unmounted, status)
	assert.Empty(t, l.ListSources())

	_, err = l.Unmount(ctx, core.ByKey("sample"))
	assert.True(t, core.IsNotFound(err))

	res, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)
	assert.Equal(t, Mounted, res.Status)
	assert.Equal(t, "sample", res.Source)
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	f.writeSample(t, "other.csv", 30)
	l := f.open(t)
	ctx := context.Background()

	for _, p := range []string{"sample.csv", "other.csv"} {
		_, err := l.Mount(ctx, p)
		require.NoError(t, err)
	}

	n, err := l.Clear(ctx, false, core.ByKey("never"))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = l.Clear(ctx, false, core.ByKey("other"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = l.Clear(ctx, false, core.Selector{})
	assert.True(t, core.IsInvalidState(err))

	n, err = l.Clear(ctx, true, core.Selector{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = l.Clear(ctx, true, core.Selector{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIDCollisionAndJoinability(t *testing.T) {
	f := newFixture(t)
	f.writeSample(t, filepath.Join("copy", "sample.csv"), 200)
	l := f.open(t)
	ctx := context.Background()

	_, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)
	res, err := l.Mount(ctx, filepath.Join("copy", "sample.csv"))
	require.NoError(t, err)
	assert.Equal(t, "sample_1", res.Source)

	est, err := l.Joinability(ctx, core.ByKey("sample"), core.ByKey("sample_1"))
	require.NoError(t, err)
	assert.True(t, est.Found)
	assert.InDelta(t, 0.96875, est.Index, 1e-12)
	assert.LessOrEqual(t, est.Iterations, 5)
	assert.InDelta(t, 0.96875*200, est.RowIntersection, 1e-9)

	_, err = l.Joinability(ctx, core.ByKey("sample"), core.ByKey("nope"))
	assert.True(t, core.IsNotFound(err))
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	l := f.open(t)
	ctx := context.Background()

	_, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)

	f.writeSample(t, "sample.csv", 50)
	res, err := l.Sync(ctx, core.ByKey("sample"))
	require.NoError(t, err)
	assert.Equal(t, Mounted, res.Status)
	assert.Equal(t, "sample", res.Source)
	assert.Equal(t, 50, l.ListSources()[0].Items)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "sample.csv")))
	res, err = l.Sync(ctx, core.ByKey("sample"))
	require.NoError(t, err)
	assert.Equal(t, FileNotFound, res.Status)
	assert.Len(t, l.ListSources(), 1, "source kept when its file is gone")

	_, err = l.Sync(ctx, core.Selector{})
	assert.True(t, core.IsInvalidState(err))
}

func TestReopen(t *testing.T) {
	for _, format := range []string{core.CatalogFormatSQLite, core.CatalogFormatJSON} {
		t.Run(format, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.Catalog.Format = format
			f.cfg.Catalog.File = filepath.Join(f.dir, "catalog.json")
			ctx := context.Background()

			l, err := Open(ctx, f.cfg)
			require.NoError(t, err)
			_, err = l.Mount(ctx, "sample.csv")
			require.NoError(t, err)
			before, err := l.Describe(core.ByKey("sample"))
			require.NoError(t, err)
			beforeProfile, err := l.Profile(core.ByKey("sample"), "L1_D0", Exact)
			require.NoError(t, err)
			require.NoError(t, l.Close())

			// the reference is now read from the database
			f.cfg.Reference = ""
			l = f.open(t)
			after, err := l.Describe(core.ByKey("sample"))
			require.NoError(t, err)
			assert.True(t, before.Date.Equal(after.Date))
			before.Date, after.Date = time.Time{}, time.Time{}
			assert.Equal(t, before, after)

			afterProfile, err := l.Profile(core.ByKey("sample"), "L1_D0", Exact)
			require.NoError(t, err)
			assert.Equal(t, beforeProfile, afterProfile)

			st := l.Stats()
			assert.Equal(t, 1, st.Sources)
			assert.Equal(t, 4, st.Reference.Levels)
			assert.Equal(t, 4, st.Index["num_entries"])
		})
	}
}

func TestImportReference(t *testing.T) {
	f := newFixture(t)
	f.cfg.Reference = ""
	l := f.open(t)
	ctx := context.Background()

	_, err := l.Mount(ctx, "sample.csv")
	assert.True(t, core.IsInvalidState(err), "mount without a reference model")
	assert.Nil(t, l.Stats().Index)

	model, err := kg.Generate(kg.GenerateOptions{Dimensions: 1, Levels: 2, Population: 10})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, kg.WriteNTriples(&buf, model, ""))

	st, err := l.ImportReference(ctx, &buf, kg.FormatNTriples)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Levels)

	res, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)
	assert.Equal(t, Mounted, res.Status)

	require.NoError(t, l.RebuildIndex(ctx))
	assert.Equal(t, 2, l.Stats().Index["num_entries"])
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t)
	l := f.open(t)

	ev, err := l.Evaluate(context.Background(), []string{"sample.csv"})
	require.NoError(t, err)
	assert.Equal(t, 3, ev.Columns)
	assert.Equal(t, 2, ev.Expected)
	assert.Equal(t, 1.0, ev.Effectiveness)
	assert.Empty(t, l.ListSources())
}

// writeLevels writes the same rows of L1_D0 and L1_D1 members with the
// columns in the given order.
func (f *fixture) writeLevels(t *testing.T, name string, columns ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString(strings.Join(columns, ",") + "\n")
	for i := 0; i < 100; i++ {
		cells := make([]string, len(columns))
		for j, c := range columns {
			n := i
			if c == "L1_D1" {
				n = (i * 7) % 100
			}
			cells[j] = fmt.Sprintf("%d_%s", n, c)
		}
		b.WriteString(strings.Join(cells, ",") + "\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), []byte(b.String()), 0o644))
}

func TestJoinabilityColumnOrder(t *testing.T) {
	f := newFixture(t)
	f.writeLevels(t, "a.csv", "L1_D0", "L1_D1")
	f.writeLevels(t, "b.csv", "L1_D1", "L1_D0")
	f.writeLevels(t, "c.csv", "L1_D0")
	l := f.open(t)
	ctx := context.Background()

	for _, p := range []string{"a.csv", "b.csv", "c.csv"} {
		_, err := l.Mount(ctx, p)
		require.NoError(t, err)
	}

	est, err := l.Joinability(ctx, core.ByKey("a"), core.ByKey("b"))
	require.NoError(t, err)
	assert.True(t, est.Found)
	assert.InDelta(t, 0.96875, est.Index, 1e-12)

	_, err = l.Joinability(ctx, core.ByKey("a"), core.ByKey("c"))
	assert.True(t, core.IsInvalidState(err), "different level sets")
}

func TestSyncKeepsSource(t *testing.T) {
	f := newFixture(t)
	f.writeSample(t, filepath.Join("copy", "sample.csv"), 200)
	l := f.open(t)
	ctx := context.Background()

	_, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)
	_, err = l.Mount(ctx, filepath.Join("copy", "sample.csv"))
	require.NoError(t, err)

	f.writeSample(t, filepath.Join("copy", "sample.csv"), 50)
	res, err := l.Sync(ctx, core.ByKey("sample_1"))
	require.NoError(t, err)
	assert.Equal(t, "sample_1", res.Source)
	d, err := l.Describe(core.ByKey("sample_1"))
	require.NoError(t, err)
	assert.Equal(t, 50, d.Items)

	path := filepath.Join(f.dir, "sample.csv")
	require.NoError(t, os.WriteFile(path, []byte("L0_D0,L1_D0,attr0\n\"bad,1,2\n"), 0o644))
	_, err = l.Sync(ctx, core.ByKey("sample"))
	require.Error(t, err)
	d, err = l.Describe(core.ByKey("sample"))
	require.NoError(t, err, "source kept when its file cannot be read")
	assert.Equal(t, 200, d.Items)
	assert.Len(t, l.ListSources(), 2)
}

func TestPersistFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.writeSample(t, "other.csv", 30)
	store := filepath.Join(f.dir, "store")
	require.NoError(t, os.MkdirAll(store, 0o755))
	f.cfg.Catalog.Format = core.CatalogFormatJSON
	f.cfg.Catalog.File = filepath.Join(store, "catalog.json")
	l := f.open(t)
	ctx := context.Background()

	_, err := l.Mount(ctx, "sample.csv")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(store))

	_, err = l.Mount(ctx, "other.csv")
	assert.True(t, core.IsPersistence(err))
	assert.Len(t, l.ListSources(), 1, "failed mount is undone")

	f.writeSample(t, "sample.csv", 50)
	_, err = l.Sync(ctx, core.ByKey("sample"))
	assert.True(t, core.IsPersistence(err))
	d, err := l.Describe(core.ByKey("sample"))
	require.NoError(t, err)
	assert.Equal(t, 200, d.Items, "failed sync is undone")

	_, err = l.Unmount(ctx, core.ByKey("sample"))
	assert.True(t, core.IsPersistence(err))
	_, err = l.Clear(ctx, false, core.ByKey("sample"))
	assert.True(t, core.IsPersistence(err))
	_, err = l.Clear(ctx, true, core.Selector{})
	assert.True(t, core.IsPersistence(err))
	require.Len(t, l.ListSources(), 1)

	require.NoError(t, os.MkdirAll(store, 0o755))
	n, err := l.Clear(ctx, true, core.Selector{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImportGraph(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t)
	a := src.open(t)
	_, err := a.Mount(ctx, "sample.csv")
	require.NoError(t, err)
	before, err := a.Describe(core.ByKey("sample"))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, a.Graph().ExportJSON(ctx, &buf))

	dst := newFixture(t)
	dst.cfg.Reference = ""
	dst.writeSample(t, "stale.csv", 20)
	b := dst.open(t)
	require.True(t, b.Model().Empty())

	require.NoError(t, b.ImportGraph(ctx, &buf))
	require.Len(t, b.ListSources(), 1)
	after, err := b.Describe(core.ByKey("sample"))
	require.NoError(t, err)
	assert.True(t, before.Date.Equal(after.Date))
	before.Date, after.Date = time.Time{}, time.Time{}
	assert.Equal(t, before, after)

	st := b.Stats()
	assert.Equal(t, 4, st.Reference.Levels)
	assert.Equal(t, 4, st.Index["num_entries"])

	// the imported catalog is persisted
	require.NoError(t, b.Close())
	b = dst.open(t)
	assert.Len(t, b.ListSources(), 1)

	assert.Error(t, b.ImportGraph(ctx, strings.NewReader(`{"metadata":{"format":"other"}}`)))
	assert.Len(t, b.ListSources(), 1)
}
