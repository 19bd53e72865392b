package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/graph"
)

func sampleSource(id string) Source {
	return Source{
		ID:       id,
		Location: "/data/" + id + ".csv",
		Items:    100,
		Date:     time.Date(2024, 3, 1, 12, 30, 0, 123, time.UTC),
		Domains: []Domain{
			{Name: "L0_D0"},
			{Name: "attr 0"},
		},
	}
}

func TestAddSourceAndReads(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddSource(sampleSource("sales")))
	require.NoError(t, c.AddSource(sampleSource("orders")))

	err := c.AddSource(sampleSource("sales"))
	assert.True(t, core.IsAlreadyExists(err), "duplicate mount: %v", err)

	sources := c.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "orders", sources[0].ID)
	assert.Equal(t, "sales", sources[1].ID)

	s, err := c.Source("sales")
	require.NoError(t, err)
	assert.Equal(t, "sales_L0_D0", s.Domains[0].Key)
	assert.Equal(t, "sales_attr_0", s.Domains[1].Key, "spaces in keys are replaced")

	_, err = c.Source("missing")
	assert.True(t, core.IsNotFound(err))

	loc, ok := c.SourceByLocation("/data/orders.csv")
	assert.True(t, ok)
	assert.Equal(t, "orders", loc.ID)
	assert.Equal(t, []string{"/data/orders.csv", "/data/sales.csv"}, c.Locations())

	// returned sources are copies
	s.Domains[0].Level = "tampered"
	again, _ := c.Source("sales")
	assert.Empty(t, again.Domains[0].Level)
}

func TestResolve(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddSource(sampleSource("b")))
	require.NoError(t, c.AddSource(sampleSource("a")))

	s, err := c.Resolve(core.ByID(0))
	require.NoError(t, err)
	assert.Equal(t, "a", s.ID)

	s, err = c.Resolve(core.ByKey("b"))
	require.NoError(t, err)
	assert.Equal(t, "b", s.ID)

	_, err = c.Resolve(core.ByID(5))
	assert.True(t, core.IsNotFound(err))
	_, err = c.Resolve(core.ByKey("zzz"))
	assert.True(t, core.IsNotFound(err))
	_, err = c.Resolve(core.Selector{})
	assert.True(t, core.IsInvalidState(err))
}

func TestClearIsIdempotent(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddSource(sampleSource("s")))

	assert.True(t, c.Clear("s"))
	assert.False(t, c.Clear("s"), "second clear reports nothing removed")
	assert.False(t, c.Clear("never-mounted"))
	assert.Empty(t, c.Sources())

	require.NoError(t, c.AddSource(sampleSource("s")), "remount after clear")
	require.NoError(t, c.AddSource(sampleSource("t")))
	assert.Equal(t, 2, c.ClearAll())
	assert.Equal(t, 0, c.ClearAll())
	assert.Equal(t, 0, c.Len())
}

func TestReplaceAndReset(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddSource(sampleSource("s")))

	updated := sampleSource("s")
	updated.Items = 99
	require.NoError(t, c.Replace(updated))
	s, err := c.Source("s")
	require.NoError(t, err)
	assert.Equal(t, 99, s.Items)

	require.NoError(t, c.Replace(sampleSource("t")), "replace adds a missing source")
	assert.Equal(t, 2, c.Len())
	assert.Error(t, c.Replace(Source{}))

	snapshot := c.Sources()
	c.ClearAll()
	require.NoError(t, c.Reset(snapshot))
	assert.Equal(t, snapshot, c.Sources())

	err = c.Reset([]Source{sampleSource("u"), sampleSource("u")})
	assert.True(t, core.IsAlreadyExists(err))
	assert.Equal(t, snapshot, c.Sources(), "failed reset keeps the content")
}

func TestMappingAndProfiles(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddSource(sampleSource("s")))

	profile := []ProfileElement{
		{Member: "3_L0_D0", Frequency: 4},
		{Member: "1_L0_D0", Frequency: 7},
		{Member: OtherMember, Frequency: 2},
	}
	require.NoError(t, c.CommitDomain("s", "L0_D0", "L0_D0", profile))

	level, mapped, err := c.Level("s", "s_L0_D0")
	require.NoError(t, err)
	assert.True(t, mapped)
	assert.Equal(t, "L0_D0", level)

	_, mapped, err = c.Level("s", "attr 0")
	require.NoError(t, err)
	assert.False(t, mapped)

	mappedDomains, err := c.MappedDomains("s")
	require.NoError(t, err)
	require.Len(t, mappedDomains, 1)
	assert.Equal(t, "L0_D0", mappedDomains[0].Name)

	got, err := c.Profiles("s", "L0_D0")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1_L0_D0": 7, "3_L0_D0": 4, OtherMember: 2}, got)

	vec, err := c.ProfileVector("s", "L0_D0", []string{"3_L0_D0", "2_L0_D0", "1_L0_D0"})
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 0, 4}, vec)

	// SetProfile replaces, never merges
	require.NoError(t, c.SetProfile("s", "L0_D0", []ProfileElement{{Member: "2_L0_D0", Frequency: 1}}))
	got, _ = c.Profiles("s", "L0_D0")
	assert.Equal(t, map[string]int{"2_L0_D0": 1}, got)

	assert.True(t, core.IsNotFound(c.MapDomain("s", "nope", "L0_D0")))
	assert.True(t, core.IsNotFound(c.MapDomain("nope", "L0_D0", "L0_D0")))
	assert.True(t, core.IsComputation(c.MapDomain("s", "L0_D0", "")))
}

func TestConcurrentWriters(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddSource(sampleSource("s")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.CommitDomain("s", "L0_D0", "L0_D0", []ProfileElement{{Member: "m", Frequency: i}})
			_, _ = c.Profiles("s", "L0_D0")
		}(i)
	}
	wg.Wait()

	got, err := c.Profiles("s", "L0_D0")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func populated(t *testing.T, p Persister) *Catalog {
	t.Helper()
	c := New(p)
	require.NoError(t, c.AddSource(sampleSource("sales")))
	require.NoError(t, c.AddSource(sampleSource("orders")))
	require.NoError(t, c.CommitDomain("sales", "L0_D0", "L0_D0", []ProfileElement{
		{Member: "1_L0_D0", Frequency: 7},
		{Member: OtherMember, Frequency: 3},
	}))
	require.NoError(t, c.SetSignature("sales", Signature{
		Levels: []string{"L0_D0"},
		Seed:   1,
		Slots:  []uint32{1, 2, 4294967295},
		Size:   9,
		Rows:   100,
	}))
	return c
}

func assertSameCatalog(t *testing.T, want, got *Catalog) {
	t.Helper()
	ws, gs := want.Sources(), got.Sources()
	require.Len(t, gs, len(ws))
	for i := range ws {
		assert.True(t, ws[i].Date.Equal(gs[i].Date), "date of %s", ws[i].ID)
		ws[i].Date, gs[i].Date = time.Time{}, time.Time{}
		assert.Equal(t, ws[i], gs[i])
	}
}

func TestGraphPersisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	g, err := graph.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	p := NewGraphPersister(g)
	c := populated(t, p)
	require.NoError(t, c.Persist(ctx))

	reloaded, err := Open(ctx, p)
	require.NoError(t, err)
	assertSameCatalog(t, c, reloaded)

	// a second persist replaces the subgraph rather than appending to it
	c.Clear("orders")
	require.NoError(t, c.Persist(ctx))
	reloaded, err = Open(ctx, p)
	require.NoError(t, err)
	assertSameCatalog(t, c, reloaded)

	counts, err := g.CountNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[NodeSource])
	assert.Equal(t, 2, counts[NodeDomain])
	assert.Equal(t, 2, counts[NodeProfile])
}

func TestPersistersKeepLargeSeed(t *testing.T) {
	ctx := context.Background()
	g, err := graph.Open(ctx, filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	const seed = int64(1)<<62 + 1
	persisters := map[string]Persister{
		"graph": NewGraphPersister(g),
		"file":  NewFilePersister(filepath.Join(t.TempDir(), "seed.json")),
	}
	for name, p := range persisters {
		t.Run(name, func(t *testing.T) {
			c := New(p)
			require.NoError(t, c.AddSource(Source{ID: "s", Location: "/data/s.csv"}))
			require.NoError(t, c.SetSignature("s", Signature{Seed: seed, Slots: []uint32{1, 2}, Size: 1, Rows: 1}))
			require.NoError(t, c.Persist(ctx))

			reloaded, err := Open(ctx, p)
			require.NoError(t, err)
			s, err := reloaded.Source("s")
			require.NoError(t, err)
			require.NotNil(t, s.Signature)
			assert.Equal(t, seed, s.Signature.Seed)
		})
	}
}

func TestFilePersisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.json")
	p := NewFilePersister(path)

	empty, err := Open(ctx, p)
	require.NoError(t, err, "missing file is an empty catalog")
	assert.Equal(t, 0, empty.Len())

	c := populated(t, p)
	require.NoError(t, c.Persist(ctx))

	reloaded, err := Open(ctx, p)
	require.NoError(t, err)
	assertSameCatalog(t, c, reloaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestFilePersisterCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(context.Background(), NewFilePersister(path))
	assert.True(t, core.IsPersistence(err), "got %v", err)

	require.NoError(t, os.WriteFile(path, []byte(`{"format":"other"}`), 0o644))
	_, err = Open(context.Background(), NewFilePersister(path))
	assert.True(t, core.IsPersistence(err), "got %v", err)
}

func TestFilePersisterFailureKeepsPreviousFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	p := NewFilePersister(path)

	c := populated(t, p)
	require.NoError(t, c.Persist(ctx))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	bad := NewFilePersister(filepath.Join(dir, "missing", "catalog.json"))
	err = bad.Save(ctx, c.Sources())
	assert.True(t, core.IsPersistence(err))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
