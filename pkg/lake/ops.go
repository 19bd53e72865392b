package lake

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/liliang-cn/semlake/internal/tabular"
	"github.com/liliang-cn/semlake/pkg/catalog"
	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/index"
	"github.com/liliang-cn/semlake/pkg/joiner"
	"github.com/liliang-cn/semlake/pkg/kg"
	"github.com/liliang-cn/semlake/pkg/mapper"
)

// MountStatus is the outcome of Mount
type MountStatus int

const (
	// Mounted means the file was read, mapped and added to the catalog
	Mounted MountStatus = iota
	// AlreadyMounted means a source with the same location exists
	AlreadyMounted
	// FileNotFound means the path does not exist
	FileNotFound
)

func (s MountStatus) String() string {
	switch s {
	case Mounted:
		return "mounted"
	case AlreadyMounted:
		return "already mounted"
	case FileNotFound:
		return "file not found"
	default:
		return "unknown"
	}
}

// UnmountStatus is the outcome of Unmount
type UnmountStatus int

const (
	// Unmounted means the source was removed
	Unmounted UnmountStatus = iota
	// NoSourceSelected means the selector was empty
	NoSourceSelected
)

func (s UnmountStatus) String() string {
	if s == Unmounted {
		return "unmounted"
	}
	return "no source selected"
}

// ProfileMode selects the granularity of Profile
type ProfileMode int

const (
	// Exact returns the profile over the mapped level
	Exact ProfileMode = iota
	// RolledUp sums the profile over the rollup parent level
	RolledUp
)

// MountResult describes a mount
type MountResult struct {
	Status   MountStatus
	Source   string // Source ID, set unless FileNotFound
	Location string
	Columns  []mapper.Result
}

// SourceInfo is one line of ListSources
type SourceInfo struct {
	ID       string
	Location string
	Items    int
}

// DomainInfo describes one domain of a source
type DomainInfo struct {
	Name         string
	Key          string
	Level        string
	Mapped       bool
	Completeness float64 // Fraction of the mapped level covered, 0 when unmapped
}

// Description is the result of Describe
type Description struct {
	ID       string
	Location string
	Items    int
	Date     time.Time
	Domains  []DomainInfo
}

// Stats summarises the lake
type Stats struct {
	Sources    int
	Reference  kg.Stats
	Index      map[string]interface{}
	Partitions []index.PartitionInfo
}

func (l *Lake) resolvePath(path string) (string, error) {
	if !filepath.IsAbs(path) && l.cfg.Datasets != "" {
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(l.cfg.Datasets, path)
		}
	}
	return filepath.Abs(path)
}

// Mount reads the file at path, maps its columns and adds it to the catalog
func (l *Lake) Mount(ctx context.Context, path string) (*MountResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mountLocked(ctx, path)
}

func (l *Lake) mountLocked(ctx context.Context, path string) (*MountResult, error) {
	location, err := l.resolvePath(path)
	if err != nil {
		return nil, core.WrapError("mount", err)
	}
	res := &MountResult{Location: location}

	if info, err := os.Stat(location); err != nil || info.IsDir() {
		res.Status = FileNotFound
		return res, nil
	}
	if existing, ok := l.catalog.SourceByLocation(location); ok {
		res.Status = AlreadyMounted
		res.Source = existing.ID
		return res, nil
	}

	ref := l.ref.Load()
	if ref.mapper == nil {
		return nil, core.InvalidStatef("no reference model loaded")
	}

	id := l.sourceID(location)
	table, results, err := l.mapFile(ctx, ref, catalog.Source{ID: id, Location: location})
	if err != nil {
		return nil, core.WrapError("mount", err)
	}
	if err := l.persist(ctx, func() { l.catalog.Clear(id) }); err != nil {
		return nil, err
	}

	res.Status = Mounted
	res.Source = id
	res.Columns = results
	l.logger.Info("source mounted", "source", id, "location", location, "items", table.Rows)
	return res, nil
}

// mapFile reads the file at src.Location and maps it into the catalog as src
func (l *Lake) mapFile(ctx context.Context, ref *reference, src catalog.Source) (*tabular.Table, []mapper.Result, error) {
	table, err := tabular.ReadFile(ctx, src.Location, tabular.DefaultOptions())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", src.Location)
	}
	src.Date = time.Now().UTC()
	results, err := ref.mapper.MapSource(ctx, src, table)
	return table, results, err
}

// persist writes the catalog. When the write fails undo reverts the
// in-memory change so memory and storage stay the same.
func (l *Lake) persist(ctx context.Context, undo func()) error {
	err := l.catalog.Persist(ctx)
	if err != nil {
		undo()
		l.logger.Warn("catalog change rolled back", "error", err)
	}
	return err
}

// sourceID derives an unused identifier from the file name
func (l *Lake) sourceID(location string) string {
	base := strings.TrimSuffix(filepath.Base(location), filepath.Ext(location))
	base = strings.ReplaceAll(base, " ", "_")
	if base == "" {
		base = "source"
	}
	id := base
	for n := 1; l.catalog.Has(id); n++ {
		id = base + "_" + strconv.Itoa(n)
	}
	return id
}

// Unmount removes the selected source. An empty selector reports
// NoSourceSelected.
func (l *Lake) Unmount(ctx context.Context, sel core.Selector) (UnmountStatus, error) {
	if sel.IsZero() {
		return NoSourceSelected, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src, err := l.catalog.Resolve(sel)
	if err != nil {
		return NoSourceSelected, core.WrapError("unmount", err)
	}
	l.catalog.Clear(src.ID)
	if err := l.persist(ctx, func() { _ = l.catalog.AddSource(src) }); err != nil {
		return NoSourceSelected, err
	}
	l.logger.Info("source unmounted", "source", src.ID)
	return Unmounted, nil
}

// Sync reads the selected source again from its location, keeping its ID,
// and swaps the new content in. The previous content is kept when its file
// no longer exists or the new content cannot be read, mapped or persisted.
func (l *Lake) Sync(ctx context.Context, sel core.Selector) (*MountResult, error) {
	if sel.IsZero() {
		return nil, core.InvalidStatef("no source selected")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src, err := l.catalog.Resolve(sel)
	if err != nil {
		return nil, core.WrapError("sync", err)
	}
	if _, err := os.Stat(src.Location); err != nil {
		return &MountResult{Status: FileNotFound, Source: src.ID, Location: src.Location}, nil
	}
	ref := l.ref.Load()
	if ref.mapper == nil {
		return nil, core.InvalidStatef("no reference model loaded")
	}

	table, results, err := l.mapFile(ctx, ref, catalog.Source{ID: src.ID, Location: src.Location})
	if err != nil {
		return nil, core.WrapError("sync", err)
	}
	if err := l.persist(ctx, func() { _ = l.catalog.Replace(src) }); err != nil {
		return nil, err
	}
	l.logger.Info("source synced", "source", src.ID, "items", table.Rows)
	return &MountResult{Status: Mounted, Source: src.ID, Location: src.Location, Columns: results}, nil
}

// ListSources lists every source. The position in the list is the numeric
// selector of the source.
func (l *Lake) ListSources() []SourceInfo {
	sources := l.catalog.Sources()
	out := make([]SourceInfo, len(sources))
	for i, s := range sources {
		out[i] = SourceInfo{ID: s.ID, Location: s.Location, Items: s.Items}
	}
	return out
}

// Describe returns the metadata of a source and the mapping and
// completeness of each of its domains.
func (l *Lake) Describe(sel core.Selector) (*Description, error) {
	src, err := l.catalog.Resolve(sel)
	if err != nil {
		return nil, core.WrapError("describe", err)
	}
	ref := l.ref.Load()

	d := &Description{ID: src.ID, Location: src.Location, Items: src.Items, Date: src.Date}
	for _, dom := range src.Domains {
		info := DomainInfo{Name: dom.Name, Key: dom.Key, Level: dom.Level, Mapped: dom.Mapped()}
		if info.Mapped {
			c, err := ref.rollup.Completeness(src.ID, dom.Key)
			if err != nil {
				return nil, core.WrapError("describe", err)
			}
			info.Completeness = c
		}
		d.Domains = append(d.Domains, info)
	}
	return d, nil
}

// Profile returns the member frequencies of a mapped domain
func (l *Lake) Profile(sel core.Selector, domain string, mode ProfileMode) (map[string]int, error) {
	src, err := l.catalog.Resolve(sel)
	if err != nil {
		return nil, core.WrapError("profile", err)
	}
	if domain == "" {
		return nil, core.InvalidStatef("no domain selected")
	}
	d, err := l.catalog.Domain(src.ID, domain)
	if err != nil {
		return nil, core.WrapError("profile", err)
	}
	if !d.Mapped() {
		return nil, core.InvalidStatef("domain %q is not mapped", domain)
	}

	if mode == RolledUp {
		up, err := l.ref.Load().rollup.ProfileUp(src.ID, d.Key)
		return up, core.WrapError("profile", err)
	}
	p, err := l.catalog.Profiles(src.ID, d.Key)
	return p, core.WrapError("profile", err)
}

// ProfileAll returns the profile of every mapped domain, keyed by domain name
func (l *Lake) ProfileAll(sel core.Selector, mode ProfileMode) (map[string]map[string]int, error) {
	src, err := l.catalog.Resolve(sel)
	if err != nil {
		return nil, core.WrapError("profile", err)
	}
	out := make(map[string]map[string]int)
	for _, d := range src.Domains {
		if !d.Mapped() {
			continue
		}
		p, err := l.Profile(core.ByKey(src.ID), d.Key, mode)
		if err != nil {
			return nil, err
		}
		out[d.Name] = p
	}
	return out, nil
}

// ProfileVector returns the frequencies of a mapped domain aligned to the
// sorted member IDs of its level.
func (l *Lake) ProfileVector(sel core.Selector, domain string) ([]string, []float64, error) {
	src, err := l.catalog.Resolve(sel)
	if err != nil {
		return nil, nil, core.WrapError("profile vector", err)
	}
	level, mapped, err := l.catalog.Level(src.ID, domain)
	if err != nil {
		return nil, nil, core.WrapError("profile vector", err)
	}
	if !mapped {
		return nil, nil, core.InvalidStatef("domain %q is not mapped", domain)
	}
	members, err := l.ref.Load().model.Members(level)
	if err != nil {
		return nil, nil, core.WrapError("profile vector", err)
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	vec, err := l.catalog.ProfileVector(src.ID, domain, ids)
	if err != nil {
		return nil, nil, core.WrapError("profile vector", err)
	}
	return ids, vec, nil
}

// Clear removes every source when all is set, otherwise the selected one.
// Clearing a source that is not mounted is not an error. It returns the
// number of sources removed.
func (l *Lake) Clear(ctx context.Context, all bool, sel core.Selector) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if all {
		snapshot := l.catalog.Sources()
		n := l.catalog.ClearAll()
		if err := l.persist(ctx, func() { _ = l.catalog.Reset(snapshot) }); err != nil {
			return 0, err
		}
		return n, nil
	}

	if sel.IsZero() {
		return 0, core.InvalidStatef("no source selected")
	}
	src, err := l.catalog.Resolve(sel)
	switch {
	case core.IsNotFound(err):
		return 0, nil
	case err != nil:
		return 0, err
	}
	if !l.catalog.Clear(src.ID) {
		return 0, nil
	}
	if err := l.persist(ctx, func() { _ = l.catalog.AddSource(src) }); err != nil {
		return 0, err
	}
	return 1, nil
}

// Joinability estimates the containment of the rows of b in the rows of a
// from their stored combined signatures.
func (l *Lake) Joinability(ctx context.Context, a, b core.Selector) (*joiner.Estimate, error) {
	s1, err := l.signatureOf(a)
	if err != nil {
		return nil, err
	}
	s2, err := l.signatureOf(b)
	if err != nil {
		return nil, err
	}
	est, err := l.estimator.Estimate(ctx, s1, s2)
	return est, core.WrapError("joinability", err)
}

func (l *Lake) signatureOf(sel core.Selector) (*joiner.Signature, error) {
	src, err := l.catalog.Resolve(sel)
	if err != nil {
		return nil, core.WrapError("joinability", err)
	}
	if src.Signature == nil {
		return nil, core.InvalidStatef("source %q has no mapped columns", src.ID)
	}
	return joiner.FromCatalog(*src.Signature)
}

// Evaluate maps the given files without cataloguing them
func (l *Lake) Evaluate(ctx context.Context, paths []string) (*mapper.Evaluation, error) {
	ref := l.ref.Load()
	if ref.mapper == nil {
		return nil, core.InvalidStatef("no reference model loaded")
	}
	tables := make([]*tabular.Table, 0, len(paths))
	for _, p := range paths {
		location, err := l.resolvePath(p)
		if err != nil {
			return nil, err
		}
		t, err := tabular.ReadFile(ctx, location, tabular.DefaultOptions())
		if err != nil {
			return nil, core.WrapError("evaluate", errors.Wrapf(err, "read %s", location))
		}
		tables = append(tables, t)
	}
	return ref.mapper.Evaluate(ctx, tables)
}

// Stats returns entity counts and index statistics
func (l *Lake) Stats() Stats {
	ref := l.ref.Load()
	st := Stats{Sources: l.catalog.Len(), Reference: ref.model.Stats()}
	if ref.index != nil {
		st.Index = ref.index.Stats()
		st.Partitions = ref.index.Partitions()
	}
	return st
}
