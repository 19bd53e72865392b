// Package catalog stores mounted sources, their column domains, the level
// each domain is mapped to and the value-frequency profile of every mapped
// domain.
//
// The Catalog allows one writer at a time; readers get copies and never
// observe a partially applied update. Durable storage is delegated to a
// Persister.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liliang-cn/semlake/pkg/core"
)

// OtherMember is the profile bucket for values matching no member
const OtherMember = "other"

// ProfileElement is the frequency of one member in a domain
type ProfileElement struct {
	Member    string `json:"member"`
	Frequency int    `json:"frequency"`
}

// Domain is one column of a source
type Domain struct {
	Name    string           `json:"name"`            // Column name
	Key     string           `json:"key"`             // <source>_<column>, spaces replaced
	Level   string           `json:"level,omitempty"` // Mapped level, empty when unmapped
	Profile []ProfileElement `json:"profile,omitempty"`
}

// Mapped reports whether the domain is mapped to a level
func (d Domain) Mapped() bool { return d.Level != "" }

// Signature is the combined row sketch of the mapped columns of a source.
// Levels lists the level of every combined column in combination order.
type Signature struct {
	Levels []string `json:"levels"`
	Seed   int64    `json:"seed"`
	Slots  []uint32 `json:"slots"`
	Size   int      `json:"size"` // Estimated distinct combined rows
	Rows   int      `json:"rows"`
}

// Source is a mounted dataset
type Source struct {
	ID        string     `json:"id"`
	Location  string     `json:"location"`
	Items     int        `json:"items"`
	Date      time.Time  `json:"date"`
	Domains   []Domain   `json:"domains"`
	Signature *Signature `json:"signature,omitempty"`
}

// DomainKey builds the key of column name in source
func DomainKey(source, column string) string {
	return strings.ReplaceAll(source+"_"+column, " ", "_")
}

// Domain finds a domain by key or column name
func (s *Source) Domain(ref string) (*Domain, bool) {
	for i := range s.Domains {
		if s.Domains[i].Key == ref || s.Domains[i].Name == ref {
			return &s.Domains[i], true
		}
	}
	return nil, false
}

func (s *Source) clone() Source {
	out := *s
	out.Domains = make([]Domain, len(s.Domains))
	for i, d := range s.Domains {
		out.Domains[i] = d
		out.Domains[i].Profile = append([]ProfileElement(nil), d.Profile...)
	}
	if s.Signature != nil {
		sig := *s.Signature
		sig.Levels = append([]string(nil), s.Signature.Levels...)
		sig.Slots = append([]uint32(nil), s.Signature.Slots...)
		out.Signature = &sig
	}
	return out
}

// Persister stores and restores the whole catalog
type Persister interface {
	Load(ctx context.Context) ([]Source, error)
	Save(ctx context.Context, sources []Source) error
}

// Catalog is the in-memory catalog
type Catalog struct {
	mu        sync.RWMutex
	sources   map[string]*Source
	persister Persister
	logger    core.Logger
	metrics   *core.Metrics
}

// Option configures a Catalog
type Option func(*Catalog)

// WithLogger sets the catalog logger
func WithLogger(logger core.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the collectors updated by the catalog
func WithMetrics(m *core.Metrics) Option {
	return func(c *Catalog) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates an empty catalog. A nil persister keeps it in memory only.
func New(p Persister, opts ...Option) *Catalog {
	c := &Catalog{
		sources:   make(map[string]*Source),
		persister: p,
		logger:    core.NopLogger(),
		metrics:   core.NopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open creates a catalog and loads its content from p
func Open(ctx context.Context, p Persister, opts ...Option) (*Catalog, error) {
	c := New(p, opts...)
	if p == nil {
		return c, nil
	}
	sources, err := p.Load(ctx)
	if err != nil {
		return nil, core.WrapError("open catalog", err)
	}
	for i := range sources {
		if err := c.AddSource(sources[i]); err != nil {
			return nil, core.WrapError("open catalog", err)
		}
	}
	c.logger.Info("catalog loaded", "sources", len(sources))
	return c, nil
}

// AddSource adds a source. Domain keys are derived when empty.
func (c *Catalog) AddSource(src Source) error {
	stored, err := prepare(src)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.sources[stored.ID]; dup {
		return core.AlreadyExistsf("source %q already mounted", stored.ID)
	}
	c.sources[stored.ID] = &stored
	c.metrics.SourcesMounted.Set(float64(len(c.sources)))
	return nil
}

// Replace stores src in place of the source with the same ID in one
// update, adding it when there is none.
func (c *Catalog) Replace(src Source) error {
	stored, err := prepare(src)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sources[stored.ID] = &stored
	c.metrics.SourcesMounted.Set(float64(len(c.sources)))
	return nil
}

// Reset replaces the whole content of the catalog with sources. Nothing
// changes when one of them is invalid.
func (c *Catalog) Reset(sources []Source) error {
	next := make(map[string]*Source, len(sources))
	for _, src := range sources {
		stored, err := prepare(src)
		if err != nil {
			return err
		}
		if _, dup := next[stored.ID]; dup {
			return core.AlreadyExistsf("source %q listed twice", stored.ID)
		}
		next[stored.ID] = &stored
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sources = next
	c.metrics.SourcesMounted.Set(float64(len(c.sources)))
	return nil
}

// prepare validates src and returns the copy to store
func prepare(src Source) (Source, error) {
	if src.ID == "" {
		return Source{}, core.Computationf("source with empty ID")
	}
	stored := src.clone()
	stored.Date = stored.Date.Round(0)
	seen := make(map[string]bool, len(stored.Domains))
	for i := range stored.Domains {
		d := &stored.Domains[i]
		if d.Key == "" {
			d.Key = DomainKey(stored.ID, d.Name)
		}
		if seen[d.Key] {
			return Source{}, core.AlreadyExistsf("source %q: duplicate domain %q", stored.ID, d.Key)
		}
		seen[d.Key] = true
		sortProfile(d.Profile)
	}
	return stored, nil
}

// Clear removes a source with its domains and profiles. Clearing an
// unknown source is not an error; removed reports whether it existed.
func (c *Catalog) Clear(id string) (removed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sources[id]; !ok {
		return false
	}
	delete(c.sources, id)
	c.metrics.SourcesMounted.Set(float64(len(c.sources)))
	c.logger.Debug("source cleared", "source", id)
	return true
}

// ClearAll removes every source and returns how many there were
func (c *Catalog) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.sources)
	c.sources = make(map[string]*Source)
	c.metrics.SourcesMounted.Set(0)
	return n
}

// Len returns the number of sources
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sources)
}

// Sources lists every source sorted by ID. The position of a source in this
// list is its numeric selector.
func (c *Catalog) Sources() []Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked()
}

func (c *Catalog) sortedLocked() []Source {
	out := make([]Source, 0, len(c.sources))
	for _, s := range c.sources {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Source returns the source with the given ID
func (c *Catalog) Source(id string) (Source, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sources[id]
	if !ok {
		return Source{}, core.NotFoundf("source %q not found", id)
	}
	return s.clone(), nil
}

// Has reports whether a source with the given ID exists
func (c *Catalog) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sources[id]
	return ok
}

// SourceByLocation finds the source mounted from location
func (c *Catalog) SourceByLocation(location string) (Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.sources {
		if s.Location == location {
			return s.clone(), true
		}
	}
	return Source{}, false
}

// Locations returns the storage location of every source, sorted
func (c *Catalog) Locations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		out = append(out, s.Location)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the source a selector points at. A zero selector is
// InvalidState, an unknown one NotFound.
func (c *Catalog) Resolve(sel core.Selector) (Source, error) {
	if sel.IsZero() {
		return Source{}, core.InvalidStatef("no source selected")
	}
	if id, ok := sel.ID(); ok {
		c.mu.RLock()
		defer c.mu.RUnlock()
		sorted := c.sortedLocked()
		if int(id) >= len(sorted) {
			return Source{}, core.NotFoundf("no source at position %d", id)
		}
		return sorted[id], nil
	}
	key, _ := sel.Key()
	return c.Source(key)
}

// update applies fn to the stored domain under the write lock
func (c *Catalog) update(source, domain string, fn func(*Source, *Domain) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sources[source]
	if !ok {
		return core.NotFoundf("source %q not found", source)
	}
	d, ok := s.Domain(domain)
	if !ok {
		return core.NotFoundf("domain %q not found in source %q", domain, source)
	}
	return fn(s, d)
}

// MapDomain maps a domain to a level
func (c *Catalog) MapDomain(source, domain, level string) error {
	if level == "" {
		return core.Computationf("empty level")
	}
	return c.update(source, domain, func(_ *Source, d *Domain) error {
		d.Level = level
		return nil
	})
}

// SetProfile replaces the profile of a domain
func (c *Catalog) SetProfile(source, domain string, profile []ProfileElement) error {
	profile = append([]ProfileElement(nil), profile...)
	sortProfile(profile)
	return c.update(source, domain, func(_ *Source, d *Domain) error {
		d.Profile = profile
		return nil
	})
}

// CommitDomain maps a domain and replaces its profile in one update
func (c *Catalog) CommitDomain(source, domain, level string, profile []ProfileElement) error {
	if level == "" {
		return core.Computationf("empty level")
	}
	profile = append([]ProfileElement(nil), profile...)
	sortProfile(profile)
	return c.update(source, domain, func(_ *Source, d *Domain) error {
		d.Level = level
		d.Profile = profile
		return nil
	})
}

// SetSignature stores the combined row signature of a source
func (c *Catalog) SetSignature(source string, sig Signature) error {
	sig.Levels = append([]string(nil), sig.Levels...)
	sig.Slots = append([]uint32(nil), sig.Slots...)

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sources[source]
	if !ok {
		return core.NotFoundf("source %q not found", source)
	}
	s.Signature = &sig
	return nil
}

// MappedDomains returns the mapped domains of a source in column order
func (c *Catalog) MappedDomains(source string) ([]Domain, error) {
	s, err := c.Source(source)
	if err != nil {
		return nil, err
	}
	var out []Domain
	for _, d := range s.Domains {
		if d.Mapped() {
			out = append(out, d)
		}
	}
	return out, nil
}

// Domain returns one domain of a source by key or column name
func (c *Catalog) Domain(source, domain string) (Domain, error) {
	s, err := c.Source(source)
	if err != nil {
		return Domain{}, err
	}
	d, ok := s.Domain(domain)
	if !ok {
		return Domain{}, core.NotFoundf("domain %q not found in source %q", domain, source)
	}
	return *d, nil
}

// Level returns the level a domain is mapped to; mapped is false when it
// is not mapped.
func (c *Catalog) Level(source, domain string) (level string, mapped bool, err error) {
	d, err := c.Domain(source, domain)
	if err != nil {
		return "", false, err
	}
	return d.Level, d.Mapped(), nil
}

// Profiles returns the profile of a domain as member -> frequency
func (c *Catalog) Profiles(source, domain string) (map[string]int, error) {
	d, err := c.Domain(source, domain)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(d.Profile))
	for _, e := range d.Profile {
		out[e.Member] = e.Frequency
	}
	return out, nil
}

// ProfileVector returns the frequencies of members in sorted member order,
// 0 for members absent from the profile.
func (c *Catalog) ProfileVector(source, domain string, members []string) ([]float64, error) {
	profile, err := c.Profiles(source, domain)
	if err != nil {
		return nil, err
	}
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)

	out := make([]float64, len(sorted))
	for i, m := range sorted {
		out[i] = float64(profile[m])
	}
	return out, nil
}

// Persist writes the catalog through its persister
func (c *Catalog) Persist(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	c.mu.RLock()
	snapshot := c.sortedLocked()
	c.mu.RUnlock()

	start := time.Now()
	if err := c.persister.Save(ctx, snapshot); err != nil {
		return core.WrapError("persist catalog", err)
	}
	c.logger.Debug("catalog persisted", "sources", len(snapshot), "elapsed", time.Since(start))
	return nil
}

func sortProfile(p []ProfileElement) {
	sort.Slice(p, func(i, j int) bool { return p[i].Member < p[j].Member })
}
