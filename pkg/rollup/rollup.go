// Package rollup aggregates domain profiles up the member hierarchy and
// measures how much of a level a domain covers.
package rollup

import (
	"sort"

	"github.com/liliang-cn/semlake/pkg/catalog"
	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/kg"
)

// Evaluator reads profiles from a catalog and hierarchy from a model
type Evaluator struct {
	model   *kg.Model
	catalog *catalog.Catalog
}

// New creates an Evaluator
func New(model *kg.Model, cat *catalog.Catalog) *Evaluator {
	return &Evaluator{model: model, catalog: cat}
}

// ProfileUp sums the profile of a domain by the rollup parent of every
// member. The other bucket and members without a parent are dropped.
func (e *Evaluator) ProfileUp(source, domain string) (map[string]int, error) {
	d, err := e.mappedDomain(source, domain)
	if err != nil {
		return nil, err
	}
	up := make(map[string]int)
	for _, el := range d.Profile {
		if el.Member == catalog.OtherMember {
			continue
		}
		parent, ok, err := e.model.MemberRollup(el.Member)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		up[parent.ID] += el.Frequency
	}
	return up, nil
}

// ProfileUpElements is ProfileUp as elements sorted by member
func (e *Evaluator) ProfileUpElements(source, domain string) ([]catalog.ProfileElement, error) {
	up, err := e.ProfileUp(source, domain)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.ProfileElement, 0, len(up))
	for m, n := range up {
		out = append(out, catalog.ProfileElement{Member: m, Frequency: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member < out[j].Member })
	return out, nil
}

// Completeness is the fraction of the mapped level's members present in
// the domain profile.
func (e *Evaluator) Completeness(source, domain string) (float64, error) {
	d, err := e.mappedDomain(source, domain)
	if err != nil {
		return 0, err
	}
	total := e.model.MemberCount(d.Level)
	if total == 0 {
		return 0, core.Computationf("level %q has no members", d.Level)
	}
	covered := 0
	for _, el := range d.Profile {
		if el.Member != catalog.OtherMember && el.Frequency > 0 {
			covered++
		}
	}
	return float64(covered) / float64(total), nil
}

func (e *Evaluator) mappedDomain(source, domain string) (catalog.Domain, error) {
	d, err := e.catalog.Domain(source, domain)
	if err != nil {
		return d, err
	}
	if !d.Mapped() {
		return d, core.InvalidStatef("domain %q of source %q is not mapped", domain, source)
	}
	return d, nil
}
