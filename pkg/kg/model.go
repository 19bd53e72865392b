// Package kg holds the reference model: dimensions, their levels and the
// members of each level, with optional rollup links to coarser levels and
// members.
//
// A Model is immutable once built and safe for concurrent readers.
package kg

import (
	"sort"
	"strings"

	"github.com/liliang-cn/semlake/pkg/core"
)

// Dimension is a top-level reference concept
type Dimension struct {
	ID string
}

// Level is a granularity within a dimension
type Level struct {
	ID        string
	Dimension string
	Rollup    string // Coarser level this one rolls up to, empty if none
}

// Member is a concrete value of a level
type Member struct {
	ID     string
	Name   string // Identifier as it appears in data files
	Level  string
	Rollup string // Parent member in the rollup level, empty if none
}

// Model is an immutable reference model
type Model struct {
	dimensions map[string]Dimension
	levels     map[string]Level
	members    map[string]Member

	dimensionIDs []string            // sorted
	levelIDs     []string            // sorted
	dimLevels    map[string][]string // dimension -> sorted level IDs
	levelMembers map[string][]string // level -> sorted member IDs
}

// Fragment returns the part of an IRI after the last '/' or '#'
func Fragment(iri string) string {
	if i := strings.LastIndexAny(iri, "/#"); i >= 0 {
		return iri[i+1:]
	}
	return iri
}

// Dimensions lists every dimension sorted by ID
func (m *Model) Dimensions() []Dimension {
	out := make([]Dimension, len(m.dimensionIDs))
	for i, id := range m.dimensionIDs {
		out[i] = m.dimensions[id]
	}
	return out
}

// Levels lists the levels of dim sorted by ID, or every level when dim is empty
func (m *Model) Levels(dim string) ([]Level, error) {
	ids := m.levelIDs
	if dim != "" {
		if _, ok := m.dimensions[dim]; !ok {
			return nil, core.NotFoundf("dimension %q not found", dim)
		}
		ids = m.dimLevels[dim]
	}
	out := make([]Level, len(ids))
	for i, id := range ids {
		out[i] = m.levels[id]
	}
	return out, nil
}

// Level returns the level with the given ID
func (m *Model) Level(id string) (Level, error) {
	l, ok := m.levels[id]
	if !ok {
		return Level{}, core.NotFoundf("level %q not found", id)
	}
	return l, nil
}

// Members lists the members of level sorted by ID
func (m *Model) Members(level string) ([]Member, error) {
	if _, ok := m.levels[level]; !ok {
		return nil, core.NotFoundf("level %q not found", level)
	}
	ids := m.levelMembers[level]
	out := make([]Member, len(ids))
	for i, id := range ids {
		out[i] = m.members[id]
	}
	return out, nil
}

// MemberNames lists the data identifiers of the members of level, sorted
func (m *Model) MemberNames(level string) ([]string, error) {
	members, err := m.Members(level)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(members))
	for i, mem := range members {
		names[i] = mem.Name
	}
	sort.Strings(names)
	return names, nil
}

// MemberCount returns the number of members of level, 0 for unknown levels
func (m *Model) MemberCount(level string) int {
	return len(m.levelMembers[level])
}

// Member returns the member with the given ID
func (m *Model) Member(id string) (Member, error) {
	mem, ok := m.members[id]
	if !ok {
		return Member{}, core.NotFoundf("member %q not found", id)
	}
	return mem, nil
}

// LevelOf resolves the level of a member
func (m *Model) LevelOf(member string) (Level, error) {
	mem, err := m.Member(member)
	if err != nil {
		return Level{}, err
	}
	return m.levels[mem.Level], nil
}

// Rollup returns the direct rollup parent of level. ok is false when the
// level does not roll up.
func (m *Model) Rollup(level string) (parent Level, ok bool, err error) {
	l, err := m.Level(level)
	if err != nil {
		return Level{}, false, err
	}
	if l.Rollup == "" {
		return Level{}, false, nil
	}
	return m.levels[l.Rollup], true, nil
}

// RollupChain returns every level level transitively rolls up to, nearest first
func (m *Model) RollupChain(level string) ([]Level, error) {
	l, err := m.Level(level)
	if err != nil {
		return nil, err
	}
	var chain []Level
	for l.Rollup != "" {
		l = m.levels[l.Rollup]
		chain = append(chain, l)
	}
	return chain, nil
}

// MemberRollup returns the parent of member. ok is false when it has none.
func (m *Model) MemberRollup(member string) (parent Member, ok bool, err error) {
	mem, err := m.Member(member)
	if err != nil {
		return Member{}, false, err
	}
	if mem.Rollup == "" {
		return Member{}, false, nil
	}
	return m.members[mem.Rollup], true, nil
}

// Stats holds entity counts
type Stats struct {
	Dimensions int
	Levels     int
	Members    int
}

// Stats returns the entity counts of the model
func (m *Model) Stats() Stats {
	return Stats{
		Dimensions: len(m.dimensions),
		Levels:     len(m.levels),
		Members:    len(m.members),
	}
}

// Empty reports whether the model has no levels
func (m *Model) Empty() bool {
	return len(m.levels) == 0
}
