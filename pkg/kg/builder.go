package kg

import (
	"sort"

	"github.com/liliang-cn/semlake/pkg/core"
)

// Builder accumulates reference entities and validates them in Build.
// The first invalid Add is reported by Build.
type Builder struct {
	dimensions map[string]Dimension
	levels     map[string]Level
	members    map[string]Member
	err        error
}

// NewBuilder creates an empty Builder
func NewBuilder() *Builder {
	return &Builder{
		dimensions: make(map[string]Dimension),
		levels:     make(map[string]Level),
		members:    make(map[string]Member),
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// AddDimension adds a dimension
func (b *Builder) AddDimension(id string) *Builder {
	if id == "" {
		return b.fail(core.Computationf("dimension with empty ID"))
	}
	if _, dup := b.dimensions[id]; dup {
		return b.fail(core.AlreadyExistsf("dimension %q defined twice", id))
	}
	b.dimensions[id] = Dimension{ID: id}
	return b
}

// AddLevel adds a level of dimension. rollup may be empty.
func (b *Builder) AddLevel(id, dimension, rollup string) *Builder {
	if id == "" {
		return b.fail(core.Computationf("level with empty ID"))
	}
	if _, dup := b.levels[id]; dup {
		return b.fail(core.AlreadyExistsf("level %q defined twice", id))
	}
	b.levels[id] = Level{ID: id, Dimension: dimension, Rollup: rollup}
	return b
}

// AddMember adds a member of level. Its Name is the fragment of id.
// rollup may be empty.
func (b *Builder) AddMember(id, level, rollup string) *Builder {
	if id == "" {
		return b.fail(core.Computationf("member with empty ID"))
	}
	if _, dup := b.members[id]; dup {
		return b.fail(core.AlreadyExistsf("member %q defined twice", id))
	}
	b.members[id] = Member{ID: id, Name: Fragment(id), Level: level, Rollup: rollup}
	return b
}

// Build validates the references between entities and returns the Model
func (b *Builder) Build() (*Model, error) {
	if b.err != nil {
		return nil, b.err
	}

	m := &Model{
		dimensions:   make(map[string]Dimension, len(b.dimensions)),
		levels:       make(map[string]Level, len(b.levels)),
		members:      make(map[string]Member, len(b.members)),
		dimLevels:    make(map[string][]string),
		levelMembers: make(map[string][]string),
	}

	for id, d := range b.dimensions {
		m.dimensions[id] = d
		m.dimensionIDs = append(m.dimensionIDs, id)
	}

	for id, l := range b.levels {
		if _, ok := b.dimensions[l.Dimension]; !ok {
			return nil, core.NotFoundf("level %q: dimension %q not found", id, l.Dimension)
		}
		if l.Rollup != "" {
			if _, ok := b.levels[l.Rollup]; !ok {
				return nil, core.NotFoundf("level %q: rollup level %q not found", id, l.Rollup)
			}
		}
		m.levels[id] = l
		m.levelIDs = append(m.levelIDs, id)
		m.dimLevels[l.Dimension] = append(m.dimLevels[l.Dimension], id)
	}

	for id := range b.levels {
		seen := map[string]bool{id: true}
		for next := b.levels[id].Rollup; next != ""; next = b.levels[next].Rollup {
			if seen[next] {
				return nil, core.Computationf("level %q: rollup cycle through %q", id, next)
			}
			seen[next] = true
		}
	}

	for id, mem := range b.members {
		level, ok := b.levels[mem.Level]
		if !ok {
			return nil, core.NotFoundf("member %q: level %q not found", id, mem.Level)
		}
		if mem.Rollup != "" {
			parent, ok := b.members[mem.Rollup]
			if !ok {
				return nil, core.NotFoundf("member %q: rollup member %q not found", id, mem.Rollup)
			}
			if level.Rollup == "" || parent.Level != level.Rollup {
				return nil, core.Computationf("member %q rolls up to %q outside the rollup level of %q",
					id, mem.Rollup, mem.Level)
			}
		}
		m.members[id] = mem
		m.levelMembers[mem.Level] = append(m.levelMembers[mem.Level], id)
	}

	sort.Strings(m.dimensionIDs)
	sort.Strings(m.levelIDs)
	for _, ids := range m.dimLevels {
		sort.Strings(ids)
	}
	for _, ids := range m.levelMembers {
		sort.Strings(ids)
	}
	return m, nil
}
