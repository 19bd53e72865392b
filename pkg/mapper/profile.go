package mapper

import (
	"sort"

	"github.com/liliang-cn/semlake/pkg/catalog"
	"github.com/liliang-cn/semlake/pkg/kg"
)

// Profile is the value distribution of a column over the members of a level
type Profile struct {
	Counts    map[string]int // Member ID -> rows holding the member name, zero counts omitted
	Distinct  int            // Distinct values in the column
	Other     int            // Distinct values matching no member
	OtherRows int            // Rows holding a value matching no member
}

// ComputeProfile counts the rows of values holding each member's name.
func ComputeProfile(values []string, members []kg.Member) Profile {
	byName := make(map[string]string, len(members))
	for _, m := range members {
		byName[m.Name] = m.ID
	}

	p := Profile{Counts: make(map[string]int)}
	seen := make(map[string]bool)
	unmatched := make(map[string]struct{})
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			p.Distinct++
		}
		id, ok := byName[v]
		if !ok {
			unmatched[v] = struct{}{}
			p.OtherRows++
			continue
		}
		p.Counts[id]++
	}
	p.Other = len(unmatched)
	return p
}

// otherFrequency is the value stored under the other bucket
func otherFrequency(p Profile) int {
	return p.Other
}

// Elements returns the profile as catalog elements sorted by member, with
// the other bucket last when it is non-empty.
func (p Profile) Elements() []catalog.ProfileElement {
	out := make([]catalog.ProfileElement, 0, len(p.Counts)+1)
	for id, n := range p.Counts {
		out = append(out, catalog.ProfileElement{Member: id, Frequency: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member < out[j].Member })
	if other := otherFrequency(p); other > 0 {
		out = append(out, catalog.ProfileElement{Member: catalog.OtherMember, Frequency: other})
	}
	return out
}
