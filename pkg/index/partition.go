package index

import (
	"context"
	"sort"

	"github.com/liliang-cn/semlake/pkg/minhash"
)

// partition holds the entries of one contiguous size range and a banded
// table for every row count in [1, MaxR].
type partition struct {
	lower, upper int
	entries      map[string]Entry
	tables       []*bandedLSH // tables[r-1] has r rows per band
}

// PartitionInfo describes one partition of an Ensemble
type PartitionInfo struct {
	Lower int // Smallest set size in the partition
	Upper int // Largest set size in the partition
	Count int // Number of entries
}

// equiDepthBounds splits entries, already sorted by size, into at most
// numPart runs of roughly equal length. A run boundary never separates two
// entries of the same size.
func equiDepthBounds(sorted []Entry, numPart int) [][2]int {
	n := len(sorted)
	if n == 0 {
		return nil
	}
	if numPart > n {
		numPart = n
	}

	depth := (n + numPart - 1) / numPart
	var bounds [][2]int
	start := 0
	for start < n {
		end := start + depth
		if end >= n {
			end = n
		} else {
			for end < n && sorted[end].Size == sorted[end-1].Size {
				end++
			}
		}
		bounds = append(bounds, [2]int{start, end})
		start = end
	}
	return bounds
}

func buildPartition(ctx context.Context, cfg Config, entries []Entry) (*partition, error) {
	p := &partition{
		lower:   entries[0].Size,
		upper:   entries[len(entries)-1].Size,
		entries: make(map[string]Entry, len(entries)),
		tables:  make([]*bandedLSH, cfg.MaxR),
	}
	for _, e := range entries {
		p.entries[e.Key] = e
	}

	for r := 1; r <= cfg.MaxR; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		table := newBandedLSH(cfg.NumPerm, r)
		for _, e := range entries {
			table.insert(e.Key, e.Sketch)
		}
		p.tables[r-1] = table
	}
	return p, nil
}

// query returns the entries of p whose estimated containment of the query
// set reaches threshold.
func (p *partition) query(s *minhash.Sketch, size int, threshold float64, params []bandParams) ([]Match, error) {
	bp := paramsFor(params, p.upper, size)
	keys := p.tables[bp.Rows-1].candidates(s, bp.Bands)
	if len(keys) == 0 {
		return nil, nil
	}

	var matches []Match
	for _, key := range keys {
		e := p.entries[key]
		j, err := s.Jaccard(e.Sketch)
		if err != nil {
			return nil, err
		}
		c := minhash.Containment(j, size, e.Size)
		if c >= threshold {
			matches = append(matches, Match{
				Key:         key,
				Size:        e.Size,
				Jaccard:     j,
				Containment: c,
			})
		}
	}
	return matches, nil
}

func (p *partition) info() PartitionInfo {
	return PartitionInfo{Lower: p.lower, Upper: p.upper, Count: len(p.entries)}
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Size != entries[j].Size {
			return entries[i].Size < entries[j].Size
		}
		return entries[i].Key < entries[j].Key
	})
}
