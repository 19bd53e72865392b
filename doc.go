// Package semlake is a semantic catalog for tabular data lakes.
//
// semlake keeps a reference knowledge graph of dimensions, levels and
// members. When a CSV source is mounted, each column is matched against
// every level with MinHash sketches and a size-partitioned LSH Ensemble.
// Matching is approximate, so full value sets are never compared. Mapped
// columns get a member frequency profile, and every source keeps a combined
// row signature from which the joinability of two sources is estimated.
// Everything is stored in one SQLite database through modernc.org/sqlite, so
// no cgo is required.
//
// # Key Features
//
//   - Containment matching - columns map to the level whose members contain
//     their distinct values, however different the set sizes are.
//   - Profiles - member frequencies per mapped column, rolled up the member
//     hierarchy on demand, with completeness against the level.
//   - Joinability - bisection over containment thresholds between the row
//     signatures of two sources.
//   - Durable catalog - sources, domains, mappings and profiles persist as a
//     property graph, or as one JSON document.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/liliang-cn/semlake/pkg/core"
//	    "github.com/liliang-cn/semlake/pkg/lake"
//	)
//
//	func main() {
//	    cfg := core.DefaultConfig()
//	    cfg.Database = "lake.db"
//	    cfg.Reference = "reference.nt"
//
//	    l, err := lake.Open(context.Background(), cfg)
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer l.Close()
//
//	    res, _ := l.Mount(context.Background(), "sales.csv")
//	    desc, _ := l.Describe(core.ByKey(res.Source))
//	    _ = desc
//	}
//
// # Packages
//
//   - pkg/minhash: MinHash sketches
//   - pkg/index: LSH Ensemble over level member sets
//   - pkg/kg: reference model, N-Triples import and graph persistence
//   - pkg/catalog: sources, domains and profiles
//   - pkg/mapper: column to level mapping and profiling
//   - pkg/joiner: joinability estimation
//   - pkg/rollup: rolled-up profiles and completeness
//   - pkg/lake: the operations used by the semlake command
//
// # Command Line
//
//	semlake --reference reference.nt mount sales.csv
//	semlake describe sales
//	semlake profile sales region --up
//	semlake join sales orders
//	semlake console --metrics-addr :9090
package semlake
