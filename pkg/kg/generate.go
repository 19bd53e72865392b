package kg

import (
	"fmt"

	"github.com/liliang-cn/semlake/pkg/core"
)

// GenerateOptions shapes a synthetic reference model
type GenerateOptions struct {
	Dimensions int // Number of dimensions D0..Dn-1
	Levels     int // Levels per dimension, L0 is the coarsest
	Population int // Members of L0, and children per member of each finer level
	Growth     int // Multiplier applied to Population, 1 when zero
}

// Generate builds a synthetic model. Level L{l}_D{d} rolls up to
// L{l-1}_D{d}; member {n}_L{l}_D{d} rolls up to its parent in the coarser
// level. Member numbering restarts at 0 in every level.
func Generate(opt GenerateOptions) (*Model, error) {
	if opt.Dimensions <= 0 || opt.Levels <= 0 || opt.Population <= 0 {
		return nil, core.Computationf("dimensions, levels and population must be positive")
	}
	growth := opt.Growth
	if growth <= 0 {
		growth = 1
	}
	perParent := opt.Population * growth

	b := NewBuilder()
	for d := 0; d < opt.Dimensions; d++ {
		dim := fmt.Sprintf("D%d", d)
		b.AddDimension(dim)

		var parents []string
		for l := 0; l < opt.Levels; l++ {
			level := fmt.Sprintf("L%d_D%d", l, d)
			rollup := ""
			if l > 0 {
				rollup = fmt.Sprintf("L%d_D%d", l-1, d)
			}
			b.AddLevel(level, dim, rollup)

			var population []string
			if l == 0 {
				for n := 0; n < perParent; n++ {
					id := fmt.Sprintf("%d_%s", n, level)
					b.AddMember(id, level, "")
					population = append(population, id)
				}
			} else {
				for _, parent := range parents {
					for i := 0; i < perParent; i++ {
						id := fmt.Sprintf("%d_%s", len(population), level)
						b.AddMember(id, level, parent)
						population = append(population, id)
					}
				}
			}
			parents = population
		}
	}
	return b.Build()
}
