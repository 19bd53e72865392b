package mapper

import (
	"context"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/liliang-cn/semlake/internal/tabular"
)

// Timing summarises durations in seconds
type Timing struct {
	Mean   float64
	StdDev float64
	Median float64
	Total  float64
}

// Evaluation is the outcome of a dry-run mapping over tables whose level
// columns are named after the level they hold.
type Evaluation struct {
	Columns        int
	Expected       int     // Columns named after a level of the model
	Correct        int     // Expected columns mapped to their own level
	Wrong          int     // Expected columns mapped to another level
	FalsePositives int     // Other columns mapped to some level
	Effectiveness  float64 // Correct / Expected, 0 when nothing is expected

	Hash    Timing
	Query   Timing
	Profile Timing
}

// Evaluate maps the columns of every table without touching the catalog
func (m *Mapper) Evaluate(ctx context.Context, tables []*tabular.Table) (*Evaluation, error) {
	ev := &Evaluation{}
	var hash, query, profile []float64

	for _, t := range tables {
		results, err := m.MapColumns(ctx, ColumnsOf(t))
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			ev.Columns++
			_, levelErr := m.model.Level(r.Column)
			expected := levelErr == nil
			switch {
			case expected && r.Level == r.Column:
				ev.Expected++
				ev.Correct++
			case expected:
				ev.Expected++
				if r.Mapped() {
					ev.Wrong++
				}
			case r.Mapped():
				ev.FalsePositives++
			}

			hash = append(hash, r.HashTime.Seconds())
			query = append(query, r.QueryTime.Seconds())
			if r.Mapped() {
				profile = append(profile, r.ProfileTime.Seconds())
			}
		}
	}
	if ev.Expected > 0 {
		ev.Effectiveness = float64(ev.Correct) / float64(ev.Expected)
	}
	ev.Hash = summarise(hash)
	ev.Query = summarise(query)
	ev.Profile = summarise(profile)

	m.logger.Info("evaluation finished",
		"columns", ev.Columns,
		"effectiveness", ev.Effectiveness,
		"false_positives", ev.FalsePositives,
		"query_mean", time.Duration(ev.Query.Mean*float64(time.Second)))
	return ev, nil
}

func summarise(samples []float64) Timing {
	if len(samples) == 0 {
		return Timing{}
	}
	data := stats.Float64Data(samples)
	var t Timing
	t.Mean, _ = data.Mean()
	t.StdDev, _ = data.StandardDeviation()
	t.Median, _ = data.Median()
	t.Total, _ = data.Sum()
	return t
}
