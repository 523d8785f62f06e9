package dscale

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	mrg63k3a "github.com/maseology/goRNG/MRG63k3a"
	"gonum.org/v1/gonum/stat"

	"github.com/Rqbln/dscale/rf"
)

// Split assigns every distinct station to exactly one side. Partitioning
// is always by station identity, never by row: a row-level split lets the
// model memorize a held-out station's spatially autocorrelated neighbors
// and silently inflates reported skill.
type Split struct {
	Train, Test map[int]bool
}

// SplitByStation holds out frac of the distinct station IDs, shuffled on a
// fixed seed so a given (cube, seed) always produces the same partition.
func SplitByStation(c *Cube, frac float64, seed int64) Split {
	ids := c.Stations()
	rng := rand.New(mrg63k3a.New())
	rng.Seed(seed)
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	ntest := int(float64(len(ids)) * frac)
	sp := Split{Train: map[int]bool{}, Test: map[int]bool{}}
	for i, id := range ids {
		if i < ntest {
			sp.Test[id] = true
		} else {
			sp.Train[id] = true
		}
	}
	return sp
}

// GeoAxis selects the coordinate a geographic split thresholds on.
type GeoAxis int

const (
	ByLatitude GeoAxis = iota
	ByLongitude
)

// SplitGeographic holds out the stations beyond the median coordinate,
// testing directional generalization (e.g. train south, test north).
func SplitGeographic(c *Cube, axis GeoAxis) Split {
	coord := map[int]float64{}
	for _, r := range c.Recs {
		if axis == ByLatitude {
			coord[r.StaID] = r.Feat[fLat]
		} else {
			coord[r.StaID] = r.Feat[fLon]
		}
	}
	vs := make([]float64, 0, len(coord))
	for _, v := range coord {
		vs = append(vs, v)
	}
	sort.Float64s(vs)
	med := stat.Quantile(0.5, stat.Empirical, vs, nil)

	sp := Split{Train: map[int]bool{}, Test: map[int]bool{}}
	for id, v := range coord {
		if v <= med {
			sp.Train[id] = true
		} else {
			sp.Test[id] = true
		}
	}
	return sp
}

// Train fits the residual forest on the split's training stations and
// reports held-out skill. Too few distinct stations for a meaningful
// spatial partition refuses with a diagnostic instead of fitting a model
// that only memorized its inputs.
func Train(c *Cube, sp Split, cfg Config) (*TrainedModel, *Metrics, error) {
	nsta := len(sp.Train) + len(sp.Test)
	if nsta < cfg.MinStations {
		return nil, nil, fmt.Errorf("dscale.Train: %d distinct stations after filtering, need at least %d for a spatial split", nsta, cfg.MinStations)
	}
	if len(sp.Train) == 0 || len(sp.Test) == 0 {
		return nil, nil, fmt.Errorf("dscale.Train: degenerate split (%d train / %d test stations)", len(sp.Train), len(sp.Test))
	}

	var trn, tst []TrainingRecord
	for _, r := range c.Recs {
		if sp.Train[r.StaID] {
			trn = append(trn, r)
		} else if sp.Test[r.StaID] {
			tst = append(tst, r)
		} else {
			return nil, nil, fmt.Errorf("dscale.Train: station %d in neither partition", r.StaID)
		}
	}
	fmt.Printf(" spatial split: %d train stations (%d records), %d test stations (%d records)\n",
		len(sp.Train), len(trn), len(sp.Test), len(tst))

	X, y := toMatrix(trn)
	forest, err := rf.Fit(X, y, rf.Config{
		NTrees:   cfg.NTrees,
		MaxDepth: cfg.MaxDepth,
		MinSplit: cfg.MinSplit,
		MinLeaf:  cfg.MinLeaf,
		Seed:     cfg.Seed,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dscale.Train: %v", err)
	}

	ids := make([]int, 0, len(sp.Train))
	for id := range sp.Train {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	t0, t1 := dateRange(c.Recs)
	m := &TrainedModel{
		Forest:       forest,
		FeatureNames: append([]string{}, FeatureNames...),
		StationIDs:   ids,
		Start:        t0,
		End:          t1,
		TrainedAt:    time.Now().UTC(),
	}
	mets := EvaluateHoldout(m, tst)
	return m, mets, nil
}

func toMatrix(recs []TrainingRecord) ([][]float64, []float64) {
	X, y := make([][]float64, len(recs)), make([]float64, len(recs))
	for i, r := range recs {
		row := r.Feat // copy
		X[i] = row[:]
		y[i] = r.Target
	}
	return X, y
}

func dateRange(recs []TrainingRecord) (t0, t1 time.Time) {
	for i, r := range recs {
		if i == 0 || r.Date.Before(t0) {
			t0 = r.Date
		}
		if i == 0 || r.Date.After(t1) {
			t1 = r.Date
		}
	}
	return t0, t1
}
