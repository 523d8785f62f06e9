package dscale

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/maseology/mmio"

	"github.com/Rqbln/dscale/crs"
	"github.com/Rqbln/dscale/field"
	"github.com/Rqbln/dscale/raster"
	"github.com/Rqbln/dscale/station"
)

// BaselineSource yields the coarse plane for a date. field.Archive is the
// production implementation; tests inject synthetic grids.
type BaselineSource interface {
	FieldFor(date time.Time) (*field.CoarseField, error)
}

// CubeBuilder joins the three sources into the training table. It owns
// only per-call buffers; the archives it points at are read-only.
type CubeBuilder struct {
	Baseline BaselineSource
	NDVI     *raster.Set
	Cfg      Config

	trs map[string]*crs.Transform // per-CRS transform cache
}

// BuildCube walks the cleaned observations and emits one TrainingRecord
// per fully-joined sample. Missing year archives skip that year's
// observations with a warning; every other drop is counted per stage.
func (b *CubeBuilder) BuildCube(metas map[int]station.Meta, obs []station.Obs, cleaned station.SeriesSummary) (*Cube, *BuildSummary, error) {
	if b.Baseline == nil || b.NDVI == nil {
		return nil, nil, fmt.Errorf("dscale.BuildCube: baseline and covariate sources are required")
	}
	if b.trs == nil {
		b.trs = map[string]*crs.Transform{}
	}
	tt := mmio.NewTimer()

	sum := &BuildSummary{
		NObs:             len(obs),
		NQualityRejected: cleaned.NQualityRejected,
		NMissingValue:    cleaned.NMissing,
		NMalformed:       cleaned.NMalformed,
	}
	cube := &Cube{}
	badYears := map[int]bool{}

	for i, o := range obs {
		if i > 0 && i%25000 == 0 {
			fmt.Printf("  %s observations joined..\n", mmio.Thousands(int64(i)))
		}
		m, ok := metas[o.ID]
		if !ok {
			sum.NMalformed++
			continue
		}
		yr := o.Date.Year()
		if badYears[yr] {
			sum.NNoBaseline++
			continue
		}

		cf, err := b.Baseline.FieldFor(o.Date)
		if err != nil {
			var nae *field.NoArchiveError
			if errors.As(err, &nae) {
				fmt.Printf("  warning: %v; skipping year\n", err)
				badYears[yr] = true
			}
			sum.NNoBaseline++
			continue
		}
		baseline := cf.SampleBilinear(m.Lon, m.Lat)
		if math.IsNaN(baseline) {
			sum.NNoBaseline++
			continue
		}

		ndvi, stage := b.covariateAt(m.Lon, m.Lat, o)
		if stage != nil {
			stage(sum)
			continue
		}

		target := o.Value - baseline
		if math.Abs(target) > b.Cfg.ResidualBound {
			sum.NOutlier++
			continue
		}
		cube.Recs = append(cube.Recs, TrainingRecord{
			Date:   o.Date,
			StaID:  o.ID,
			Feat:   featureRow(baseline, ndvi, m.Elevation, m.Lat, m.Lon, o.Date.YearDay()),
			Obs:    o.Value,
			Target: target,
		})
	}

	sum.NAccepted = len(cube.Recs)
	for y := range badYears {
		sum.SkippedYears = append(sum.SkippedYears, y)
	}
	sort.Ints(sum.SkippedYears)
	tt.Lap(fmt.Sprintf("cube built: %d records from %d observations", sum.NAccepted, sum.NObs))
	return cube, sum, nil
}

// covariateAt resolves and single-pixel-reads the covariate for one
// observation. The second return names the drop counter to bump, nil on
// success.
func (b *CubeBuilder) covariateAt(lon, lat float64, o station.Obs) (float64, func(*BuildSummary)) {
	mem := b.NDVI.Resolve(o.Date)
	if mem == nil {
		return 0, func(s *BuildSummary) { s.NNoCovarWindow++ }
	}
	tr, err := b.transform(mem.Def.Proj4)
	if err != nil {
		return 0, func(s *BuildSummary) { s.NCovarError++ }
	}
	x, y, err := tr.ToProjected(lon, lat)
	if err != nil {
		return 0, func(s *BuildSummary) { s.NCovarError++ }
	}
	if _, _, ok := mem.Def.Index(x, y); !ok {
		return 0, func(s *BuildSummary) { s.NOutsideRaster++ }
	}
	v, err := mem.ReadPoint(x, y)
	if err != nil {
		return 0, func(s *BuildSummary) { s.NCovarError++ }
	}
	if math.IsNaN(v) {
		return 0, func(s *BuildSummary) { s.NSentinel++ }
	}
	return v, nil
}

func (b *CubeBuilder) transform(proj4 string) (*crs.Transform, error) {
	if tr, ok := b.trs[proj4]; ok {
		return tr, nil
	}
	tr, err := crs.New(proj4)
	if err != nil {
		return nil, err
	}
	b.trs[proj4] = tr
	return tr, nil
}
