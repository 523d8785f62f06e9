package dscale_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dscale "github.com/Rqbln/dscale"
	"github.com/Rqbln/dscale/field"
	"github.com/Rqbln/dscale/raster"
	"github.com/Rqbln/dscale/station"
)

const geographic = "+proj=longlat +datum=WGS84 +no_defs"

// coarsePlane builds a 6x6 degree field with value 2*lon + 3*lat.
func coarsePlane(t *testing.T) *field.CoarseField {
	t.Helper()
	ax := []float64{0, 1, 2, 3, 4, 5}
	vals := make([]float64, 0, 36)
	for _, la := range ax {
		for _, lo := range ax {
			vals = append(vals, 2*lo+3*la)
		}
	}
	cf, err := field.NewCoarseField(ax, ax, vals, time.Date(2018, 7, 15, 0, 0, 0, 0, time.UTC), "tx")
	require.NoError(t, err)
	return cf
}

// gridSource serves the same plane for every date, optionally refusing one
// whole year the way a missing archive file would.
type gridSource struct {
	cf      *field.CoarseField
	badYear int
}

func (g gridSource) FieldFor(d time.Time) (*field.CoarseField, error) {
	if g.badYear != 0 && d.Year() == g.badYear {
		return nil, &field.NoArchiveError{Year: d.Year(), Path: "missing.nc"}
	}
	return g.cf, nil
}

// writeNDVISet drops one ndvi member covering July 2018 on a fine lon/lat
// grid over [1,3]x[1,3]; every cell carries raw count 127 (ndvi 0.0).
func writeNDVISet(t *testing.T, dir string) *raster.Set {
	t.Helper()
	def := raster.Definition{Ncol: 10, Nrow: 10, Ulx: 1, Uly: 3, Cs: 0.2, Proj4: geographic}
	raw := make([]byte, 100)
	for i := range raw {
		raw[i] = 127
	}
	require.NoError(t, raster.WriteRaw(dir+"/ndvi_2018-07-01_2018-08-01.bil", def, raster.Byte, raw))
	s, err := raster.OpenSet(dir, "ndvi", raster.NDVIEncoding)
	require.NoError(t, err)
	require.Len(t, s.Members, 1)
	return s
}

func day(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

func TestBuildCubeJoinsAndTargets(t *testing.T) {
	cf := coarsePlane(t)
	ndvi := writeNDVISet(t, t.TempDir())
	metas := map[int]station.Meta{
		1: {ID: 1, Lat: 1.5, Lon: 2.5, Elevation: 120},
		2: {ID: 2, Lat: 2.2, Lon: 1.7, Elevation: 40},
	}
	obs := []station.Obs{
		{ID: 1, Date: day(2018, 7, 10), Value: 13.0},
		{ID: 2, Date: day(2018, 7, 11), Value: 10.5},
	}

	b := dscale.CubeBuilder{Baseline: gridSource{cf: cf}, NDVI: ndvi, Cfg: dscale.DefaultConfig()}
	cube, sum, err := b.BuildCube(metas, obs, station.SeriesSummary{})
	require.NoError(t, err)
	require.Len(t, cube.Recs, 2)
	assert.Equal(t, 2, sum.NAccepted)

	r := cube.Recs[0]
	baseline := cf.SampleBilinear(2.5, 1.5) // 2*2.5 + 3*1.5 = 9.5
	assert.InDelta(t, 9.5, baseline, 1e-9)
	assert.InDelta(t, baseline, r.Feat[0], 1e-9)
	assert.InDelta(t, 0.0, r.Feat[1], 1e-9) // decoded ndvi
	assert.Equal(t, 120.0, r.Feat[2])
	assert.Equal(t, 1.5, r.Feat[3])
	assert.Equal(t, 2.5, r.Feat[4])
	assert.Equal(t, float64(day(2018, 7, 10).YearDay()), r.Feat[5])
	// the target is exactly observation minus baseline
	assert.InDelta(t, 13.0-baseline, r.Target, 1e-9)
	assert.Equal(t, 13.0, r.Obs)

	assert.Equal(t, []int{1, 2}, cube.Stations())
}

func TestBuildCubeDropCounters(t *testing.T) {
	cf := coarsePlane(t)
	ndvi := writeNDVISet(t, t.TempDir())
	metas := map[int]station.Meta{
		1: {ID: 1, Lat: 1.5, Lon: 2.5},
		2: {ID: 2, Lat: 4.5, Lon: 4.5}, // inside coarse span, off the ndvi grid
	}
	obs := []station.Obs{
		{ID: 1, Date: day(2018, 7, 10), Value: 12.0},  // accepted
		{ID: 1, Date: day(2018, 7, 12), Value: 99.0},  // residual beyond bound
		{ID: 1, Date: day(2018, 10, 1), Value: 12.0},  // no ndvi window
		{ID: 2, Date: day(2018, 7, 10), Value: 12.0},  // outside covariate raster
		{ID: 3, Date: day(2018, 7, 10), Value: 12.0},  // unknown station
		{ID: 1, Date: day(2017, 7, 10), Value: 12.0},  // year with no archive
		{ID: 1, Date: day(2017, 7, 11), Value: 12.0},  // same, skipped via year cache
	}

	b := dscale.CubeBuilder{Baseline: gridSource{cf: cf, badYear: 2017}, NDVI: ndvi, Cfg: dscale.DefaultConfig()}
	cube, sum, err := b.BuildCube(metas, obs, station.SeriesSummary{})
	require.NoError(t, err)

	assert.Len(t, cube.Recs, 1)
	assert.Equal(t, 1, sum.NAccepted)
	assert.Equal(t, 1, sum.NOutlier)
	assert.Equal(t, 1, sum.NNoCovarWindow)
	assert.Equal(t, 1, sum.NOutsideRaster)
	assert.Equal(t, 1, sum.NMalformed)
	assert.Equal(t, 2, sum.NNoBaseline)
	assert.Equal(t, []int{2017}, sum.SkippedYears)
	assert.Equal(t, len(obs), sum.NObs)
}

func TestBuildCubeCovariateErrorCounter(t *testing.T) {
	cf := coarsePlane(t)

	// a member whose projection cannot be parsed is a configuration
	// fault, counted apart from geometry drops
	dir := t.TempDir()
	def := raster.Definition{Ncol: 10, Nrow: 10, Ulx: 1, Uly: 3, Cs: 0.2, Proj4: "+proj=bogus +datum=WGS84 +no_defs"}
	raw := make([]byte, 100)
	require.NoError(t, raster.WriteRaw(dir+"/ndvi_2018-07-01_2018-08-01.bil", def, raster.Byte, raw))
	ndvi, err := raster.OpenSet(dir, "ndvi", raster.NDVIEncoding)
	require.NoError(t, err)

	metas := map[int]station.Meta{1: {ID: 1, Lat: 1.5, Lon: 2.5}}
	obs := []station.Obs{{ID: 1, Date: day(2018, 7, 10), Value: 12.0}}

	b := dscale.CubeBuilder{Baseline: gridSource{cf: cf}, NDVI: ndvi, Cfg: dscale.DefaultConfig()}
	cube, sum, err := b.BuildCube(metas, obs, station.SeriesSummary{})
	require.NoError(t, err)
	assert.Empty(t, cube.Recs)
	assert.Equal(t, 1, sum.NCovarError)
	assert.Zero(t, sum.NNoCovarWindow)
	assert.Zero(t, sum.NOutsideRaster)
}

func TestBuildCubeZeroCovariateOverlap(t *testing.T) {
	cf := coarsePlane(t)
	ndvi := writeNDVISet(t, t.TempDir()) // covers July 2018 only
	metas := map[int]station.Meta{1: {ID: 1, Lat: 1.5, Lon: 2.5}}
	obs := []station.Obs{
		{ID: 1, Date: day(2018, 1, 10), Value: 2.0},
		{ID: 1, Date: day(2018, 2, 11), Value: 3.0},
	}

	b := dscale.CubeBuilder{Baseline: gridSource{cf: cf}, NDVI: ndvi, Cfg: dscale.DefaultConfig()}
	cube, sum, err := b.BuildCube(metas, obs, station.SeriesSummary{})
	require.NoError(t, err)
	assert.Empty(t, cube.Recs)
	assert.Equal(t, 2, sum.NNoCovarWindow)
	assert.Zero(t, sum.NAccepted)
}

func TestBuildCubeCarriesCleaningCounts(t *testing.T) {
	cf := coarsePlane(t)
	ndvi := writeNDVISet(t, t.TempDir())
	b := dscale.CubeBuilder{Baseline: gridSource{cf: cf}, NDVI: ndvi, Cfg: dscale.DefaultConfig()}

	cleaned := station.SeriesSummary{NQualityRejected: 7, NMissing: 3, NMalformed: 1}
	_, sum, err := b.BuildCube(map[int]station.Meta{}, nil, cleaned)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.NQualityRejected)
	assert.Equal(t, 3, sum.NMissingValue)
	assert.Equal(t, 1, sum.NMalformed)
}

func TestBuildCubeRequiresSources(t *testing.T) {
	b := dscale.CubeBuilder{}
	_, _, err := b.BuildCube(nil, nil, station.SeriesSummary{})
	assert.Error(t, err)
}
