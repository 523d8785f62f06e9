package raster_test

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rqbln/dscale/raster"
)

func fullDense(nr, nc int, f func(r, c int) float64) *sparse.DenseArray {
	a := sparse.ZerosDense(nr, nc)
	for r := 0; r < nr; r++ {
		for c := 0; c < nc; c++ {
			a.Set(f(r, c), r, c)
		}
	}
	return a
}

func TestNDVIDecode(t *testing.T) {
	e := raster.NDVIEncoding
	assert.Equal(t, -1.0, e.Decode(0))
	assert.Equal(t, 1.0, e.Decode(254))
	assert.InDelta(t, 0.0, e.Decode(127), 1e-9)
	assert.True(t, math.IsNaN(e.Decode(255)))
}

func TestElevationDecode(t *testing.T) {
	e := raster.ElevationEncoding
	assert.Equal(t, 512.0, e.Decode(512))
	assert.Equal(t, -3.0, e.Decode(-3))
	assert.True(t, math.IsNaN(e.Decode(-32768)))
}

func TestDefinitionIndex(t *testing.T) {
	d := raster.Definition{Ncol: 10, Nrow: 8, Ulx: 100, Uly: 200, Cs: 5}

	c, r, ok := d.Index(112, 191)
	require.True(t, ok)
	assert.Equal(t, 2, c)
	assert.Equal(t, 1, r)

	x, y := d.CellCentre(2, 1)
	assert.Equal(t, 112.5, x)
	assert.Equal(t, 192.5, y)

	_, _, ok = d.Index(99, 191)
	assert.False(t, ok)
	_, _, ok = d.Index(112, 201)
	assert.False(t, ok)
}

func TestCrop(t *testing.T) {
	d := raster.Definition{Ncol: 100, Nrow: 100, Ulx: 0, Uly: 100, Cs: 1, Proj4: "x"}

	cd, w, err := d.Crop(10.2, 20.2, 30.8, 40.8)
	require.NoError(t, err)
	assert.Equal(t, raster.Window{Col: 10, Row: 59, Ncol: 21, Nrow: 21}, w)
	assert.Equal(t, 10.0, cd.Ulx)
	assert.Equal(t, 41.0, cd.Uly)
	assert.Equal(t, 21, cd.Ncol)
	assert.Equal(t, 21, cd.Nrow)
	assert.Equal(t, d.Proj4, cd.Proj4)

	// partial overlap clamps to coverage
	cd, w, err = d.Crop(-50, 90, 5, 150)
	require.NoError(t, err)
	assert.Equal(t, raster.Window{Col: 0, Row: 0, Ncol: 5, Nrow: 10}, w)
	assert.Equal(t, 0.0, cd.Ulx)
	assert.Equal(t, 100.0, cd.Uly)

	// fully outside
	_, _, err = d.Crop(200, 200, 300, 300)
	assert.Error(t, err)
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fp := dir + "/ndvi_2018-07-01_2018-08-01.bil"
	d := raster.Definition{Ncol: 4, Nrow: 3, Ulx: 0, Uly: 3, Cs: 1, Proj4: "+proj=longlat +datum=WGS84 +no_defs"}

	raw := make([]byte, 12)
	for i := range raw {
		raw[i] = byte(i * 20)
	}
	raw[5] = 255 // sentinel at (1,1)
	require.NoError(t, raster.WriteRaw(fp, d, raster.Byte, raw))

	f, err := raster.Open(fp, raster.NDVIEncoding)
	require.NoError(t, err)
	assert.Equal(t, d.Ncol, f.Def.Ncol)
	assert.Equal(t, d.Nrow, f.Def.Nrow)
	assert.InDelta(t, d.Ulx, f.Def.Ulx, 1e-9)
	assert.InDelta(t, d.Uly, f.Def.Uly, 1e-9)
	assert.Equal(t, d.Proj4, f.Def.Proj4)

	full, err := f.ReadWindow(raster.Window{Col: 0, Row: 0, Ncol: 4, Nrow: 3})
	require.NoError(t, err)
	assert.InDelta(t, raster.NDVIEncoding.Decode(0), full.Get(0, 0), 1e-9)
	assert.InDelta(t, raster.NDVIEncoding.Decode(220), full.Get(2, 3), 1e-9)
	assert.True(t, math.IsNaN(full.Get(1, 1)))

	// windowed read decodes only the window
	sub, err := f.ReadWindow(raster.Window{Col: 1, Row: 1, Ncol: 2, Nrow: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, sub.Shape)
	assert.True(t, math.IsNaN(sub.Get(0, 0)))
	assert.InDelta(t, raster.NDVIEncoding.Decode(120), sub.Get(0, 1), 1e-9)

	_, err = f.ReadWindow(raster.Window{Col: 3, Row: 0, Ncol: 2, Nrow: 1})
	assert.Error(t, err)

	// point reads
	v, err := f.ReadPoint(0.5, 2.5) // cell (0,0)
	require.NoError(t, err)
	assert.InDelta(t, raster.NDVIEncoding.Decode(0), v, 1e-9)
	v, err = f.ReadPoint(-1, -1)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))
}

func TestOpenRejectsTruncatedPayload(t *testing.T) {
	dir := t.TempDir()
	fp := dir + "/ndvi_2018-07-01_2018-08-01.bil"
	d := raster.Definition{Ncol: 4, Nrow: 3, Ulx: 0, Uly: 3, Cs: 1}
	require.NoError(t, raster.WriteRaw(fp, d, raster.Byte, make([]byte, 12)))
	require.NoError(t, os.Truncate(fp, 7))

	_, err := raster.Open(fp, raster.NDVIEncoding)
	assert.Error(t, err)
}

func TestSetResolve(t *testing.T) {
	dir := t.TempDir()
	d := raster.Definition{Ncol: 2, Nrow: 2, Ulx: 0, Uly: 2, Cs: 1}
	for _, win := range []string{"2018-06-01_2018-07-01", "2018-07-01_2018-08-01"} {
		require.NoError(t, raster.WriteRaw(dir+"/ndvi_"+win+".bil", d, raster.Byte, make([]byte, 4)))
	}
	// unrelated files are ignored
	require.NoError(t, raster.WriteRaw(dir+"/elev_2018-06-01_2018-07-01.bil", d, raster.Byte, make([]byte, 4)))

	s, err := raster.OpenSet(dir, "ndvi", raster.NDVIEncoding)
	require.NoError(t, err)
	require.Len(t, s.Members, 2)

	day := func(s string) time.Time {
		d, _ := time.Parse("2006-01-02", s)
		return d
	}
	m := s.Resolve(day("2018-06-15"))
	require.NotNil(t, m)
	assert.Equal(t, day("2018-06-01"), m.Start)

	// start inclusive, end exclusive
	m = s.Resolve(day("2018-07-01"))
	require.NotNil(t, m)
	assert.Equal(t, day("2018-07-01"), m.Start)
	assert.Nil(t, s.Resolve(day("2018-08-01")))
	assert.Nil(t, s.Resolve(day("2017-01-01")))
}

func TestWriteFloatBILRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fp := dir + "/tx_20180715.bil"
	d := raster.Definition{Ncol: 3, Nrow: 2, Ulx: 10, Uly: 20, Cs: 2, Proj4: "+proj=longlat +datum=WGS84 +no_defs"}

	in := fullDense(2, 3, func(r, c int) float64 { return float64(10*r + c) })
	in.Set(math.NaN(), 1, 2)
	require.NoError(t, raster.WriteFloatBIL(fp, d, in, "tx_degC"))

	f, err := raster.Open(fp, raster.Encoding{})
	require.NoError(t, err)
	out, err := f.ReadWindow(raster.Window{Ncol: 3, Nrow: 2})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Get(0, 0))
	assert.Equal(t, 11.0, out.Get(1, 1))
	// NaN round-trips as the nodata marker
	assert.Equal(t, -9999.0, out.Get(1, 2))
}
