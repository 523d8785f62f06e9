package crs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rqbln/dscale/crs"
)

func TestGeographicIsPassthrough(t *testing.T) {
	tr, err := crs.New(crs.Geographic)
	require.NoError(t, err)

	x, y, err := tr.ToProjected(13.4, 52.5)
	require.NoError(t, err)
	assert.Equal(t, 13.4, x)
	assert.Equal(t, 52.5, y)

	lon, lat, err := tr.FromProjected(13.4, 52.5)
	require.NoError(t, err)
	assert.Equal(t, 13.4, lon)
	assert.Equal(t, 52.5, lat)
}

func TestUTMRoundTrip(t *testing.T) {
	// zone 32: central Germany
	tr, err := crs.New(crs.UTMProj4(32))
	require.NoError(t, err)

	lon0, lat0 := 10.0, 50.0
	x, y, err := tr.ToProjected(lon0, lat0)
	require.NoError(t, err)
	assert.Greater(t, x, 100000.) // easting near the central meridian
	assert.Greater(t, y, 5000000.)

	lon, lat, err := tr.FromProjected(x, y)
	require.NoError(t, err)
	assert.InDelta(t, lon0, lon, 1e-4)
	assert.InDelta(t, lat0, lat, 1e-4)
}

func TestFromProjectedAll(t *testing.T) {
	tr, err := crs.New(crs.UTMProj4(33))
	require.NoError(t, err)

	lons0 := []float64{14.5, 15.0, 15.5}
	lats0 := []float64{59.0, 59.5, 60.0}
	xs := make([]float64, len(lons0))
	ys := make([]float64, len(lons0))
	for i := range lons0 {
		xs[i], ys[i], err = tr.ToProjected(lons0[i], lats0[i])
		require.NoError(t, err)
	}

	lons, lats, err := tr.FromProjectedAll(xs, ys)
	require.NoError(t, err)
	for i := range lons0 {
		assert.InDelta(t, lons0[i], lons[i], 1e-4)
		assert.InDelta(t, lats0[i], lats[i], 1e-4)
	}
}

func TestBadProj4(t *testing.T) {
	_, err := crs.New("+proj=nosuchthing")
	assert.Error(t, err)
}
