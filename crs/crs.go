// Package crs converts coordinates between the geographic datum of the
// coarse reanalysis grids and the projected systems of the fine covariate
// rasters.
package crs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/im7mortal/UTM"
)

// Geographic is the lon/lat reference all station and reanalysis
// coordinates are given in.
const Geographic = "+proj=longlat +datum=WGS84 +no_defs"

// UTMProj4 returns the proj4 definition of a northern-hemisphere UTM zone,
// the native system of the covariate tiles.
func UTMProj4(zone int) string {
	return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", zone)
}

// Transform moves points between Geographic and one projected system.
type Transform struct {
	fwd, inv proj.Transformer
	utmZone  int // >0: inverse goes through the UTM series directly
	south    bool
	identity bool
}

// New builds the transform pair for the given projected CRS. A geographic
// target yields a passthrough, so grids already in lon/lat cost nothing.
func New(proj4 string) (*Transform, error) {
	if strings.Contains(proj4, "+proj=longlat") {
		return &Transform{identity: true}, nil
	}
	gsr, err := proj.Parse(Geographic)
	if err != nil {
		return nil, fmt.Errorf("crs.New: %v", err)
	}
	psr, err := proj.Parse(proj4)
	if err != nil {
		return nil, fmt.Errorf("crs.New: parsing %q: %v", proj4, err)
	}
	fwd, err := gsr.NewTransform(psr)
	if err != nil {
		return nil, fmt.Errorf("crs.New: %v", err)
	}
	inv, err := psr.NewTransform(gsr)
	if err != nil {
		return nil, fmt.Errorf("crs.New: %v", err)
	}
	t := &Transform{fwd: fwd, inv: inv}
	t.utmZone, t.south = utmZoneOf(proj4)
	return t, nil
}

// ToProjected converts a geographic coordinate to the projected system.
func (t *Transform) ToProjected(lon, lat float64) (x, y float64, err error) {
	if t.identity {
		return lon, lat, nil
	}
	return t.fwd(lon, lat)
}

// FromProjected inverts ToProjected.
func (t *Transform) FromProjected(x, y float64) (lon, lat float64, err error) {
	if t.identity {
		return x, y, nil
	}
	if t.utmZone > 0 {
		la, lo, err := UTM.ToLatLon(x, y, t.utmZone, "", !t.south)
		return lo, la, err
	}
	return t.inv(x, y)
}

// FromProjectedAll inverse-projects point slices in place-order. Used by the
// upsampler so the projection setup cost is paid once per block.
func (t *Transform) FromProjectedAll(xs, ys []float64) (lons, lats []float64, err error) {
	lons, lats = make([]float64, len(xs)), make([]float64, len(xs))
	if t.identity {
		copy(lons, xs)
		copy(lats, ys)
		return lons, lats, nil
	}
	for i := range xs {
		lons[i], lats[i], err = t.FromProjected(xs[i], ys[i])
		if err != nil {
			return nil, nil, fmt.Errorf("crs.FromProjectedAll: point %d: %v", i, err)
		}
	}
	return lons, lats, nil
}

func utmZoneOf(proj4 string) (int, bool) {
	if !strings.Contains(proj4, "+proj=utm") {
		return 0, false
	}
	south := strings.Contains(proj4, "+south")
	for _, f := range strings.Fields(proj4) {
		if strings.HasPrefix(f, "+zone=") {
			z, err := strconv.Atoi(strings.TrimPrefix(f, "+zone="))
			if err != nil || z < 1 || z > 60 {
				return 0, false
			}
			return z, south
		}
	}
	return 0, false
}
