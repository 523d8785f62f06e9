package dscale

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maseology/mmio"
)

// Region is a named geographic bounding box, degrees, lon/lat order.
type Region struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// built-in study regions; LoadRegions extends or overrides these
var regions = map[string]Region{
	"SE": {10.95, 55.25, 24.20, 69.10},
	"DE": {5.85, 47.25, 15.05, 55.10},
	"FR": {-5.15, 41.30, 9.60, 51.15},
	"NO": {4.60, 57.95, 31.10, 71.20},
	"FI": {20.55, 59.75, 31.60, 70.10},
}

// RegionByName resolves a region code.
func RegionByName(name string) (Region, error) {
	r, ok := regions[strings.ToUpper(name)]
	if !ok {
		return Region{}, fmt.Errorf("dscale: unknown region %q", name)
	}
	return r, nil
}

// LoadRegions merges user regions from a csv (name,minlon,minlat,maxlon,maxlat),
// overriding built-ins on name collision.
func LoadRegions(fp string) error {
	lns, err := mmio.ReadTextLines(fp)
	if err != nil {
		return fmt.Errorf("dscale.LoadRegions: %v", err)
	}
	for i, ln := range lns {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "name,") {
			continue
		}
		fl := strings.Split(ln, ",")
		if len(fl) != 5 {
			return fmt.Errorf("dscale.LoadRegions: %s line %d: want 5 fields, have %d", fp, i+1, len(fl))
		}
		var v [4]float64
		for j := 0; j < 4; j++ {
			if v[j], err = strconv.ParseFloat(strings.TrimSpace(fl[j+1]), 64); err != nil {
				return fmt.Errorf("dscale.LoadRegions: %s line %d: %v", fp, i+1, err)
			}
		}
		regions[strings.ToUpper(strings.TrimSpace(fl[0]))] = Region{v[0], v[1], v[2], v[3]}
	}
	return nil
}
