// Package field holds the coarse-resolution reanalysis grids: one 2-D
// lat/lon plane per date and variable, with point sampling and bulk
// upsampling onto fine projected grids.
package field

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ctessum/sparse"
)

// CoarseField is one date's plane. Both axes are ascending after load
// regardless of on-disk orientation; missing cells are NaN.
type CoarseField struct {
	Lats, Lons []float64
	Data       *sparse.DenseArray // (nlat, nlon)
	Date       time.Time
	Variable   string
}

// NewCoarseField normalizes axis orientation once, here, so every sampler
// can assume ascending axes. vals is row-major (nlat, nlon) in the given
// (possibly descending) axis order.
func NewCoarseField(lats, lons, vals []float64, date time.Time, variable string) (*CoarseField, error) {
	ny, nx := len(lats), len(lons)
	if ny*nx != len(vals) {
		return nil, fmt.Errorf("field.NewCoarseField: %d values for %dx%d axes", len(vals), ny, nx)
	}
	if ny < 2 || nx < 2 {
		return nil, fmt.Errorf("field.NewCoarseField: axes too short (%dx%d)", ny, nx)
	}

	la := append([]float64{}, lats...)
	lo := append([]float64{}, lons...)
	d := sparse.ZerosDense(ny, nx)
	copy(d.Elements, vals)

	if la[0] > la[ny-1] { // stored north-down
		reverseAxis(la)
		for r := 0; r < ny/2; r++ {
			swapRows(d.Elements, r, ny-1-r, nx)
		}
	}
	if lo[0] > lo[nx-1] {
		reverseAxis(lo)
		for r := 0; r < ny; r++ {
			reverseAxis(d.Elements[r*nx : (r+1)*nx])
		}
	}
	if !ascending(la) || !ascending(lo) {
		return nil, fmt.Errorf("field.NewCoarseField: axes not monotonic")
	}
	return &CoarseField{Lats: la, Lons: lo, Data: d, Date: date, Variable: variable}, nil
}

func reverseAxis(a []float64) {
	for i, j := 0, len(a)-1; i < j; i, j = i+1, j-1 {
		a[i], a[j] = a[j], a[i]
	}
}

func swapRows(e []float64, r0, r1, nx int) {
	for c := 0; c < nx; c++ {
		e[r0*nx+c], e[r1*nx+c] = e[r1*nx+c], e[r0*nx+c]
	}
}

func ascending(a []float64) bool {
	for i := 1; i < len(a); i++ {
		if a[i] <= a[i-1] {
			return false
		}
	}
	return true
}

func (cf *CoarseField) at(iy, ix int) float64 {
	return cf.Data.Elements[iy*len(cf.Lons)+ix]
}

// nearestIndex finds the closest axis node, allowing half a cell beyond
// either end; ok is false outside that.
func nearestIndex(ax []float64, v float64) (int, bool) {
	n := len(ax)
	i := sort.SearchFloat64s(ax, v)
	switch {
	case i == 0:
		if v < ax[0]-(ax[1]-ax[0])/2 {
			return 0, false
		}
		return 0, true
	case i == n:
		if v > ax[n-1]+(ax[n-1]-ax[n-2])/2 {
			return 0, false
		}
		return n - 1, true
	default:
		if v-ax[i-1] <= ax[i]-v {
			return i - 1, true
		}
		return i, true
	}
}

// cellIndex returns the node i with ax[i] <= v < ax[i+1] plus the
// fractional position between them; ok is false outside the axis span.
func cellIndex(ax []float64, v float64) (i int, frac float64, ok bool) {
	n := len(ax)
	if v < ax[0] || v > ax[n-1] {
		return 0, 0, false
	}
	i = sort.SearchFloat64s(ax, v)
	if i > 0 {
		i--
	}
	if i == n-1 {
		i = n - 2
	}
	return i, (v - ax[i]) / (ax[i+1] - ax[i]), true
}

// SampleNearest looks up the nearest cell; NaN outside coverage.
func (cf *CoarseField) SampleNearest(lon, lat float64) float64 {
	iy, oky := nearestIndex(cf.Lats, lat)
	ix, okx := nearestIndex(cf.Lons, lon)
	if !oky || !okx {
		return math.NaN()
	}
	return cf.at(iy, ix)
}

// SampleBilinear interpolates within the 2x2 neighborhood; NaN where the
// point leaves the axis span or touches a missing cell. No extrapolation.
func (cf *CoarseField) SampleBilinear(lon, lat float64) float64 {
	iy, fy, oky := cellIndex(cf.Lats, lat)
	ix, fx, okx := cellIndex(cf.Lons, lon)
	if !oky || !okx {
		return math.NaN()
	}
	v00 := cf.at(iy, ix)
	v01 := cf.at(iy, ix+1)
	v10 := cf.at(iy+1, ix)
	v11 := cf.at(iy+1, ix+1)
	if math.IsNaN(v00) || math.IsNaN(v01) || math.IsNaN(v10) || math.IsNaN(v11) {
		return math.NaN()
	}
	return v00*(1-fx)*(1-fy) + v01*fx*(1-fy) + v10*(1-fx)*fy + v11*fx*fy
}

// SampleBicubic interpolates with a Catmull-Rom kernel over the 4x4
// neighborhood, falling back to bilinear along the outermost cell ring
// where the full stencil does not exist.
func (cf *CoarseField) SampleBicubic(lon, lat float64) float64 {
	iy, fy, oky := cellIndex(cf.Lats, lat)
	ix, fx, okx := cellIndex(cf.Lons, lon)
	if !oky || !okx {
		return math.NaN()
	}
	if iy < 1 || iy > len(cf.Lats)-3 || ix < 1 || ix > len(cf.Lons)-3 {
		return cf.SampleBilinear(lon, lat)
	}
	var col [4]float64
	for m := 0; m < 4; m++ {
		var row [4]float64
		for n := 0; n < 4; n++ {
			row[n] = cf.at(iy-1+m, ix-1+n)
			if math.IsNaN(row[n]) {
				return math.NaN()
			}
		}
		col[m] = cubic(row, fx)
	}
	return cubic(col, fy)
}

// cubic evaluates the Catmull-Rom spline (a = -0.5) at fraction t between
// p[1] and p[2].
func cubic(p [4]float64, t float64) float64 {
	return p[1] + 0.5*t*(p[2]-p[0]+t*(2*p[0]-5*p[1]+4*p[2]-p[3]+t*(3*(p[1]-p[2])+p[3]-p[0])))
}
