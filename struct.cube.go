package dscale

import (
	"fmt"
	"sort"
	"time"
)

// Feature order is fixed and shared between training and inference; a
// mismatch between the two is structurally impossible because both build
// rows through featureRow.
const (
	fBaseline = iota // coarse-field value at the point
	fNDVI
	fElevation
	fLat
	fLon
	fDayOfYear
	NFeatures
)

// FeatureNames is the canonical ordering persisted with every model.
var FeatureNames = []string{"baseline", "ndvi", "elevation", "lat", "lon", "dayofyear"}

func featureRow(baseline, ndvi, elev, lat, lon float64, doy int) [NFeatures]float64 {
	return [NFeatures]float64{baseline, ndvi, elev, lat, lon, float64(doy)}
}

// TrainingRecord is one joined, validated sample: every feature present
// and target = observation - baseline within the sanity bound.
type TrainingRecord struct {
	Date   time.Time
	StaID  int
	Feat   [NFeatures]float64
	Obs    float64
	Target float64
}

// Cube is the supervised training table.
type Cube struct {
	Recs []TrainingRecord
}

// Stations returns the distinct station IDs, ascending.
func (c *Cube) Stations() []int {
	m := make(map[int]bool)
	for _, r := range c.Recs {
		m[r.StaID] = true
	}
	o := make([]int, 0, len(m))
	for id := range m {
		o = append(o, id)
	}
	sort.Ints(o)
	return o
}

// BuildSummary counts every record dropped per stage; a build that loses
// data silently is a defect, so the builder always returns one of these.
type BuildSummary struct {
	NObs             int
	NQualityRejected int
	NMissingValue    int
	NMalformed       int
	NNoBaseline      int
	NNoCovarWindow   int
	NOutsideRaster   int
	NSentinel        int
	NCovarError      int // covariate CRS or read failures
	NOutlier         int
	NAccepted        int
	SkippedYears     []int
}

// CheckAndPrint writes the build summary in the usual block form.
func (s *BuildSummary) CheckAndPrint() {
	fmt.Println("Cube build summary:")
	fmt.Printf(" %d observations considered, %d accepted\n", s.NObs, s.NAccepted)
	fmt.Printf(" dropped: quality %d  missing %d  malformed %d\n", s.NQualityRejected, s.NMissingValue, s.NMalformed)
	fmt.Printf("          no-baseline %d  no-covariate-window %d  outside-raster %d  sentinel %d  covariate-error %d  outlier %d\n",
		s.NNoBaseline, s.NNoCovarWindow, s.NOutsideRaster, s.NSentinel, s.NCovarError, s.NOutlier)
	if len(s.SkippedYears) > 0 {
		fmt.Printf(" skipped years (no coarse archive): %v\n", s.SkippedYears)
	}
}
