// Package dscale downscales coarse-resolution reanalysis temperature
// fields to neighborhood scale by learning spatially-varying correction
// terms from station observations and fine covariate rasters (vegetation
// index, elevation), then applying those corrections per pixel.
//
// The pipeline has three stages: BuildCube joins observations with the
// coarse field and covariates into a supervised table; Train fits a
// deterministic random forest to the residual under a station-identity
// cross-validation split; Infer upsamples the coarse field onto a cropped
// covariate grid and writes baseline+residual as a georeferenced raster.
package dscale

import (
	"os"
	"strconv"
)

// Config carries the tunables of all three stages. The residual bound and
// minimum station count are empirical defaults, not physical constants.
type Config struct {
	ResidualBound float64 // records beyond +/- this are rejected
	MinStations   int     // fewest distinct stations a split will accept
	TestFraction  float64
	Seed          int64

	NTrees, MaxDepth, MinSplit, MinLeaf int

	Workers   int // 0 = NumCPU
	CacheSize int // decoded raster windows kept per process
}

// DefaultConfig returns the defaults, overridable from the environment
// (DSCALE_RESIDUAL_BOUND, DSCALE_MIN_STATIONS, DSCALE_SEED, ...).
func DefaultConfig() Config {
	c := Config{
		ResidualBound: 15,
		MinStations:   10,
		TestFraction:  0.2,
		Seed:          42,
		NTrees:        200,
		MaxDepth:      15,
		MinSplit:      10,
		MinLeaf:       5,
		CacheSize:     64,
	}
	c.ResidualBound = envFloat("DSCALE_RESIDUAL_BOUND", c.ResidualBound)
	c.MinStations = envInt("DSCALE_MIN_STATIONS", c.MinStations)
	c.TestFraction = envFloat("DSCALE_TEST_FRACTION", c.TestFraction)
	c.Seed = int64(envInt("DSCALE_SEED", int(c.Seed)))
	c.NTrees = envInt("DSCALE_NTREES", c.NTrees)
	c.MaxDepth = envInt("DSCALE_MAX_DEPTH", c.MaxDepth)
	c.MinSplit = envInt("DSCALE_MIN_SPLIT", c.MinSplit)
	c.MinLeaf = envInt("DSCALE_MIN_LEAF", c.MinLeaf)
	c.Workers = envInt("DSCALE_WORKERS", c.Workers)
	c.CacheSize = envInt("DSCALE_CACHE_SIZE", c.CacheSize)
	return c
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
