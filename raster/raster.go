// Package raster handles the fine-resolution covariate grids: regular
// north-up rasters in a projected CRS, stored raw-encoded on disk and only
// ever decoded through a crop window.
package raster

import (
	"fmt"
	"math"
)

// Definition georeferences a regular north-up grid: the upper-left corner,
// a square cell size and the proj4 string of its system.
type Definition struct {
	Ncol, Nrow int
	Ulx, Uly   float64 // outer corner of cell (0,0)
	Cs         float64
	Proj4      string
}

// CellCentre returns the projected coordinate at the middle of cell
// (col,row).
func (d Definition) CellCentre(col, row int) (x, y float64) {
	return d.Ulx + (float64(col)+.5)*d.Cs, d.Uly - (float64(row)+.5)*d.Cs
}

// Index locates the cell containing the projected point; ok is false
// outside the grid.
func (d Definition) Index(x, y float64) (col, row int, ok bool) {
	col = int(math.Floor((x - d.Ulx) / d.Cs))
	row = int(math.Floor((d.Uly - y) / d.Cs))
	return col, row, col >= 0 && col < d.Ncol && row >= 0 && row < d.Nrow
}

// Extent returns (minx, miny, maxx, maxy) in the projected system.
func (d Definition) Extent() (minx, miny, maxx, maxy float64) {
	return d.Ulx, d.Uly - float64(d.Nrow)*d.Cs, d.Ulx + float64(d.Ncol)*d.Cs, d.Uly
}

// Window is a rectangular sub-region in cell space.
type Window struct {
	Col, Row, Ncol, Nrow int
}

// Crop intersects a projected bounding box with the grid and returns the
// covered window plus its own definition. A box entirely off the grid
// returns an error so callers can distinguish "empty region" from a thin
// sliver.
func (d Definition) Crop(minx, miny, maxx, maxy float64) (Definition, Window, error) {
	gminx, gminy, gmaxx, gmaxy := d.Extent()
	if maxx <= gminx || minx >= gmaxx || maxy <= gminy || miny >= gmaxy {
		return Definition{}, Window{}, fmt.Errorf("raster: bounding box outside coverage")
	}
	c0 := int(math.Floor((math.Max(minx, gminx) - d.Ulx) / d.Cs))
	r0 := int(math.Floor((d.Uly - math.Min(maxy, gmaxy)) / d.Cs))
	c1 := int(math.Ceil((math.Min(maxx, gmaxx) - d.Ulx) / d.Cs))
	r1 := int(math.Ceil((d.Uly - math.Max(miny, gminy)) / d.Cs))
	if c0 < 0 {
		c0 = 0
	}
	if r0 < 0 {
		r0 = 0
	}
	if c1 > d.Ncol {
		c1 = d.Ncol
	}
	if r1 > d.Nrow {
		r1 = d.Nrow
	}
	if c1 <= c0 || r1 <= r0 {
		return Definition{}, Window{}, fmt.Errorf("raster: bounding box outside coverage")
	}
	w := Window{Col: c0, Row: r0, Ncol: c1 - c0, Nrow: r1 - r0}
	cd := Definition{
		Ncol:  w.Ncol,
		Nrow:  w.Nrow,
		Ulx:   d.Ulx + float64(c0)*d.Cs,
		Uly:   d.Uly - float64(r0)*d.Cs,
		Cs:    d.Cs,
		Proj4: d.Proj4,
	}
	return cd, w, nil
}

// Encoding maps raw cell counts linearly onto a physical interval; the
// sentinel decodes to NaN, never to a valid value.
type Encoding struct {
	Sentinel int32
	Min, Max float64
	Span     float64 // largest valid raw count
}

// NDVIEncoding is the vegetation-index rule: byte 255 = no data, 0..254
// maps onto [-1,1].
var NDVIEncoding = Encoding{Sentinel: 255, Min: -1, Max: 1, Span: 254}

// ElevationEncoding carries metres directly in int16 counts with the
// usual -32768 void marker.
var ElevationEncoding = Encoding{Sentinel: -32768, Min: 0, Max: 0, Span: 0}

// Decode converts one raw count into physical units.
func (e Encoding) Decode(raw int32) float64 {
	if raw == e.Sentinel {
		return math.NaN()
	}
	if e.Span == 0 { // identity (already physical units)
		return float64(raw)
	}
	return e.Min + float64(raw)/e.Span*(e.Max-e.Min)
}
