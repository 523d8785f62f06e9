package dscale

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/ctessum/sparse"
	"github.com/gosuri/uiprogress"
	"github.com/maseology/mmio"

	"github.com/Rqbln/dscale/crs"
	"github.com/Rqbln/dscale/raster"
)

// ErrEmptyRegion is returned when the requested bounding box shares no
// cells with the covariate grid.
var ErrEmptyRegion = errors.New("dscale: requested region is outside covariate coverage")

// predBlock is the unit of work handed to prediction workers. Large
// enough to amortize channel traffic, small enough that cancellation
// lands within a block.
const predBlock = 65536

// Engine produces high-resolution fields from a trained model. The
// covariate rasters define the output grid; the coarse baseline is
// upsampled onto it before correction.
type Engine struct {
	Model    *TrainedModel
	Baseline BaselineSource
	NDVI     *raster.Set
	Elev     *raster.File
	Cfg      Config

	mu   sync.Mutex // guards the lazily-built caches below
	trs  map[string]*crs.Transform
	wins *windowCache
}

// HighResRaster is one corrected daily field plus its residual plane,
// on the cropped covariate grid. NaN marks pixels missing any input.
type HighResRaster struct {
	Def      raster.Definition
	Values   []float64
	Residual []float64
	Date     time.Time
}

// Infer builds the corrected field for one date over a geographic
// bounding box (degrees). The box is cropped against the covariate grid
// before any pixel is decoded, so a city-scale request over a
// continental raster touches only the city's rows.
func (e *Engine) Infer(ctx context.Context, date time.Time, minLon, minLat, maxLon, maxLat float64) (*HighResRaster, error) {
	wins, err := e.windows()
	if err != nil {
		return nil, fmt.Errorf("dscale.Infer: %v", err)
	}
	tt := mmio.NewTimer()

	mem := e.NDVI.Resolve(date)
	if mem == nil {
		return nil, fmt.Errorf("dscale.Infer: no covariate window covering %s", date.Format("2006-01-02"))
	}
	tr, err := e.transform(mem.Def.Proj4)
	if err != nil {
		return nil, fmt.Errorf("dscale.Infer: %v", err)
	}

	// project the geographic box and crop in grid coordinates
	minx, miny, maxx, maxy, err := projectBox(tr, minLon, minLat, maxLon, maxLat)
	if err != nil {
		return nil, fmt.Errorf("dscale.Infer: %v", err)
	}
	cdef, win, err := mem.Def.Crop(minx, miny, maxx, maxy)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", ErrEmptyRegion, date.Format("2006-01-02"))
	}

	ndvi, err := wins.read(mem.File, win)
	if err != nil {
		return nil, fmt.Errorf("dscale.Infer: covariate read: %v", err)
	}
	elev, err := e.elevWindow(wins, cdef)
	if err != nil {
		return nil, err
	}

	cf, err := e.Baseline.FieldFor(date)
	if err != nil {
		return nil, fmt.Errorf("dscale.Infer: no baseline for date %s: %v", date.Format("2006-01-02"), err)
	}
	nwrk := e.Cfg.Workers
	if nwrk < 1 {
		nwrk = runtime.NumCPU()
	}
	base, err := cf.Upsample(cdef, tr, nwrk)
	if err != nil {
		return nil, fmt.Errorf("dscale.Infer: %v", err)
	}
	tt.Lap(fmt.Sprintf(" %s: %s pixels staged", date.Format("2006-01-02"), mmio.Thousands(int64(cdef.Nrow*cdef.Ncol))))

	// per-row geographic coordinates, shared by all pixels in the row
	lats, lons, err := cellCoords(cdef, tr)
	if err != nil {
		return nil, fmt.Errorf("dscale.Infer: %v", err)
	}

	npx := cdef.Nrow * cdef.Ncol
	doy := float64(date.YearDay())
	out := &HighResRaster{
		Def:      cdef,
		Values:   make([]float64, npx),
		Residual: make([]float64, npx),
		Date:     date,
	}

	// fan out fixed-size index blocks; each worker assembles its own
	// feature rows so nothing is shared but the read-only planes
	blocks := make(chan int)
	var wg sync.WaitGroup
	var werr error
	var werrMu sync.Mutex
	for w := 0; w < nwrk; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			X := make([][]float64, 0, predBlock)
			rows := make([][NFeatures]float64, predBlock)
			idx := make([]int, 0, predBlock)
			pred := make([]float64, predBlock)
			for i0 := range blocks {
				// on error keep draining so the feeder never blocks
				werrMu.Lock()
				failed := werr != nil
				werrMu.Unlock()
				if failed {
					continue
				}
				if err := ctx.Err(); err != nil {
					werrMu.Lock()
					werr = err
					werrMu.Unlock()
					continue
				}
				i1 := i0 + predBlock
				if i1 > npx {
					i1 = npx
				}
				X, idx = X[:0], idx[:0]
				for i := i0; i < i1; i++ {
					b := base.Elements[i]
					nv := ndvi.Elements[i]
					ev := elev.Elements[i]
					if math.IsNaN(b) || math.IsNaN(nv) || math.IsNaN(ev) {
						out.Values[i] = math.NaN()
						out.Residual[i] = math.NaN()
						continue
					}
					r, c := i/cdef.Ncol, i%cdef.Ncol
					rows[len(idx)] = featureRow(b, nv, ev, lats[r][c], lons[r][c], int(doy))
					X = append(X, rows[len(idx)][:])
					idx = append(idx, i)
				}
				if len(X) == 0 {
					continue
				}
				if err := e.Model.Forest.PredictBatch(X, pred[:len(X)]); err != nil {
					werrMu.Lock()
					werr = err
					werrMu.Unlock()
					continue
				}
				for j, i := range idx {
					out.Residual[i] = pred[j]
					out.Values[i] = base.Elements[i] + pred[j]
				}
			}
		}()
	}
	for i0 := 0; i0 < npx; i0 += predBlock {
		blocks <- i0
	}
	close(blocks)
	wg.Wait()
	if werr != nil {
		return nil, werr
	}
	// a fully-masked crop is an empty region, not an all-NaN raster
	nvalid := 0
	for _, v := range out.Values {
		if !math.IsNaN(v) {
			nvalid++
		}
	}
	if nvalid == 0 {
		return nil, fmt.Errorf("%w: no valid pixels after masking (%s)", ErrEmptyRegion, date.Format("2006-01-02"))
	}
	tt.Lap(" field corrected")
	return out, nil
}

// InferRange runs Infer over consecutive dates, writing each field as it
// completes. Dates with no baseline are reported and skipped so one
// missing day never aborts a season.
func (e *Engine) InferRange(ctx context.Context, start, end time.Time, minLon, minLat, maxLon, maxLat float64, outDir string) error {
	ndays := int(end.Sub(start).Hours()/24) + 1
	if ndays < 1 {
		return fmt.Errorf("dscale.InferRange: %s is before %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	mmio.MakeDir(outDir)

	uiprogress.Start()
	bar := uiprogress.AddBar(ndays).AppendCompleted().PrependElapsed()
	defer uiprogress.Stop()

	nskip := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		hr, err := e.Infer(ctx, d, minLon, minLat, maxLon, maxLat)
		if err != nil {
			if errors.Is(err, ErrEmptyRegion) || errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Printf(" warning: %v\n", err)
			nskip++
			bar.Incr()
			continue
		}
		if err := hr.WriteBIL(outDir); err != nil {
			return err
		}
		bar.Incr()
	}
	if nskip > 0 {
		fmt.Printf(" %d of %d dates skipped\n", nskip, ndays)
	}
	return nil
}

// WriteBIL writes the corrected field and its residual plane side by
// side under dir, named by date.
func (hr *HighResRaster) WriteBIL(dir string) error {
	d := hr.Date.Format("20060102")
	if err := raster.WriteFloatBIL(fmt.Sprintf("%s/tx_%s.bil", dir, d), hr.Def, hr.dense(hr.Values), "tx_degC"); err != nil {
		return err
	}
	return raster.WriteFloatBIL(fmt.Sprintf("%s/tx_%s_residual.bil", dir, d), hr.Def, hr.dense(hr.Residual), "residual_degC")
}

func (hr *HighResRaster) dense(vals []float64) *sparse.DenseArray {
	a := sparse.ZerosDense(hr.Def.Nrow, hr.Def.Ncol)
	copy(a.Elements, vals)
	return a
}

// elevWindow reads the elevation cells under the cropped covariate grid.
// The two rasters must share cell size and projection; the elevation grid
// may extend beyond the covariate grid but not the other way around.
func (e *Engine) elevWindow(wins *windowCache, cdef raster.Definition) (*sparse.DenseArray, error) {
	ed := e.Elev.Def
	if ed.Proj4 != cdef.Proj4 || math.Abs(ed.Cs-cdef.Cs) > 1e-9 {
		return nil, fmt.Errorf("dscale.Infer: elevation grid does not align with covariate grid")
	}
	w := raster.Window{
		Col:  int(math.Round((cdef.Ulx - ed.Ulx) / ed.Cs)),
		Row:  int(math.Round((ed.Uly - cdef.Uly) / ed.Cs)),
		Ncol: cdef.Ncol,
		Nrow: cdef.Nrow,
	}
	a, err := wins.read(e.Elev, w)
	if err != nil {
		return nil, fmt.Errorf("dscale.Infer: elevation read: %v", err)
	}
	return a, nil
}

// windows returns the shared window cache, building it on first use.
func (e *Engine) windows() (*windowCache, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wins == nil {
		wc, err := newWindowCache(e.Cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		e.wins = wc
	}
	return e.wins, nil
}

// transform memoizes CRS transform pairs; concurrent Infer calls share
// the map.
func (e *Engine) transform(proj4 string) (*crs.Transform, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.trs == nil {
		e.trs = map[string]*crs.Transform{}
	}
	if tr, ok := e.trs[proj4]; ok {
		return tr, nil
	}
	tr, err := crs.New(proj4)
	if err != nil {
		return nil, err
	}
	e.trs[proj4] = tr
	return tr, nil
}

// projectBox projects the four corners and takes the envelope; an
// axis-aligned geographic box is not axis-aligned after projection.
func projectBox(tr *crs.Transform, minLon, minLat, maxLon, maxLat float64) (minx, miny, maxx, maxy float64, err error) {
	cs := [4][2]float64{{minLon, minLat}, {minLon, maxLat}, {maxLon, minLat}, {maxLon, maxLat}}
	for i, c := range cs {
		x, y, e := tr.ToProjected(c[0], c[1])
		if e != nil {
			return 0, 0, 0, 0, e
		}
		if i == 0 || x < minx {
			minx = x
		}
		if i == 0 || x > maxx {
			maxx = x
		}
		if i == 0 || y < miny {
			miny = y
		}
		if i == 0 || y > maxy {
			maxy = y
		}
	}
	return minx, miny, maxx, maxy, nil
}

// cellCoords returns per-cell geographic coordinates for a grid.
func cellCoords(def raster.Definition, tr *crs.Transform) (lats, lons [][]float64, err error) {
	lats = make([][]float64, def.Nrow)
	lons = make([][]float64, def.Nrow)
	xs := make([]float64, def.Ncol)
	ys := make([]float64, def.Ncol)
	for r := 0; r < def.Nrow; r++ {
		for c := 0; c < def.Ncol; c++ {
			xs[c], ys[c] = def.CellCentre(c, r)
		}
		lons[r], lats[r], err = tr.FromProjectedAll(xs, ys)
		if err != nil {
			return nil, nil, err
		}
	}
	return lats, lons, nil
}
