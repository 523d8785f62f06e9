package field

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ctessum/sparse"

	"github.com/Rqbln/dscale/crs"
	"github.com/Rqbln/dscale/raster"
)

// Upsample resamples the coarse plane onto a fine projected grid: every
// target cell centre is inverse-projected to lon/lat and bicubic-sampled.
// Cells resolving outside coverage come back NaN, never clamped; clamping
// would smear a uniform edge correction across the margin.
//
// Rows are fanned out over nwrk workers; each worker transforms and
// samples a whole row block against the read-only field.
func (cf *CoarseField) Upsample(def raster.Definition, tr *crs.Transform, nwrk int) (*sparse.DenseArray, error) {
	if nwrk < 1 {
		nwrk = runtime.NumCPU()
	}
	out := sparse.ZerosDense(def.Nrow, def.Ncol)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ferr error
	rows := make(chan int, nwrk)
	for w := 0; w < nwrk; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			xs, ys := make([]float64, def.Ncol), make([]float64, def.Ncol)
			for r := range rows {
				for c := 0; c < def.Ncol; c++ {
					xs[c], ys[c] = def.CellCentre(c, r)
				}
				lons, lats, err := tr.FromProjectedAll(xs, ys)
				if err != nil {
					mu.Lock()
					if ferr == nil {
						ferr = fmt.Errorf("field.Upsample: row %d: %v", r, err)
					}
					mu.Unlock()
					continue
				}
				e := out.Elements[r*def.Ncol : (r+1)*def.Ncol]
				for c := 0; c < def.Ncol; c++ {
					e[c] = cf.SampleBicubic(lons[c], lats[c])
				}
			}
		}()
	}
	for r := 0; r < def.Nrow; r++ {
		rows <- r
	}
	close(rows)
	wg.Wait()
	if ferr != nil {
		return nil, ferr
	}
	return out, nil
}
