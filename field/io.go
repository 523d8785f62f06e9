package field

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	lru "github.com/hashicorp/golang-lru/v2"
)

// secs1900 converts "hours since 1900-01-01" time axes.
const secs1900 = -2208988800

// Archive reads one variable's reanalysis directory, one file per year
// named <year>_<longname>.nc. Year handles stay open and decoded planes
// are kept in a small bounded cache; everything here is read-only after
// load.
type Archive struct {
	Dir      string
	LongName string // file-name variable, e.g. 2m_temperature_daily_maximum
	VarName  string // in-file variable, e.g. tx or t2m
	Offset   float64 // affine unit conversion applied at load (K->degC = -273.15)
	Scale    float64

	mu     sync.Mutex
	years  map[int]*yearFile
	planes *lru.Cache[string, *CoarseField]
}

type yearFile struct {
	nc         api.Group
	lats, lons []float64
	times      []time.Time
	vg         api.VarGetter
}

// OpenArchive prepares a per-year cached reader. scale/offset give the
// fixed affine conversion into working units.
func OpenArchive(dir, longName, varName string, scale, offset float64, cacheSize int) (*Archive, error) {
	if cacheSize < 1 {
		cacheSize = 32
	}
	planes, err := lru.New[string, *CoarseField](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("field.OpenArchive: %v", err)
	}
	return &Archive{
		Dir:      dir,
		LongName: longName,
		VarName:  varName,
		Scale:    scale,
		Offset:   offset,
		years:    map[int]*yearFile{},
		planes:   planes,
	}, nil
}

// Close releases all year handles.
func (a *Archive) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, yf := range a.years {
		yf.nc.Close()
	}
	a.years = map[int]*yearFile{}
}

// FieldFor loads the plane for a date. A missing year file or a date
// absent from its time axis returns an error the caller treats as
// "no baseline for date" (batch builders skip and count it).
func (a *Archive) FieldFor(date time.Time) (*CoarseField, error) {
	key := date.Format("20060102")
	a.mu.Lock()
	defer a.mu.Unlock()
	if cf, ok := a.planes.Get(key); ok {
		return cf, nil
	}

	yf, err := a.year(date.Year())
	if err != nil {
		return nil, err
	}
	ti := -1
	for i, t := range yf.times {
		if sameDay(t, date) {
			ti = i
			break
		}
	}
	if ti < 0 {
		return nil, fmt.Errorf("field: %s not on the %d time axis", key, date.Year())
	}

	raw, err := yf.vg.GetSlice(int64(ti), int64(ti+1))
	if err != nil {
		return nil, fmt.Errorf("field: reading %s: %v", key, err)
	}
	vals, err := planeFloats(raw, len(yf.lats), len(yf.lons))
	if err != nil {
		return nil, fmt.Errorf("field: %s: %v", key, err)
	}
	for i, v := range vals {
		if math.Abs(v) > 1e20 { // packed fill values
			vals[i] = math.NaN()
		} else {
			vals[i] = v*a.Scale + a.Offset
		}
	}
	cf, err := NewCoarseField(yf.lats, yf.lons, vals, date, a.VarName)
	if err != nil {
		return nil, err
	}
	a.planes.Add(key, cf)
	return cf, nil
}

// NoArchiveError marks a whole year absent from the archive; batch
// builders skip that period and count it rather than failing.
type NoArchiveError struct {
	Year int
	Path string
}

func (e *NoArchiveError) Error() string {
	return fmt.Sprintf("field: no coarse archive for %d (%s)", e.Year, e.Path)
}

func (a *Archive) year(y int) (*yearFile, error) {
	if yf, ok := a.years[y]; ok {
		return yf, nil
	}
	fp := fmt.Sprintf("%s/%d_%s.nc", a.Dir, y, a.LongName)
	nc, err := netcdf.Open(fp)
	if err != nil {
		return nil, &NoArchiveError{Year: y, Path: fp}
	}
	yf := &yearFile{nc: nc}
	if yf.lats, err = axisFloats(nc, "latitude"); err != nil {
		nc.Close()
		return nil, fmt.Errorf("field: %s: %v", fp, err)
	}
	if yf.lons, err = axisFloats(nc, "longitude"); err != nil {
		nc.Close()
		return nil, fmt.Errorf("field: %s: %v", fp, err)
	}
	if yf.times, err = timeAxis(nc); err != nil {
		nc.Close()
		return nil, fmt.Errorf("field: %s: %v", fp, err)
	}
	if yf.vg, err = nc.GetVarGetter(a.VarName); err != nil {
		nc.Close()
		return nil, fmt.Errorf("field: %s: variable %s: %v", fp, a.VarName, err)
	}
	a.years[y] = yf
	return yf, nil
}

func axisFloats(nc api.Group, name string) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, err
	}
	v, err := vg.Values()
	if err != nil {
		return nil, err
	}
	switch a := v.(type) {
	case []float64:
		return append([]float64{}, a...), nil
	case []float32:
		o := make([]float64, len(a))
		for i, x := range a {
			o[i] = float64(x)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("axis %s has unsupported type %T", name, v)
	}
}

// timeAxis accepts the two encodings seen in the wild: valid_time in
// epoch seconds and time in hours since 1900. The axis name decides the
// decoding; value magnitude cannot (pre-2001 epoch seconds overlap the
// hours range).
func timeAxis(nc api.Group) ([]time.Time, error) {
	name := "valid_time"
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		name = "time"
		if vg, err = nc.GetVarGetter(name); err != nil {
			return nil, fmt.Errorf("no valid_time or time axis")
		}
	}
	v, err := vg.Values()
	if err != nil {
		return nil, err
	}
	var raw []int64
	switch a := v.(type) {
	case []int64:
		raw = a
	case []int32:
		raw = make([]int64, len(a))
		for i, x := range a {
			raw[i] = int64(x)
		}
	case []float64:
		raw = make([]int64, len(a))
		for i, x := range a {
			raw[i] = int64(x)
		}
	default:
		return nil, fmt.Errorf("time axis has unsupported type %T", v)
	}
	return decodeTimeAxis(name, raw), nil
}

func decodeTimeAxis(name string, raw []int64) []time.Time {
	o := make([]time.Time, len(raw))
	for i, x := range raw {
		if name == "valid_time" { // epoch seconds
			o[i] = time.Unix(x, 0).UTC()
		} else { // hours since 1900
			o[i] = time.Unix(x*3600+secs1900, 0).UTC()
		}
	}
	return o
}

func planeFloats(raw interface{}, ny, nx int) ([]float64, error) {
	o := make([]float64, 0, ny*nx)
	switch d := raw.(type) {
	case [][][]float32:
		if len(d) != 1 || len(d[0]) != ny {
			return nil, fmt.Errorf("unexpected plane shape")
		}
		for _, row := range d[0] {
			for _, v := range row {
				o = append(o, float64(v))
			}
		}
	case [][][]float64:
		if len(d) != 1 || len(d[0]) != ny {
			return nil, fmt.Errorf("unexpected plane shape")
		}
		for _, row := range d[0] {
			o = append(o, row...)
		}
	default:
		return nil, fmt.Errorf("unsupported value type %T (packed archives must be unpacked upstream)", raw)
	}
	if len(o) != ny*nx {
		return nil, fmt.Errorf("plane is %d cells, axes imply %d", len(o), ny*nx)
	}
	return o, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
