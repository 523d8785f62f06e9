package raster

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
)

// Dtype is the on-disk element type of a raster payload.
type Dtype int

const (
	Byte Dtype = iota
	Int16
	Float32
)

func (dt Dtype) size() int {
	switch dt {
	case Byte:
		return 1
	case Int16:
		return 2
	default:
		return 4
	}
}

// File is an open raster archive member. The payload is row-major BIL with
// a .hdr/.prj sidecar pair; nothing is decoded until a window is read.
type File struct {
	Path string
	Def  Definition
	Dt   Dtype
	Enc  Encoding
}

// Open parses the header sidecars only; the payload stays on disk.
func Open(fp string, enc Encoding) (*File, error) {
	def, dt, err := readHDR(hdrPath(fp))
	if err != nil {
		return nil, err
	}
	if prj, err := os.ReadFile(prjPath(fp)); err == nil {
		def.Proj4 = strings.TrimSpace(string(prj))
	}
	fi, err := os.Stat(fp)
	if err != nil {
		return nil, fmt.Errorf("raster.Open: %v", err)
	}
	if want := int64(def.Ncol*def.Nrow) * int64(dt.size()); fi.Size() != want {
		return nil, fmt.Errorf("raster.Open: %s: payload is %d bytes, header implies %d", fp, fi.Size(), want)
	}
	return &File{Path: fp, Def: def, Dt: dt, Enc: enc}, nil
}

// ReadWindow decodes one crop window into a dense (nrow, ncol) array,
// sentinels to NaN. Rows are seek-read so a continental archive costs only
// the window.
func (f *File) ReadWindow(w Window) (*sparse.DenseArray, error) {
	if w.Col < 0 || w.Row < 0 || w.Col+w.Ncol > f.Def.Ncol || w.Row+w.Nrow > f.Def.Nrow {
		return nil, fmt.Errorf("raster.ReadWindow: window exceeds grid")
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("raster.ReadWindow: %v", err)
	}
	defer fh.Close()

	es := f.Dt.size()
	out := sparse.ZerosDense(w.Nrow, w.Ncol)
	buf := make([]byte, w.Ncol*es)
	for r := 0; r < w.Nrow; r++ {
		off := int64(((w.Row+r)*f.Def.Ncol + w.Col) * es)
		if _, err := fh.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("raster.ReadWindow: row %d: %v", w.Row+r, err)
		}
		for c := 0; c < w.Ncol; c++ {
			out.Elements[r*w.Ncol+c] = f.decodeAt(buf, c*es)
		}
	}
	return out, nil
}

// ReadPoint decodes the single cell containing a projected point; NaN when
// the point falls off the grid or on the sentinel.
func (f *File) ReadPoint(x, y float64) (float64, error) {
	col, row, ok := f.Def.Index(x, y)
	if !ok {
		return math.NaN(), nil
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return math.NaN(), fmt.Errorf("raster.ReadPoint: %v", err)
	}
	defer fh.Close()
	es := f.Dt.size()
	buf := make([]byte, es)
	if _, err := fh.ReadAt(buf, int64((row*f.Def.Ncol+col)*es)); err != nil {
		return math.NaN(), fmt.Errorf("raster.ReadPoint: %v", err)
	}
	return f.decodeAt(buf, 0), nil
}

func (f *File) decodeAt(buf []byte, off int) float64 {
	switch f.Dt {
	case Byte:
		return f.Enc.Decode(int32(buf[off]))
	case Int16:
		return f.Enc.Decode(int32(int16(binary.LittleEndian.Uint16(buf[off:]))))
	default:
		v := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		return float64(v)
	}
}

// WriteFloatBIL writes a float32 raster with its .hdr/.prj sidecars; NaN
// cells carry the -9999 marker. desc goes into the header as a band
// description for downstream tooling.
func WriteFloatBIL(fp string, def Definition, vals *sparse.DenseArray, desc string) error {
	if len(vals.Shape) != 2 || vals.Shape[0] != def.Nrow || vals.Shape[1] != def.Ncol {
		return fmt.Errorf("raster.WriteFloatBIL: array shape does not match definition")
	}
	f32 := make([]float32, len(vals.Elements))
	for i, v := range vals.Elements {
		if math.IsNaN(v) {
			f32[i] = -9999
		} else {
			f32[i] = float32(v)
		}
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, f32); err != nil {
		return fmt.Errorf("raster.WriteFloatBIL: %v", err)
	}
	if err := os.WriteFile(fp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("raster.WriteFloatBIL: %v", err)
	}
	if err := writeHDR(hdrPath(fp), def, Float32, desc); err != nil {
		return err
	}
	if def.Proj4 != "" {
		if err := os.WriteFile(prjPath(fp), []byte(def.Proj4+"\n"), 0644); err != nil {
			return fmt.Errorf("raster.WriteFloatBIL: %v", err)
		}
	}
	return nil
}

// WriteRaw writes a raw-encoded payload (test fixtures, covariate prep).
func WriteRaw(fp string, def Definition, dt Dtype, raw []byte) error {
	if want := def.Ncol * def.Nrow * dt.size(); len(raw) != want {
		return fmt.Errorf("raster.WriteRaw: payload is %d bytes, definition implies %d", len(raw), want)
	}
	if err := os.WriteFile(fp, raw, 0644); err != nil {
		return fmt.Errorf("raster.WriteRaw: %v", err)
	}
	if err := writeHDR(hdrPath(fp), def, dt, ""); err != nil {
		return err
	}
	if def.Proj4 != "" {
		if err := os.WriteFile(prjPath(fp), []byte(def.Proj4+"\n"), 0644); err != nil {
			return fmt.Errorf("raster.WriteRaw: %v", err)
		}
	}
	return nil
}

func hdrPath(fp string) string { return strings.TrimSuffix(fp, ".bil") + ".hdr" }
func prjPath(fp string) string { return strings.TrimSuffix(fp, ".bil") + ".prj" }

func writeHDR(fp string, def Definition, dt Dtype, desc string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "NROWS %d\n", def.Nrow)
	fmt.Fprintf(&sb, "NCOLS %d\n", def.Ncol)
	fmt.Fprintf(&sb, "NBANDS 1\n")
	fmt.Fprintf(&sb, "NBITS %d\n", dt.size()*8)
	fmt.Fprintf(&sb, "PIXELTYPE %s\n", pixelType(dt))
	fmt.Fprintf(&sb, "BYTEORDER I\n")
	fmt.Fprintf(&sb, "LAYOUT BIL\n")
	fmt.Fprintf(&sb, "ULXMAP %f\n", def.Ulx+def.Cs/2)
	fmt.Fprintf(&sb, "ULYMAP %f\n", def.Uly-def.Cs/2)
	fmt.Fprintf(&sb, "XDIM %f\n", def.Cs)
	fmt.Fprintf(&sb, "YDIM %f\n", def.Cs)
	fmt.Fprintf(&sb, "NODATA -9999\n")
	if desc != "" {
		fmt.Fprintf(&sb, "BANDNAMES %s\n", desc)
	}
	if err := os.WriteFile(fp, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("raster.writeHDR: %v", err)
	}
	return nil
}

func pixelType(dt Dtype) string {
	switch dt {
	case Byte:
		return "UNSIGNEDINT"
	case Int16:
		return "SIGNEDINT"
	default:
		return "FLOAT"
	}
}

func readHDR(fp string) (Definition, Dtype, error) {
	fh, err := os.Open(fp)
	if err != nil {
		return Definition{}, 0, fmt.Errorf("raster.readHDR: %v", err)
	}
	defer fh.Close()

	kv := map[string]string{}
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		fl := strings.Fields(sc.Text())
		if len(fl) >= 2 {
			kv[strings.ToUpper(fl[0])] = fl[1]
		}
	}
	geti := func(k string) (int, error) {
		v, ok := kv[k]
		if !ok {
			return 0, fmt.Errorf("raster.readHDR: %s: missing %s", fp, k)
		}
		return strconv.Atoi(v)
	}
	getf := func(k string) (float64, error) {
		v, ok := kv[k]
		if !ok {
			return 0, fmt.Errorf("raster.readHDR: %s: missing %s", fp, k)
		}
		return strconv.ParseFloat(v, 64)
	}

	var d Definition
	var errs []error
	var nbits int
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var e error
	d.Nrow, e = geti("NROWS")
	collect(e)
	d.Ncol, e = geti("NCOLS")
	collect(e)
	nbits, e = geti("NBITS")
	collect(e)
	cx, e := getf("ULXMAP")
	collect(e)
	cy, e := getf("ULYMAP")
	collect(e)
	d.Cs, e = getf("XDIM")
	collect(e)
	if len(errs) > 0 {
		return Definition{}, 0, errs[0]
	}
	// ULXMAP/ULYMAP reference the first cell centre
	d.Ulx = cx - d.Cs/2
	d.Uly = cy + d.Cs/2

	var dt Dtype
	switch {
	case nbits == 8:
		dt = Byte
	case nbits == 16:
		dt = Int16
	case nbits == 32 && strings.EqualFold(kv["PIXELTYPE"], "FLOAT"):
		dt = Float32
	default:
		return Definition{}, 0, fmt.Errorf("raster.readHDR: %s: unsupported NBITS %d", fp, nbits)
	}
	return d, dt, nil
}
