// Package station reads the ground-observation archive: a metadata table
// giving each station's coordinates (sexagesimal on disk) and elevation,
// and one daily series file per station.
package station

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maseology/mmio"
)

// Meta is one station's identity and location, coordinates already in
// decimal degrees.
type Meta struct {
	ID        int
	Name      string
	Country   string
	Lat, Lon  float64
	Elevation float64 // m ASL
}

// ParseDMS converts a signed sexagesimal coordinate "+DD:MM:SS" to decimal
// degrees.
func ParseDMS(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("station.ParseDMS: %q lacks sign", s)
	}
	sign := 1.
	if s[0] == '-' {
		sign = -1.
	}
	p := strings.Split(s[1:], ":")
	if len(p) != 3 {
		return 0, fmt.Errorf("station.ParseDMS: %q is not DD:MM:SS", s)
	}
	d, err0 := strconv.ParseFloat(p[0], 64)
	m, err1 := strconv.ParseFloat(p[1], 64)
	sec, err2 := strconv.ParseFloat(p[2], 64)
	if err0 != nil || err1 != nil || err2 != nil {
		return 0, fmt.Errorf("station.ParseDMS: %q: bad component", s)
	}
	return sign * (d + m/60 + sec/3600), nil
}

// LoadMeta parses the archive's station table. Header lines run until the
// "STAID,STANAME" column row; unparseable rows are skipped and counted,
// never fatal.
func LoadMeta(fp string) (map[int]Meta, int, error) {
	lns, err := mmio.ReadTextLines(fp)
	if err != nil {
		return nil, 0, fmt.Errorf("station.LoadMeta: %v", err)
	}
	start := -1
	for i, ln := range lns {
		if strings.Contains(ln, "STAID,STANAME") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, 0, fmt.Errorf("station.LoadMeta: %s: column header not found", fp)
	}

	o, nskip := make(map[int]Meta), 0
	for _, ln := range lns[start:] {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		f := strings.Split(ln, ",")
		if len(f) < 6 {
			nskip++
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(f[0]))
		if err != nil {
			nskip++
			continue
		}
		lat, err0 := ParseDMS(f[3])
		lon, err1 := ParseDMS(f[4])
		elev, err2 := strconv.ParseFloat(strings.TrimSpace(f[5]), 64)
		if err0 != nil || err1 != nil || err2 != nil {
			nskip++
			continue
		}
		o[id] = Meta{
			ID:        id,
			Name:      strings.TrimSpace(f[1]),
			Country:   strings.TrimSpace(f[2]),
			Lat:       lat,
			Lon:       lon,
			Elevation: elev,
		}
	}
	return o, nskip, nil
}

// ByCountry filters the metadata table to one country code.
func ByCountry(m map[int]Meta, country string) map[int]Meta {
	o := make(map[int]Meta)
	for id, s := range m {
		if s.Country == country {
			o[id] = s
		}
	}
	return o
}
