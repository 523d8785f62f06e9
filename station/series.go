package station

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/maseology/mmio"
)

// missing is the series-file marker for an absent daily value.
const missing = -9999

// Obs is one cleaned daily observation, already in working units.
type Obs struct {
	ID    int
	Date  time.Time
	Value float64
}

// SeriesSummary counts what the cleaning rules removed.
type SeriesSummary struct {
	NAccepted, NQualityRejected, NMissing, NMalformed int
}

func (s *SeriesSummary) add(o SeriesSummary) {
	s.NAccepted += o.NAccepted
	s.NQualityRejected += o.NQualityRejected
	s.NMissing += o.NMissing
	s.NMalformed += o.NMalformed
}

// SeriesPath names a station's daily-maximum file within the archive.
func SeriesPath(dir string, id int) string {
	return fmt.Sprintf("%s/TX_STAID%06d.txt", dir, id)
}

// LoadSeries reads and cleans one station's file: only quality flag 0 is
// accepted, the missing marker is dropped, raw tenths convert to whole
// units, and dates outside [t0,t1] are ignored. An absent file returns an
// empty series, not an error, as partial archives are normal.
func LoadSeries(dir string, id int, t0, t1 time.Time) ([]Obs, SeriesSummary, error) {
	var sum SeriesSummary
	fp := SeriesPath(dir, id)
	if _, ok := mmio.FileExists(fp); !ok {
		return nil, sum, nil
	}
	lns, err := mmio.ReadTextLines(fp)
	if err != nil {
		return nil, sum, fmt.Errorf("station.LoadSeries: %v", err)
	}
	start := -1
	for i, ln := range lns {
		if strings.Contains(ln, "STAID") && strings.Contains(ln, "SOUID") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, sum, fmt.Errorf("station.LoadSeries: %s: column header not found", fp)
	}

	var o []Obs
	for _, ln := range lns[start:] {
		f := strings.Split(strings.TrimSpace(ln), ",")
		if len(f) < 5 {
			continue
		}
		d, err0 := time.Parse("20060102", strings.TrimSpace(f[2]))
		raw, err1 := strconv.Atoi(strings.TrimSpace(f[3]))
		q, err2 := strconv.Atoi(strings.TrimSpace(f[4]))
		if err0 != nil || err1 != nil || err2 != nil {
			sum.NMalformed++
			continue
		}
		if d.Before(t0) || d.After(t1) {
			continue
		}
		if q != 0 {
			sum.NQualityRejected++
			continue
		}
		if raw == missing {
			sum.NMissing++
			continue
		}
		sum.NAccepted++
		o = append(o, Obs{ID: id, Date: d, Value: float64(raw) / 10})
	}
	return o, sum, nil
}

// LoadAll collects the cleaned series of every station in the metadata
// set, in ascending station order.
func LoadAll(dir string, metas map[int]Meta, t0, t1 time.Time) ([]Obs, SeriesSummary, error) {
	ids := make([]int, 0, len(metas))
	for id := range metas {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var all []Obs
	var sum SeriesSummary
	for _, id := range ids {
		o, s, err := LoadSeries(dir, id, t0, t1)
		if err != nil {
			return nil, sum, err
		}
		sum.add(s)
		all = append(all, o...)
	}
	return all, sum, nil
}
