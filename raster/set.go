package raster

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maseology/mmio"
)

// Member is one archive file plus the temporal window it covers, taken
// from its name: <variable>_<start>_<end>.bil with YYYY-MM-DD dates.
type Member struct {
	*File
	Start, End time.Time
}

// Set indexes one covariate's archive directory; many dates resolve to the
// same member.
type Set struct {
	Variable string
	Members  []Member
}

// OpenSet scans dir for <variable>_*.bil members. Files whose names do not
// parse are ignored, matching the partial-coverage rule for source data.
func OpenSet(dir, variable string, enc Encoding) (*Set, error) {
	fps, _ := mmio.FileListExt(dir, ".bil")
	s := &Set{Variable: variable}
	for _, fp := range fps {
		stem := mmio.FileName(fp, false)
		parts := strings.Split(stem, "_")
		if len(parts) < 3 || parts[0] != variable {
			continue
		}
		t0, err0 := time.Parse("2006-01-02", parts[1])
		t1, err1 := time.Parse("2006-01-02", parts[2])
		if err0 != nil || err1 != nil {
			continue
		}
		f, err := Open(fp, enc)
		if err != nil {
			fmt.Printf("  skipping %s: %v\n", fp, err)
			continue
		}
		s.Members = append(s.Members, Member{File: f, Start: t0, End: t1})
	}
	sort.Slice(s.Members, func(i, j int) bool { return s.Members[i].Start.Before(s.Members[j].Start) })
	return s, nil
}

// Resolve returns the member whose window contains the date
// (start inclusive, end exclusive), or nil when none does.
func (s *Set) Resolve(date time.Time) *Member {
	for i := range s.Members {
		m := &s.Members[i]
		if !date.Before(m.Start) && date.Before(m.End) {
			return m
		}
	}
	return nil
}
