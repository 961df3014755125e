// Package graintable reads and writes aomenc compatible film grain tables,
// the line oriented text format shared by aomenc's --film-grain-table flag
// and its photon noise utility. A table is an ordered list of time ranges,
// each carrying one complete set of film grain parameters.
package graintable

import (
	"errors"

	"github.com/flavioribeiro/grainsmith/av1"
)

// Magic is the format identification line at the top of every table.
const Magic = "filmgrn1"

// TicksPerSecond is the table's fixed time base.
const TicksPerSecond = 10_000_000

// ErrTableSyntax is wrapped by every parse failure, with the 1-based line
// number of the offending record.
var ErrTableSyntax = errors.New("grain table syntax error")

// Segment is one time range of the table. Start is inclusive, End exclusive,
// both in ticks. Params is always fully resolved: entries that inherit from
// their predecessor are expanded during parsing.
type Segment struct {
	Start  int64
	End    int64
	Params av1.FilmGrainParams
}

// Covers reports whether tick t falls inside the segment.
func (s Segment) Covers(t int64) bool {
	return t >= s.Start && t < s.End
}

// Ticks converts a timestamp in the given time base to table ticks. The
// remainder is scaled separately so typical container time bases survive
// without overflowing the intermediate product.
func Ticks(ts, timeBaseNum, timeBaseDen int64) int64 {
	if timeBaseDen == 0 {
		return 0
	}
	n := ts * timeBaseNum
	return (n/timeBaseDen)*TicksPerSecond + (n%timeBaseDen)*TicksPerSecond/timeBaseDen
}

// Lookup returns the segment covering tick t, or nil when the tables leave
// that instant uncovered. Segments are sorted and non overlapping, which
// Parse and Builder both guarantee.
func Lookup(segs []Segment, t int64) *Segment {
	lo, hi := 0, len(segs)
	for lo < hi {
		mid := (lo + hi) / 2
		if segs[mid].End <= t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(segs) && segs[lo].Covers(t) {
		return &segs[lo]
	}
	return nil
}
