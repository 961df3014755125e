package graintable

import (
	"bufio"
	"fmt"
	"io"

	"github.com/flavioribeiro/grainsmith/av1"
)

// Serialize writes segments in the filmgrn1 text form. Every entry is
// written with update_parameters 1 so each one stands on its own; parsers
// that resolve inheritance read the result unchanged.
func Serialize(w io.Writer, segs []Segment) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", Magic)
	for i := range segs {
		writeSegment(bw, &segs[i])
	}
	return bw.Flush()
}

func writeSegment(w *bufio.Writer, s *Segment) {
	p := &s.Params
	if !p.ApplyGrain {
		// An off range synthesizes nothing, so its model block is
		// written as the canonical empty model. The zero struct would
		// not survive the parser's shift range checks.
		off := av1.FilmGrainParams{GrainSeed: p.GrainSeed, ARCoeffShift: 6, ScalingShift: 8}
		p = &off
	}
	fmt.Fprintf(w, "E %d %d 1 %d %d\n", s.Start, s.End, p.GrainSeed, btoi(p.ApplyGrain))
	fmt.Fprintf(w, "\tp %d %d %d %d %d %d %d %d %d %d %d %d\n",
		p.ARCoeffLag, p.ARCoeffShift, p.GrainScaleShift, p.ScalingShift,
		btoi(p.ChromaScalingFromLuma), btoi(p.OverlapFlag),
		p.CbMult, p.CbLumaMult, p.CbOffset, p.CrMult, p.CrLumaMult, p.CrOffset)
	fmt.Fprintf(w, "\tsY %d ", len(p.YPoints))
	for _, pt := range p.YPoints {
		fmt.Fprintf(w, " %d %d", pt.Value, pt.Scaling)
	}
	fmt.Fprintf(w, "\n\tsCb %d", len(p.CbPoints))
	for _, pt := range p.CbPoints {
		fmt.Fprintf(w, " %d %d", pt.Value, pt.Scaling)
	}
	fmt.Fprintf(w, "\n\tsCr %d", len(p.CrPoints))
	for _, pt := range p.CrPoints {
		fmt.Fprintf(w, " %d %d", pt.Value, pt.Scaling)
	}

	// The text form always carries every luma tap and one extra chroma
	// tap; slices the bitstream syntax skipped are padded with zeros.
	numLuma, _ := av1.NumARCoeffs(p.ARCoeffLag, true)
	fmt.Fprintf(w, "\n\tcY")
	for i := 0; i < numLuma; i++ {
		fmt.Fprintf(w, " %d", coeffAt(p.ARCoeffsY, i))
	}
	fmt.Fprintf(w, "\n\tcCb")
	for i := 0; i <= numLuma; i++ {
		fmt.Fprintf(w, " %d", coeffAt(p.ARCoeffsCb, i))
	}
	fmt.Fprintf(w, "\n\tcCr")
	for i := 0; i <= numLuma; i++ {
		fmt.Fprintf(w, " %d", coeffAt(p.ARCoeffsCr, i))
	}
	fmt.Fprintf(w, "\n")
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func coeffAt(cs []int8, i int) int8 {
	if i < len(cs) {
		return cs[i]
	}
	return 0
}

// Builder accumulates per frame grain in presentation order and coalesces
// runs that share one synthesis model. The first frame of a run names its
// seed; later frames only push the end time out.
type Builder struct {
	segs []Segment
}

// Add records that [start, end) displays with params. Callers feed frames
// in order, so only the tail segment is ever a merge candidate.
func (b *Builder) Add(start, end int64, params av1.FilmGrainParams) {
	if end <= start {
		return
	}
	if n := len(b.segs); n > 0 && b.segs[n-1].Params.SameModel(params) {
		if end > b.segs[n-1].End {
			b.segs[n-1].End = end
		}
		return
	}
	p := params.Clone()
	p.UpdateGrain = true
	p.RefIdx = 0
	b.segs = append(b.segs, Segment{Start: start, End: end, Params: p})
}

// Segments returns the coalesced table built so far.
func (b *Builder) Segments() []Segment {
	return b.segs
}
