package graintable

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/flavioribeiro/grainsmith/av1"
)

type parser struct {
	sc   *bufio.Scanner
	line int
	cur  []string
}

// next advances to the next non blank line and splits it into fields.
func (p *parser) next() bool {
	for p.sc.Scan() {
		p.line++
		p.cur = strings.Fields(p.sc.Text())
		if len(p.cur) > 0 {
			return true
		}
	}
	return false
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrTableSyntax, p.line, fmt.Sprintf(format, args...))
}

// ioErr reports a failure of the underlying reader, which must not be
// mistaken for a truncated table.
func (p *parser) ioErr() error {
	if err := p.sc.Err(); err != nil {
		return fmt.Errorf("reading grain table: %w", err)
	}
	return nil
}

func (p *parser) intField(name, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, p.errf("%s: %q is not an integer", name, s)
	}
	return v, nil
}

func (p *parser) rangeField(name, s string, min, max int64) (int64, error) {
	v, err := p.intField(name, s)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, p.errf("%s %d out of range [%d, %d]", name, v, min, max)
	}
	return v, nil
}

// block consumes the next line and checks its leading tag. want is the exact
// number of values after the tag, or -1 when the caller counts them itself.
func (p *parser) block(tag string, want int) ([]string, error) {
	if !p.next() {
		if err := p.ioErr(); err != nil {
			return nil, err
		}
		return nil, p.errf("missing %s record", tag)
	}
	if p.cur[0] != tag {
		return nil, p.errf("expected %s record, found %q", tag, p.cur[0])
	}
	if want >= 0 && len(p.cur)-1 != want {
		return nil, p.errf("%s: expected %d values, found %d", tag, want, len(p.cur)-1)
	}
	return p.cur[1:], nil
}

func (p *parser) points(tag string, max int) ([]av1.ScalingPoint, error) {
	f, err := p.block(tag, -1)
	if err != nil {
		return nil, err
	}
	if len(f) == 0 {
		return nil, p.errf("%s: missing point count", tag)
	}
	n, err := p.rangeField(tag+" count", f[0], 0, int64(max))
	if err != nil {
		return nil, err
	}
	if len(f)-1 != int(n)*2 {
		return nil, p.errf("%s: expected %d point values, found %d", tag, n*2, len(f)-1)
	}
	if n == 0 {
		return nil, nil
	}
	pts := make([]av1.ScalingPoint, n)
	for i := range pts {
		x, err := p.rangeField(tag+" value", f[1+2*i], 0, 255)
		if err != nil {
			return nil, err
		}
		y, err := p.rangeField(tag+" scaling", f[2+2*i], 0, 255)
		if err != nil {
			return nil, err
		}
		if i > 0 && uint8(x) <= pts[i-1].Value {
			return nil, p.errf("%s: point values must strictly increase", tag)
		}
		pts[i] = av1.ScalingPoint{Value: uint8(x), Scaling: uint8(y)}
	}
	return pts, nil
}

func (p *parser) coeffs(tag string, count int) ([]int8, error) {
	f, err := p.block(tag, count)
	if err != nil {
		return nil, err
	}
	out := make([]int8, count)
	for i := range out {
		v, err := p.rangeField(tag, f[i], -128, 127)
		if err != nil {
			return nil, err
		}
		out[i] = int8(v)
	}
	return out, nil
}

func (p *parser) entry(prev *av1.FilmGrainParams) (Segment, error) {
	f := p.cur
	if f[0] != "E" || len(f) != 6 {
		return Segment{}, p.errf("expected E record with 5 fields")
	}
	start, err := p.intField("start_time", f[1])
	if err != nil {
		return Segment{}, err
	}
	end, err := p.intField("end_time", f[2])
	if err != nil {
		return Segment{}, err
	}
	if end <= start {
		return Segment{}, p.errf("empty time range [%d, %d)", start, end)
	}
	update, err := p.rangeField("update_parameters", f[3], 0, 1)
	if err != nil {
		return Segment{}, err
	}
	seed, err := p.rangeField("random_seed", f[4], 0, 65535)
	if err != nil {
		return Segment{}, err
	}
	apply, err := p.rangeField("apply_grain", f[5], 0, 1)
	if err != nil {
		return Segment{}, err
	}

	seg := Segment{Start: start, End: end}
	if update == 0 {
		if prev == nil {
			return Segment{}, p.errf("entry inherits parameters but no previous entry exists")
		}
		seg.Params = prev.Clone()
		seg.Params.GrainSeed = uint16(seed)
		seg.Params.ApplyGrain = apply != 0
		return seg, nil
	}

	params := av1.FilmGrainParams{
		ApplyGrain:  apply != 0,
		GrainSeed:   uint16(seed),
		UpdateGrain: true,
	}
	pf, err := p.block("p", 12)
	if err != nil {
		return Segment{}, err
	}
	lag, err := p.rangeField("ar_coeff_lag", pf[0], 0, int64(av1.MaxARCoeffLag))
	if err != nil {
		return Segment{}, err
	}
	arShift, err := p.rangeField("ar_coeff_shift", pf[1], 6, 9)
	if err != nil {
		return Segment{}, err
	}
	gsShift, err := p.rangeField("grain_scale_shift", pf[2], 0, 3)
	if err != nil {
		return Segment{}, err
	}
	scShift, err := p.rangeField("scaling_shift", pf[3], 8, 11)
	if err != nil {
		return Segment{}, err
	}
	csfl, err := p.rangeField("chroma_scaling_from_luma", pf[4], 0, 1)
	if err != nil {
		return Segment{}, err
	}
	overlap, err := p.rangeField("overlap_flag", pf[5], 0, 1)
	if err != nil {
		return Segment{}, err
	}
	multNames := [6]string{"cb_mult", "cb_luma_mult", "cb_offset", "cr_mult", "cr_luma_mult", "cr_offset"}
	var mults [6]int64
	for i, name := range multNames {
		max := int64(255)
		if i == 2 || i == 5 {
			max = 511
		}
		if mults[i], err = p.rangeField(name, pf[6+i], 0, max); err != nil {
			return Segment{}, err
		}
	}
	params.ARCoeffLag = uint8(lag)
	params.ARCoeffShift = uint8(arShift)
	params.GrainScaleShift = uint8(gsShift)
	params.ScalingShift = uint8(scShift)
	params.ChromaScalingFromLuma = csfl != 0
	params.OverlapFlag = overlap != 0
	params.CbMult = uint8(mults[0])
	params.CbLumaMult = uint8(mults[1])
	params.CbOffset = uint16(mults[2])
	params.CrMult = uint8(mults[3])
	params.CrLumaMult = uint8(mults[4])
	params.CrOffset = uint16(mults[5])

	if params.YPoints, err = p.points("sY", av1.MaxYPoints); err != nil {
		return Segment{}, err
	}
	if params.CbPoints, err = p.points("sCb", av1.MaxChromaPoints); err != nil {
		return Segment{}, err
	}
	if params.CrPoints, err = p.points("sCr", av1.MaxChromaPoints); err != nil {
		return Segment{}, err
	}

	// The table stores the full luma coefficient count and one extra
	// chroma tap regardless of the point counts; the bitstream form keeps
	// only what the syntax will code.
	numLuma, numChroma := av1.NumARCoeffs(params.ARCoeffLag, len(params.YPoints) > 0)
	cy, err := p.coeffs("cY", numLuma)
	if err != nil {
		return Segment{}, err
	}
	ccb, err := p.coeffs("cCb", numLuma+1)
	if err != nil {
		return Segment{}, err
	}
	ccr, err := p.coeffs("cCr", numLuma+1)
	if err != nil {
		return Segment{}, err
	}
	if len(params.YPoints) > 0 {
		params.ARCoeffsY = cy
	}
	if params.ChromaScalingFromLuma || len(params.CbPoints) > 0 {
		params.ARCoeffsCb = ccb[:numChroma]
	}
	if params.ChromaScalingFromLuma || len(params.CrPoints) > 0 {
		params.ARCoeffsCr = ccr[:numChroma]
	}
	seg.Params = params
	return seg, nil
}

// Parse reads a grain table. Entries with update_parameters 0 are resolved
// against their predecessor, so every returned segment is self contained.
func Parse(r io.Reader) ([]Segment, error) {
	p := &parser{sc: bufio.NewScanner(r)}
	if !p.next() {
		if err := p.ioErr(); err != nil {
			return nil, err
		}
		return nil, p.errf("missing %q magic", Magic)
	}
	if len(p.cur) != 1 || p.cur[0] != Magic {
		return nil, p.errf("bad magic %q", strings.Join(p.cur, " "))
	}

	var segs []Segment
	var prev *av1.FilmGrainParams
	for p.next() {
		entryLine := p.line
		seg, err := p.entry(prev)
		if err != nil {
			return nil, err
		}
		if n := len(segs); n > 0 && seg.Start < segs[n-1].End {
			return nil, fmt.Errorf("%w: line %d: segment overlaps the previous one", ErrTableSyntax, entryLine)
		}
		segs = append(segs, seg)
		cp := seg.Params.Clone()
		prev = &cp
	}
	if err := p.ioErr(); err != nil {
		return nil, err
	}
	return segs, nil
}
