package av1

import "fmt"

// ScalingPoint is one (value, scaling) pair of a piecewise linear scaling
// function. Values are in the 8 bit domain regardless of stream bit depth.
type ScalingPoint struct {
	Value   uint8
	Scaling uint8
}

// FilmGrainParams is the decoded form of the film_grain_params frame header
// structure. It is a value type: edits produce new instances, never mutate a
// stored one.
//
// When ApplyGrain is false every other field is zero. When UpdateGrain is
// false the frame inherits a reference slot's parameters and only GrainSeed
// and RefIdx are meaningful; resolved parameters carry UpdateGrain true.
type FilmGrainParams struct {
	ApplyGrain  bool
	GrainSeed   uint16
	UpdateGrain bool
	RefIdx      uint8

	YPoints               []ScalingPoint
	ChromaScalingFromLuma bool
	CbPoints              []ScalingPoint
	CrPoints              []ScalingPoint

	// ScalingShift is grain_scaling_minus_8 + 8, range 8..=11.
	ScalingShift uint8

	ARCoeffLag uint8
	ARCoeffsY  []int8
	ARCoeffsCb []int8
	ARCoeffsCr []int8
	// ARCoeffShift is ar_coeff_shift_minus_6 + 6, range 6..=9.
	ARCoeffShift    uint8
	GrainScaleShift uint8

	CbMult     uint8
	CbLumaMult uint8
	CbOffset   uint16
	CrMult     uint8
	CrLumaMult uint8
	CrOffset   uint16

	OverlapFlag           bool
	ClipToRestrictedRange bool
}

// GrainSyntaxContext carries the sequence and frame level state the
// film_grain_params syntax depends on.
type GrainSyntaxContext struct {
	Monochrome   bool
	SubsamplingX uint8
	SubsamplingY uint8
	InterFrame   bool
}

// numPosLuma returns the luma AR coefficient count for a lag.
func numPosLuma(lag uint8) int {
	return 2 * int(lag) * (int(lag) + 1)
}

// NumARCoeffs returns the (luma, chroma) AR coefficient counts implied by a
// lag and the presence of luma scaling points. The chroma count gains the
// luma coupling tap only when luma points exist.
func NumARCoeffs(lag uint8, hasYPoints bool) (int, int) {
	luma := numPosLuma(lag)
	chroma := luma
	if hasYPoints {
		chroma = luma + 1
	}
	return luma, chroma
}

func (c GrainSyntaxContext) chromaSuppressed(numYPoints int, chromaScalingFromLuma bool) bool {
	if c.Monochrome || chromaScalingFromLuma {
		return true
	}
	return c.SubsamplingX == 1 && c.SubsamplingY == 1 && numYPoints == 0
}

// DecodeFilmGrain reads film_grain_params from r. The caller has already
// checked that the sequence header signals grain and the frame is shown or
// showable; this reads from the apply_grain bit onward.
func DecodeFilmGrain(r *BitReader, c GrainSyntaxContext) (FilmGrainParams, error) {
	var p FilmGrainParams
	p.ApplyGrain = r.ReadFlag()
	if !p.ApplyGrain {
		return p, r.Err()
	}
	p.GrainSeed = uint16(r.ReadBits(16))

	p.UpdateGrain = true
	if c.InterFrame {
		p.UpdateGrain = r.ReadFlag()
	}
	if !p.UpdateGrain {
		p.RefIdx = uint8(r.ReadBits(3))
		return p, r.Err()
	}

	numY := int(r.ReadBits(4))
	if numY > MaxYPoints {
		return p, fmt.Errorf("%w: %d luma scaling points, maximum is %d", ErrMalformedStream, numY, MaxYPoints)
	}
	p.YPoints = readScalingPoints(r, numY)

	if !c.Monochrome {
		p.ChromaScalingFromLuma = r.ReadFlag()
	}
	if !c.chromaSuppressed(numY, p.ChromaScalingFromLuma) {
		numCb := int(r.ReadBits(4))
		if numCb > MaxChromaPoints {
			return p, fmt.Errorf("%w: %d cb scaling points, maximum is %d", ErrMalformedStream, numCb, MaxChromaPoints)
		}
		p.CbPoints = readScalingPoints(r, numCb)
		numCr := int(r.ReadBits(4))
		if numCr > MaxChromaPoints {
			return p, fmt.Errorf("%w: %d cr scaling points, maximum is %d", ErrMalformedStream, numCr, MaxChromaPoints)
		}
		p.CrPoints = readScalingPoints(r, numCr)
	}

	p.ScalingShift = uint8(r.ReadBits(2)) + 8
	p.ARCoeffLag = uint8(r.ReadBits(2))
	numLuma, numChroma := NumARCoeffs(p.ARCoeffLag, len(p.YPoints) > 0)
	if len(p.YPoints) > 0 {
		p.ARCoeffsY = readARCoeffs(r, numLuma)
	}
	if p.ChromaScalingFromLuma || len(p.CbPoints) > 0 {
		p.ARCoeffsCb = readARCoeffs(r, numChroma)
	}
	if p.ChromaScalingFromLuma || len(p.CrPoints) > 0 {
		p.ARCoeffsCr = readARCoeffs(r, numChroma)
	}
	p.ARCoeffShift = uint8(r.ReadBits(2)) + 6
	p.GrainScaleShift = uint8(r.ReadBits(2))
	if len(p.CbPoints) > 0 {
		p.CbMult = uint8(r.ReadBits(8))
		p.CbLumaMult = uint8(r.ReadBits(8))
		p.CbOffset = uint16(r.ReadBits(9))
	}
	if len(p.CrPoints) > 0 {
		p.CrMult = uint8(r.ReadBits(8))
		p.CrLumaMult = uint8(r.ReadBits(8))
		p.CrOffset = uint16(r.ReadBits(9))
	}
	p.OverlapFlag = r.ReadFlag()
	p.ClipToRestrictedRange = r.ReadFlag()
	if err := r.Err(); err != nil {
		return p, err
	}
	if err := validatePointOrder(p.YPoints); err != nil {
		return p, err
	}
	if err := validatePointOrder(p.CbPoints); err != nil {
		return p, err
	}
	if err := validatePointOrder(p.CrPoints); err != nil {
		return p, err
	}
	return p, nil
}

func readScalingPoints(r *BitReader, n int) []ScalingPoint {
	if n == 0 {
		return nil
	}
	pts := make([]ScalingPoint, n)
	for i := range pts {
		pts[i].Value = uint8(r.ReadBits(8))
		pts[i].Scaling = uint8(r.ReadBits(8))
	}
	return pts
}

func readARCoeffs(r *BitReader, n int) []int8 {
	if n == 0 {
		return []int8{}
	}
	cs := make([]int8, n)
	for i := range cs {
		cs[i] = int8(int(r.ReadBits(8)) - 128)
	}
	return cs
}

func validatePointOrder(pts []ScalingPoint) error {
	for i := 1; i < len(pts); i++ {
		if pts[i].Value <= pts[i-1].Value {
			return fmt.Errorf("%w: scaling point values must be strictly increasing (%d after %d)", ErrMalformedStream, pts[i].Value, pts[i-1].Value)
		}
	}
	return nil
}

// Encode appends the film_grain_params bits for p to w, using exactly the
// skip logic Decode uses so that the two round trip bit for bit.
func (p FilmGrainParams) Encode(w *BitWriter, c GrainSyntaxContext) error {
	if err := p.Validate(c); err != nil {
		return err
	}
	w.WriteFlag(p.ApplyGrain)
	if !p.ApplyGrain {
		return nil
	}
	w.WriteBits(uint64(p.GrainSeed), 16)
	if c.InterFrame {
		w.WriteFlag(p.UpdateGrain)
	}
	if !p.UpdateGrain {
		w.WriteBits(uint64(p.RefIdx), 3)
		return nil
	}

	w.WriteBits(uint64(len(p.YPoints)), 4)
	writeScalingPoints(w, p.YPoints)
	if !c.Monochrome {
		w.WriteFlag(p.ChromaScalingFromLuma)
	}
	if !c.chromaSuppressed(len(p.YPoints), p.ChromaScalingFromLuma) {
		w.WriteBits(uint64(len(p.CbPoints)), 4)
		writeScalingPoints(w, p.CbPoints)
		w.WriteBits(uint64(len(p.CrPoints)), 4)
		writeScalingPoints(w, p.CrPoints)
	}
	w.WriteBits(uint64(p.ScalingShift-8), 2)
	w.WriteBits(uint64(p.ARCoeffLag), 2)
	if len(p.YPoints) > 0 {
		writeARCoeffs(w, p.ARCoeffsY)
	}
	if p.ChromaScalingFromLuma || len(p.CbPoints) > 0 {
		writeARCoeffs(w, p.ARCoeffsCb)
	}
	if p.ChromaScalingFromLuma || len(p.CrPoints) > 0 {
		writeARCoeffs(w, p.ARCoeffsCr)
	}
	w.WriteBits(uint64(p.ARCoeffShift-6), 2)
	w.WriteBits(uint64(p.GrainScaleShift), 2)
	if len(p.CbPoints) > 0 {
		w.WriteBits(uint64(p.CbMult), 8)
		w.WriteBits(uint64(p.CbLumaMult), 8)
		w.WriteBits(uint64(p.CbOffset), 9)
	}
	if len(p.CrPoints) > 0 {
		w.WriteBits(uint64(p.CrMult), 8)
		w.WriteBits(uint64(p.CrLumaMult), 8)
		w.WriteBits(uint64(p.CrOffset), 9)
	}
	w.WriteFlag(p.OverlapFlag)
	w.WriteFlag(p.ClipToRestrictedRange)
	return nil
}

func writeScalingPoints(w *BitWriter, pts []ScalingPoint) {
	for _, pt := range pts {
		w.WriteBits(uint64(pt.Value), 8)
		w.WriteBits(uint64(pt.Scaling), 8)
	}
}

func writeARCoeffs(w *BitWriter, cs []int8) {
	for _, c := range cs {
		w.WriteBits(uint64(int(c)+128), 8)
	}
}

// Validate checks that p can be coded for streams described by c.
func (p FilmGrainParams) Validate(c GrainSyntaxContext) error {
	if !p.ApplyGrain {
		return nil
	}
	if !p.UpdateGrain {
		if p.RefIdx >= NumRefFrames {
			return fmt.Errorf("%w: ref idx %d out of range", ErrInvalidGrainParams, p.RefIdx)
		}
		return nil
	}
	if len(p.YPoints) > MaxYPoints {
		return fmt.Errorf("%w: %d luma scaling points, maximum is %d", ErrInvalidGrainParams, len(p.YPoints), MaxYPoints)
	}
	if len(p.CbPoints) > MaxChromaPoints || len(p.CrPoints) > MaxChromaPoints {
		return fmt.Errorf("%w: too many chroma scaling points", ErrInvalidGrainParams)
	}
	if c.chromaSuppressed(len(p.YPoints), p.ChromaScalingFromLuma) && (len(p.CbPoints) > 0 || len(p.CrPoints) > 0) {
		return fmt.Errorf("%w: chroma scaling points cannot be coded for this stream", ErrInvalidGrainParams)
	}
	if p.ScalingShift < 8 || p.ScalingShift > 11 {
		return fmt.Errorf("%w: scaling shift %d out of range 8..11", ErrInvalidGrainParams, p.ScalingShift)
	}
	if p.ARCoeffShift < 6 || p.ARCoeffShift > 9 {
		return fmt.Errorf("%w: ar coeff shift %d out of range 6..9", ErrInvalidGrainParams, p.ARCoeffShift)
	}
	if p.ARCoeffLag > MaxARCoeffLag {
		return fmt.Errorf("%w: ar coeff lag %d out of range", ErrInvalidGrainParams, p.ARCoeffLag)
	}
	if p.GrainScaleShift > 3 {
		return fmt.Errorf("%w: grain scale shift %d out of range", ErrInvalidGrainParams, p.GrainScaleShift)
	}
	if p.CbOffset > 511 || p.CrOffset > 511 {
		return fmt.Errorf("%w: chroma offset out of range", ErrInvalidGrainParams)
	}
	numLuma, numChroma := NumARCoeffs(p.ARCoeffLag, len(p.YPoints) > 0)
	if len(p.YPoints) > 0 && len(p.ARCoeffsY) != numLuma {
		return fmt.Errorf("%w: %d luma ar coeffs, lag %d with luma points needs %d", ErrInvalidGrainParams, len(p.ARCoeffsY), p.ARCoeffLag, numLuma)
	}
	if (p.ChromaScalingFromLuma || len(p.CbPoints) > 0) && len(p.ARCoeffsCb) != numChroma {
		return fmt.Errorf("%w: %d cb ar coeffs, need %d", ErrInvalidGrainParams, len(p.ARCoeffsCb), numChroma)
	}
	if (p.ChromaScalingFromLuma || len(p.CrPoints) > 0) && len(p.ARCoeffsCr) != numChroma {
		return fmt.Errorf("%w: %d cr ar coeffs, need %d", ErrInvalidGrainParams, len(p.ARCoeffsCr), numChroma)
	}
	if err := validatePointOrder(p.YPoints); err != nil {
		return fmt.Errorf("%w: luma %v", ErrInvalidGrainParams, err)
	}
	if err := validatePointOrder(p.CbPoints); err != nil {
		return fmt.Errorf("%w: cb %v", ErrInvalidGrainParams, err)
	}
	if err := validatePointOrder(p.CrPoints); err != nil {
		return fmt.Errorf("%w: cr %v", ErrInvalidGrainParams, err)
	}
	return nil
}

// Equal reports field wise equality.
func (p FilmGrainParams) Equal(o FilmGrainParams) bool {
	return p.GrainSeed == o.GrainSeed &&
		p.UpdateGrain == o.UpdateGrain &&
		p.RefIdx == o.RefIdx &&
		p.SameModel(o)
}

// SameModel reports whether both parameter sets synthesize the same grain.
// GrainSeed, UpdateGrain and RefIdx describe how a set was coded, not what
// it renders, so they do not participate. Timeline coalescing relies on
// this: consecutive frames that differ only in seed share one model.
func (p FilmGrainParams) SameModel(o FilmGrainParams) bool {
	if p.ApplyGrain != o.ApplyGrain {
		return false
	}
	if !p.ApplyGrain {
		return true
	}
	return p.ChromaScalingFromLuma == o.ChromaScalingFromLuma &&
		p.ScalingShift == o.ScalingShift &&
		p.ARCoeffLag == o.ARCoeffLag &&
		p.ARCoeffShift == o.ARCoeffShift &&
		p.GrainScaleShift == o.GrainScaleShift &&
		p.CbMult == o.CbMult && p.CbLumaMult == o.CbLumaMult && p.CbOffset == o.CbOffset &&
		p.CrMult == o.CrMult && p.CrLumaMult == o.CrLumaMult && p.CrOffset == o.CrOffset &&
		p.OverlapFlag == o.OverlapFlag &&
		p.ClipToRestrictedRange == o.ClipToRestrictedRange &&
		equalPoints(p.YPoints, o.YPoints) &&
		equalPoints(p.CbPoints, o.CbPoints) &&
		equalPoints(p.CrPoints, o.CrPoints) &&
		equalCoeffs(p.ARCoeffsY, o.ARCoeffsY) &&
		equalCoeffs(p.ARCoeffsCb, o.ARCoeffsCb) &&
		equalCoeffs(p.ARCoeffsCr, o.ARCoeffsCr)
}

func equalPoints(a, b []ScalingPoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalCoeffs(a, b []int8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy; the slices of the result are independent.
func (p FilmGrainParams) Clone() FilmGrainParams {
	o := p
	o.YPoints = append([]ScalingPoint(nil), p.YPoints...)
	o.CbPoints = append([]ScalingPoint(nil), p.CbPoints...)
	o.CrPoints = append([]ScalingPoint(nil), p.CrPoints...)
	o.ARCoeffsY = cloneCoeffs(p.ARCoeffsY)
	o.ARCoeffsCb = cloneCoeffs(p.ARCoeffsCb)
	o.ARCoeffsCr = cloneCoeffs(p.ARCoeffsCr)
	return o
}

func cloneCoeffs(cs []int8) []int8 {
	if cs == nil {
		return nil
	}
	return append([]int8(nil), cs...)
}

// NextGrainSeed advances the grain generator's shift register by one full
// refill and returns the new seed. Giving consecutive frames of one grain
// run seeds from this chain keeps their noise decorrelated while the model
// itself stays shared.
func NextGrainSeed(seed uint16) uint16 {
	r := seed
	if r == 0 {
		// The register is a XOR feedback loop, so zero never leaves zero.
		r = 1
	}
	for i := 0; i < 16; i++ {
		bit := (r ^ r>>1 ^ r>>3 ^ r>>12) & 1
		r = r>>1 | bit<<15
	}
	return r
}
