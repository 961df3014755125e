package av1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testGrainParams() FilmGrainParams {
	return FilmGrainParams{
		ApplyGrain:  true,
		GrainSeed:   7391,
		UpdateGrain: true,
		YPoints: []ScalingPoint{
			{Value: 0, Scaling: 20}, {Value: 13, Scaling: 24}, {Value: 255, Scaling: 36},
		},
		CbPoints: []ScalingPoint{
			{Value: 0, Scaling: 10}, {Value: 255, Scaling: 12},
		},
		CrPoints: []ScalingPoint{
			{Value: 0, Scaling: 8}, {Value: 255, Scaling: 11},
		},
		ScalingShift:    8,
		ARCoeffLag:      2,
		ARCoeffsY:       []int8{4, -7, 2, 0, 1, -3, 8, 0, -1, 2, 5, -6},
		ARCoeffsCb:      []int8{1, 0, -2, 3, 0, 0, 1, -1, 0, 2, 0, 1, 64},
		ARCoeffsCr:      []int8{0, 1, -1, 2, 0, 1, 0, -2, 1, 0, 3, 0, 60},
		ARCoeffShift:    6,
		GrainScaleShift: 0,
		CbMult:          128,
		CbLumaMult:      192,
		CbOffset:        256,
		CrMult:          128,
		CrLumaMult:      192,
		CrOffset:        256,
		OverlapFlag:     true,
	}
}

func TestFilmGrainRoundTrip(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	want := testGrainParams()

	w := NewBitWriter()
	assert.NoError(t, want.Encode(w, ctx))
	w.AlignByte()

	got, err := DecodeFilmGrain(NewBitReader(w.Bytes()), ctx)
	assert.NoError(t, err)
	assert.True(t, got.Equal(want))
}

func TestFilmGrainRoundTripMonochrome(t *testing.T) {
	ctx := GrainSyntaxContext{Monochrome: true, SubsamplingX: 1, SubsamplingY: 1}
	want := testGrainParams()
	want.CbPoints, want.CrPoints = nil, nil
	want.ARCoeffsCb, want.ARCoeffsCr = nil, nil
	want.CbMult, want.CbLumaMult, want.CbOffset = 0, 0, 0
	want.CrMult, want.CrLumaMult, want.CrOffset = 0, 0, 0

	w := NewBitWriter()
	assert.NoError(t, want.Encode(w, ctx))
	w.AlignByte()

	got, err := DecodeFilmGrain(NewBitReader(w.Bytes()), ctx)
	assert.NoError(t, err)
	assert.True(t, got.Equal(want))
}

func TestFilmGrainRoundTripChromaFromLuma(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	want := testGrainParams()
	want.ChromaScalingFromLuma = true
	want.CbPoints, want.CrPoints = nil, nil
	want.CbMult, want.CbLumaMult, want.CbOffset = 0, 0, 0
	want.CrMult, want.CrLumaMult, want.CrOffset = 0, 0, 0

	w := NewBitWriter()
	assert.NoError(t, want.Encode(w, ctx))
	w.AlignByte()

	got, err := DecodeFilmGrain(NewBitReader(w.Bytes()), ctx)
	assert.NoError(t, err)
	assert.True(t, got.Equal(want))
}

func TestFilmGrainRoundTripInherited(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1, InterFrame: true}
	want := FilmGrainParams{ApplyGrain: true, GrainSeed: 40000, RefIdx: 5}

	w := NewBitWriter()
	assert.NoError(t, want.Encode(w, ctx))
	w.AlignByte()

	// apply_grain + 16 seed bits + update_grain + 3 idx bits.
	assert.Equal(t, 21, w.BitLen())

	got, err := DecodeFilmGrain(NewBitReader(w.Bytes()), ctx)
	assert.NoError(t, err)
	assert.True(t, got.Equal(want))
	assert.False(t, got.UpdateGrain)
	assert.Equal(t, uint8(5), got.RefIdx)
}

func TestFilmGrainDisabledIsOneBit(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	w := NewBitWriter()
	assert.NoError(t, FilmGrainParams{}.Encode(w, ctx))
	assert.Equal(t, 1, w.BitLen())

	got, err := DecodeFilmGrain(NewBitReader([]byte{0x00}), ctx)
	assert.NoError(t, err)
	assert.False(t, got.ApplyGrain)
}

func TestFilmGrainChromaSuppressedFor420WithoutLumaPoints(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	want := FilmGrainParams{
		ApplyGrain:   true,
		GrainSeed:    123,
		UpdateGrain:  true,
		ScalingShift: 8,
		ARCoeffShift: 6,
	}

	w := NewBitWriter()
	assert.NoError(t, want.Encode(w, ctx))
	w.AlignByte()

	got, err := DecodeFilmGrain(NewBitReader(w.Bytes()), ctx)
	assert.NoError(t, err)
	assert.Empty(t, got.CbPoints)
	assert.Empty(t, got.CrPoints)
	assert.True(t, got.Equal(want))
}

func TestFilmGrain444KeepsChromaPointsWithoutLumaPoints(t *testing.T) {
	// With no subsampling the chroma planes keep their own scaling even
	// when luma has no points.
	ctx := GrainSyntaxContext{}
	want := FilmGrainParams{
		ApplyGrain:   true,
		GrainSeed:    99,
		UpdateGrain:  true,
		CbPoints:     []ScalingPoint{{Value: 0, Scaling: 5}, {Value: 128, Scaling: 9}},
		CrPoints:     []ScalingPoint{{Value: 10, Scaling: 4}},
		ScalingShift: 9,
		ARCoeffLag:   1,
		ARCoeffsCb:   []int8{1, -1, 0, 2},
		ARCoeffsCr:   []int8{0, 1, 1, -2},
		ARCoeffShift: 7,
		CbMult:       100,
		CbLumaMult:   50,
		CbOffset:     300,
		CrMult:       90,
		CrLumaMult:   60,
		CrOffset:     200,
	}

	w := NewBitWriter()
	assert.NoError(t, want.Encode(w, ctx))
	w.AlignByte()

	got, err := DecodeFilmGrain(NewBitReader(w.Bytes()), ctx)
	assert.NoError(t, err)
	assert.True(t, got.Equal(want))
}

func TestFilmGrainDecodeRejectsUnorderedPoints(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	w := NewBitWriter()
	w.WriteFlag(true)           // apply_grain
	w.WriteBits(77, 16)         // grain_seed
	w.WriteBits(2, 4)           // num_y_points
	w.WriteBits(40, 8)          // point_y_value[0]
	w.WriteBits(10, 8)          // point_y_scaling[0]
	w.WriteBits(40, 8)          // point_y_value[1], not increasing
	w.WriteBits(11, 8)          // point_y_scaling[1]
	w.WriteFlag(false)          // chroma_scaling_from_luma
	w.WriteBits(0, 4)           // num_cb_points
	w.WriteBits(0, 4)           // num_cr_points
	w.WriteBits(0, 2)           // grain_scaling_minus_8
	w.WriteBits(0, 2)           // ar_coeff_lag
	writeARCoeffs(w, []int8{0}) // ar_coeffs_y, lag 0 with points
	w.WriteBits(0, 2)           // ar_coeff_shift_minus_6
	w.WriteBits(0, 2)           // grain_scale_shift
	w.WriteFlag(false)          // overlap_flag
	w.WriteFlag(false)          // clip_to_restricted_range
	w.AlignByte()

	_, err := DecodeFilmGrain(NewBitReader(w.Bytes()), ctx)
	assert.ErrorIs(t, err, ErrMalformedStream)
}

func TestFilmGrainDecodeRejectsTooManyPoints(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	w := NewBitWriter()
	w.WriteFlag(true)    // apply_grain
	w.WriteBits(77, 16)  // grain_seed
	w.WriteBits(15, 4)   // num_y_points > 14
	w.WriteBits(0, 16)   // whatever follows is never reached
	w.AlignByte()

	_, err := DecodeFilmGrain(NewBitReader(w.Bytes()), ctx)
	assert.ErrorIs(t, err, ErrMalformedStream)
}

func TestFilmGrainDecodeTruncated(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	w := NewBitWriter()
	assert.NoError(t, testGrainParams().Encode(w, ctx))
	w.AlignByte()
	data := w.Bytes()

	_, err := DecodeFilmGrain(NewBitReader(data[:3]), ctx)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestFilmGrainValidateCoeffCounts(t *testing.T) {
	ctx := GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	p := testGrainParams()
	p.ARCoeffsY = p.ARCoeffsY[:5]
	assert.ErrorIs(t, p.Validate(ctx), ErrInvalidGrainParams)

	p = testGrainParams()
	p.ScalingShift = 12
	assert.ErrorIs(t, p.Validate(ctx), ErrInvalidGrainParams)

	p = testGrainParams()
	p.CbOffset = 512
	assert.ErrorIs(t, p.Validate(ctx), ErrInvalidGrainParams)
}

func TestFilmGrainSameModel(t *testing.T) {
	a := testGrainParams()
	b := testGrainParams()
	b.GrainSeed = 1

	assert.False(t, a.Equal(b))
	assert.True(t, a.SameModel(b))

	b.UpdateGrain = false
	b.RefIdx = 3
	assert.True(t, a.SameModel(b))

	b.ARCoeffsY[0]++
	assert.False(t, a.SameModel(b))

	off := FilmGrainParams{}
	assert.True(t, off.SameModel(FilmGrainParams{GrainSeed: 9}))
	assert.False(t, off.SameModel(a))
}

func TestFilmGrainClone(t *testing.T) {
	a := testGrainParams()
	b := a.Clone()
	b.YPoints[0].Scaling++
	b.ARCoeffsCb[0]++

	assert.NotEqual(t, a.YPoints[0].Scaling, b.YPoints[0].Scaling)
	assert.NotEqual(t, a.ARCoeffsCb[0], b.ARCoeffsCb[0])
	assert.True(t, a.Equal(testGrainParams()))
}

func TestNumARCoeffs(t *testing.T) {
	for _, tt := range []struct {
		lag        uint8
		hasY       bool
		luma       int
		chroma     int
	}{
		{0, false, 0, 0},
		{0, true, 0, 1},
		{1, true, 4, 5},
		{2, true, 12, 13},
		{3, true, 24, 25},
		{3, false, 24, 24},
	} {
		luma, chroma := NumARCoeffs(tt.lag, tt.hasY)
		assert.Equal(t, tt.luma, luma)
		assert.Equal(t, tt.chroma, chroma)
	}
}

func TestNextGrainSeed(t *testing.T) {
	assert.Equal(t, NextGrainSeed(7391), NextGrainSeed(7391))

	for _, seed := range []uint16{1, 7391, 0x8000, 0xffff} {
		assert.NotEqual(t, seed, NextGrainSeed(seed), "seed %d", seed)
	}
	assert.NotZero(t, NextGrainSeed(0))

	// A run of frames sharing one model draws its seeds from this chain,
	// so the chain must not collapse or repeat over a realistic run.
	seen := map[uint16]bool{7391: true}
	s := uint16(7391)
	for i := 0; i < 64; i++ {
		s = NextGrainSeed(s)
		assert.NotZero(t, s)
		assert.False(t, seen[s], "seed chain repeated after %d frames", i+1)
		seen[s] = true
	}
}
