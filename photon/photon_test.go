package photon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flavioribeiro/grainsmith/av1"
)

func TestSynthesizeDeterministic(t *testing.T) {
	a, err := Synthesize(400, true)
	assert.NoError(t, err)
	b, err := Synthesize(400, true)
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSynthesizeModelShape(t *testing.T) {
	p, err := Synthesize(800, false)
	assert.NoError(t, err)

	assert.True(t, p.ApplyGrain)
	assert.True(t, p.UpdateGrain)
	assert.Equal(t, uint16(grainSeed), p.GrainSeed)
	assert.Equal(t, uint8(8), p.ScalingShift)
	assert.Equal(t, uint8(6), p.ARCoeffShift)
	assert.Equal(t, uint8(0), p.ARCoeffLag)
	assert.True(t, p.OverlapFlag)

	assert.Len(t, p.YPoints, 14)
	assert.Equal(t, uint8(0), p.YPoints[0].Value)
	assert.Equal(t, uint8(255), p.YPoints[13].Value)
	for i := 1; i < len(p.YPoints); i++ {
		assert.Greater(t, p.YPoints[i].Value, p.YPoints[i-1].Value)
	}

	assert.False(t, p.ChromaScalingFromLuma)
	assert.Empty(t, p.CbPoints)
	assert.Empty(t, p.CrPoints)
	assert.Nil(t, p.ARCoeffsCb)
	assert.Zero(t, p.CbMult)
}

func TestSynthesizeChroma(t *testing.T) {
	p, err := Synthesize(1600, true)
	assert.NoError(t, err)

	assert.Len(t, p.CbPoints, 10)
	assert.Equal(t, p.CbPoints, p.CrPoints)

	// Same curve as luma, sampled on the coarser chroma grid.
	assert.Equal(t, p.YPoints[0], p.CbPoints[0])
	assert.Equal(t, p.YPoints[13], p.CbPoints[9])

	assert.Equal(t, []int8{0}, p.ARCoeffsCb)
	assert.Equal(t, []int8{0}, p.ARCoeffsCr)
	assert.Equal(t, uint8(128), p.CbMult)
	assert.Equal(t, uint8(192), p.CbLumaMult)
	assert.Equal(t, uint16(256), p.CbOffset)
	assert.Equal(t, uint8(128), p.CrMult)
	assert.Equal(t, uint8(192), p.CrLumaMult)
	assert.Equal(t, uint16(256), p.CrOffset)
}

func grainEnergy(p av1.FilmGrainParams) int {
	var sum int
	for _, pt := range p.YPoints {
		sum += int(pt.Scaling)
	}
	return sum
}

func TestSynthesizeGrowsWithISO(t *testing.T) {
	prev := -1
	for _, iso := range []int{100, 400, 1600, 6400} {
		p, err := Synthesize(iso, false)
		assert.NoError(t, err)
		e := grainEnergy(p)
		assert.Greater(t, e, prev, "iso %d", iso)
		prev = e
	}
}

func TestSynthesizeISOBounds(t *testing.T) {
	for _, iso := range []int{MinISO, MaxISO} {
		p, err := Synthesize(iso, true)
		assert.NoError(t, err)
		assert.Len(t, p.YPoints, 14)
		assert.Len(t, p.CbPoints, 10)
	}

	for _, iso := range []int{0, -5, 6401} {
		_, err := Synthesize(iso, false)
		assert.ErrorIs(t, err, ErrInvalidISO, "iso %d", iso)
	}
}

func TestSynthesizeForHonorsGeometry(t *testing.T) {
	hd, err := SynthesizeFor(400, 1920, 1080, BT1886, false)
	assert.NoError(t, err)
	uhd, err := SynthesizeFor(400, 3840, 2160, BT1886, false)
	assert.NoError(t, err)
	assert.Greater(t, grainEnergy(uhd), grainEnergy(hd))

	pq, err := SynthesizeFor(400, 1920, 1080, PQ, false)
	assert.NoError(t, err)
	assert.NotEqual(t, hd.YPoints, pq.YPoints)

	_, err = SynthesizeFor(400, 0, 1080, BT1886, false)
	assert.Error(t, err)
}

func TestSynthesizeRoundTripsThroughBitstream(t *testing.T) {
	ctx := av1.GrainSyntaxContext{SubsamplingX: 1, SubsamplingY: 1}
	for _, chroma := range []bool{false, true} {
		p, err := Synthesize(3200, chroma)
		assert.NoError(t, err)

		w := av1.NewBitWriter()
		assert.NoError(t, p.Encode(w, ctx))
		r := av1.NewBitReader(w.Bytes())
		got, err := av1.DecodeFilmGrain(r, ctx)
		assert.NoError(t, err)
		assert.True(t, got.Equal(p), "chroma %v", chroma)
	}
}

func TestTransferFunctionRoundTrip(t *testing.T) {
	for _, tf := range []TransferFunction{BT1886, PQ} {
		for _, v := range []float64{0.05, 0.1, 0.5, 0.9, 1} {
			l := tf.toLinear(v)
			assert.InDelta(t, v, tf.fromLinear(l), 1e-9, "%s v=%v", tf, v)
		}
	}
	assert.Equal(t, "bt1886", BT1886.String())
	assert.Equal(t, "pq", PQ.String())
}
