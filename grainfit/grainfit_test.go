package grainfit

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flavioribeiro/grainsmith/av1"
)

// makeStepPlane builds a plane of flat blocks whose intensity steps from 32
// to 223 across block columns, so every block is flat and the columns land
// in distinct intensity bins.
func makeStepPlane(w, h, bs int) Plane {
	cols := w / bs
	p := Plane{Width: w, Height: h, Stride: w, Samples: make([]byte, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := x / bs
			p.Samples[y*w+x] = byte(32 + c*191/(cols-1))
		}
	}
	return p
}

func clonePlane(p Plane) Plane {
	out := p
	out.Samples = append([]byte(nil), p.Samples...)
	return out
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

func addNoise(p Plane, sigma float64, seed int64) Plane {
	rng := rand.New(rand.NewSource(seed))
	out := clonePlane(p)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			i := y*p.Stride + x
			out.Samples[i] = clampByte(float64(p.Samples[i]) + rng.NormFloat64()*sigma)
		}
	}
	return out
}

// addARNoise adds noise correlated along each row: n = a*left + g.
func addARNoise(p Plane, sigma, a float64, seed int64) Plane {
	rng := rand.New(rand.NewSource(seed))
	out := clonePlane(p)
	for y := 0; y < p.Height; y++ {
		prev := 0.0
		for x := 0; x < p.Width; x++ {
			n := a*prev + rng.NormFloat64()*sigma
			prev = n
			i := y*p.Stride + x
			out.Samples[i] = clampByte(float64(p.Samples[i]) + n)
		}
	}
	return out
}

func lumaFrame(pts, dur int64, y Plane) *Frame {
	return &Frame{PTS: pts, Duration: dur, Y: y}
}

func mustEstimator(t *testing.T, opts Options) *Estimator {
	t.Helper()
	e, err := NewEstimator(opts)
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}
	return e
}

func TestEstimatorFitsSigma(t *testing.T) {
	e := mustEstimator(t, Options{})
	clean := makeStepPlane(256, 128, 32)
	grainy := addNoise(clean, 4, 1)

	err := e.Push(context.Background(), lumaFrame(0, 1000, clean), lumaFrame(0, 1000, grainy))
	assert.NoError(t, err)

	segs, err := e.Finish()
	assert.NoError(t, err)
	assert.Len(t, segs, 1)
	assert.Equal(t, int64(0), segs[0].Start)
	assert.Equal(t, int64(1000), segs[0].End)

	p := segs[0].Params
	assert.True(t, p.ApplyGrain)
	assert.True(t, p.UpdateGrain)
	assert.Equal(t, uint16(defaultSeed), p.GrainSeed)
	assert.Equal(t, uint8(8), p.ScalingShift)
	assert.True(t, p.OverlapFlag)

	// Eight flat block columns land in eight bins; sigma 4 maps to a
	// scaling near 4*7.88.
	assert.Len(t, p.YPoints, 8)
	for i, pt := range p.YPoints {
		assert.InDelta(t, 31.5, float64(pt.Scaling), 4, "point %d", i)
		if i > 0 {
			assert.Greater(t, pt.Value, p.YPoints[i-1].Value)
		}
	}

	// White noise: whatever lag the fit picked, coefficients stay tiny.
	for i, c := range p.ARCoeffsY {
		assert.LessOrEqual(t, int(c), 2, "coeff %d", i)
		assert.GreaterOrEqual(t, int(c), -2, "coeff %d", i)
	}
	assert.Empty(t, p.CbPoints)
}

func TestEstimatorFitsCorrelation(t *testing.T) {
	e := mustEstimator(t, Options{})
	clean := makeStepPlane(256, 128, 32)
	grainy := addARNoise(clean, 4, 0.5, 7)

	err := e.Push(context.Background(), lumaFrame(0, 1000, clean), lumaFrame(0, 1000, grainy))
	assert.NoError(t, err)

	segs, err := e.Finish()
	assert.NoError(t, err)
	assert.Len(t, segs, 1)

	p := segs[0].Params
	assert.Equal(t, uint8(1), p.ARCoeffLag)
	assert.Len(t, p.ARCoeffsY, 4)

	// Horizontal correlation of 0.5 puts the left coefficient near
	// 0.5*64; the vertical and diagonal ones stay near zero.
	assert.InDelta(t, 32, float64(p.ARCoeffsY[3]), 6)
	assert.InDelta(t, 0, float64(p.ARCoeffsY[0]), 4)
	assert.InDelta(t, 0, float64(p.ARCoeffsY[1]), 4)
	assert.InDelta(t, 0, float64(p.ARCoeffsY[2]), 4)
}

func TestEstimatorSegmentsOnPowerShift(t *testing.T) {
	e := mustEstimator(t, Options{})
	clean := makeStepPlane(256, 128, 32)

	for i := 0; i < 6; i++ {
		sigma := 3.0
		if i >= 3 {
			sigma = 6.0
		}
		grainy := addNoise(clean, sigma, int64(100+i))
		err := e.Push(context.Background(),
			lumaFrame(int64(i)*1000, 1000, clean),
			lumaFrame(int64(i)*1000, 1000, grainy))
		assert.NoError(t, err)
	}

	segs, err := e.Finish()
	assert.NoError(t, err)
	assert.Len(t, segs, 2)

	assert.Equal(t, int64(0), segs[0].Start)
	assert.Equal(t, int64(3000), segs[0].End)
	assert.Equal(t, int64(3000), segs[1].Start)
	assert.Equal(t, int64(6000), segs[1].End)
	assert.Less(t, segs[0].Params.YPoints[0].Scaling, segs[1].Params.YPoints[0].Scaling)
}

func TestEstimatorStableNoiseStaysOneSegment(t *testing.T) {
	e := mustEstimator(t, Options{})
	clean := makeStepPlane(256, 128, 32)

	for i := 0; i < 5; i++ {
		grainy := addNoise(clean, 4, int64(200+i))
		err := e.Push(context.Background(),
			lumaFrame(int64(i)*1000, 1000, clean),
			lumaFrame(int64(i)*1000, 1000, grainy))
		assert.NoError(t, err)
	}

	segs, err := e.Finish()
	assert.NoError(t, err)
	assert.Len(t, segs, 1)
	assert.Equal(t, int64(0), segs[0].Start)
	assert.Equal(t, int64(5000), segs[0].End)
}

func TestEstimatorSkipsTexturedContent(t *testing.T) {
	e := mustEstimator(t, Options{})
	clean := makeStepPlane(256, 128, 32)
	for y := 0; y < clean.Height; y++ {
		for x := 0; x < clean.Width; x++ {
			if (x+y)%2 == 0 {
				clean.Samples[y*clean.Stride+x] = 96
			} else {
				clean.Samples[y*clean.Stride+x] = 160
			}
		}
	}
	grainy := addNoise(clean, 4, 3)

	err := e.Push(context.Background(), lumaFrame(0, 1000, clean), lumaFrame(0, 1000, grainy))
	assert.NoError(t, err)

	segs, err := e.Finish()
	assert.NoError(t, err)
	assert.Len(t, segs, 1)
	assert.False(t, segs[0].Params.ApplyGrain)
}

func TestEstimatorChroma(t *testing.T) {
	e := mustEstimator(t, Options{})
	cleanY := makeStepPlane(256, 128, 32)
	cleanC := makeStepPlane(128, 64, 32)

	clean := &Frame{PTS: 0, Duration: 1000, Y: cleanY, Cb: cleanC, Cr: cleanC}
	grainy := &Frame{
		PTS: 0, Duration: 1000,
		Y:  addNoise(cleanY, 4, 11),
		Cb: addNoise(cleanC, 2, 12),
		Cr: addNoise(cleanC, 2, 13),
	}
	assert.NoError(t, e.Push(context.Background(), clean, grainy))

	segs, err := e.Finish()
	assert.NoError(t, err)
	assert.Len(t, segs, 1)

	p := segs[0].Params
	assert.NotEmpty(t, p.YPoints)
	assert.Len(t, p.CbPoints, 4)
	assert.Len(t, p.CrPoints, 4)
	for i, pt := range p.CbPoints {
		assert.InDelta(t, 15.8, float64(pt.Scaling), 3, "cb point %d", i)
	}
	assert.Equal(t, uint8(128), p.CbMult)
	assert.Equal(t, uint8(192), p.CbLumaMult)
	assert.Equal(t, uint16(256), p.CbOffset)

	_, numChroma := av1.NumARCoeffs(p.ARCoeffLag, len(p.YPoints) > 0)
	assert.Len(t, p.ARCoeffsCb, numChroma)
	assert.Len(t, p.ARCoeffsCr, numChroma)
}

func TestEstimatorDurationFallback(t *testing.T) {
	e := mustEstimator(t, Options{})
	clean := makeStepPlane(256, 128, 32)

	assert.NoError(t, e.Push(context.Background(),
		lumaFrame(0, 0, clean), lumaFrame(0, 0, addNoise(clean, 4, 21))))
	assert.NoError(t, e.Push(context.Background(),
		lumaFrame(1000, 0, clean), lumaFrame(1000, 0, addNoise(clean, 4, 22))))

	segs, err := e.Finish()
	assert.NoError(t, err)
	assert.Len(t, segs, 1)
	assert.Equal(t, int64(2000), segs[0].End)
}

func TestEstimatorRejectsBadInput(t *testing.T) {
	clean := makeStepPlane(256, 128, 32)
	small := makeStepPlane(128, 64, 32)

	e := mustEstimator(t, Options{})
	err := e.Push(context.Background(), lumaFrame(0, 1000, clean), lumaFrame(0, 1000, small))
	assert.ErrorContains(t, err, "disagree")

	e = mustEstimator(t, Options{})
	assert.NoError(t, e.Push(context.Background(), lumaFrame(1000, 0, clean), lumaFrame(1000, 0, clean)))
	err = e.Push(context.Background(), lumaFrame(500, 0, clean), lumaFrame(500, 0, clean))
	assert.ErrorContains(t, err, "presentation order")

	e = mustEstimator(t, Options{})
	err = e.Push(context.Background(), &Frame{}, lumaFrame(0, 0, clean))
	assert.ErrorContains(t, err, "no luma plane")

	e = mustEstimator(t, Options{})
	half := &Frame{Y: clean, Cb: small}
	err = e.Push(context.Background(), half, half)
	assert.ErrorContains(t, err, "only one chroma plane")

	_, err = NewEstimator(Options{BlockSize: 4})
	assert.Error(t, err)
	_, err = NewEstimator(Options{Tolerance: -1})
	assert.Error(t, err)
	_, err = NewEstimator(Options{Workers: -2})
	assert.Error(t, err)
}

func TestEstimatorCancellation(t *testing.T) {
	e := mustEstimator(t, Options{})
	clean := makeStepPlane(256, 128, 32)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Push(ctx, lumaFrame(0, 1000, clean), lumaFrame(0, 1000, clean))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimatorEmptyFinish(t *testing.T) {
	e := mustEstimator(t, Options{})
	segs, err := e.Finish()
	assert.NoError(t, err)
	assert.Empty(t, segs)
}
