// Package photon derives film grain models approximating the photon shot
// noise of a camera sensor at a given ISO sensitivity. The model is a
// deterministic function of the ISO value and the frame geometry, so the
// same inputs always produce the same grain table entry.
package photon

import (
	"errors"
	"fmt"
	"math"

	"github.com/flavioribeiro/grainsmith/av1"
)

// ErrInvalidISO reports an ISO sensitivity outside the supported span.
var ErrInvalidISO = errors.New("invalid iso")

// Supported ISO sensitivity span.
const (
	MinISO = 1
	MaxISO = 6400
)

// TransferFunction selects the opto-electronic transfer curve the stream is
// mastered for. The noise is estimated in linear light and mapped to encoded
// units through the local slope of this curve.
type TransferFunction int

const (
	// BT1886 is the SDR reference display curve, gamma 2.4 with a peak of
	// 203 nits and a black level of 0.1 nits.
	BT1886 TransferFunction = iota
	// PQ is the SMPTE ST 2084 perceptual quantizer, normalized so that
	// 1.0 encodes the 10000 nit peak.
	PQ
)

func (tf TransferFunction) String() string {
	switch tf {
	case BT1886:
		return "bt1886"
	case PQ:
		return "pq"
	}
	return fmt.Sprintf("transfer(%d)", int(tf))
}

const (
	// Photon arrival rate for a daylight spectrum, per lux second and
	// square micrometer of pixel area.
	photonsPerLxSPerUm2 = 11260.0
	// Order of magnitude values for a current consumer sensor.
	quantumEfficiency          = 0.20
	photoResponseNonUniformity = 0.005
	readNoiseElectrons         = 1.5
	// Full frame 35 mm sensor.
	sensorWidthUm  = 36000.0
	sensorHeightUm = 24000.0
	// Focal plane exposure of an 18 % gray card at the metered exposure,
	// per the ISO 12232 standard output sensitivity definition.
	midToneExposureLxSNumer = 10.0
	midToneLevel            = 0.18

	maxYScalingPoints      = 14
	maxChromaScalingPoints = 10
	grainSeed              = 7391

	// The synthesis grain sequence has a standard deviation near 32.5,
	// and a scaling shift of 8 divides the scaled grain by 256, so one
	// unit of 8 bit sigma corresponds to a scaling value of 256/32.5.
	sigmaToScaling = 7.88
)

// Synthesize builds a grain model for iso assuming 1080p BT.1886 mastering.
// When chroma is false the model carries luma grain only.
func Synthesize(iso int, chroma bool) (av1.FilmGrainParams, error) {
	return SynthesizeFor(iso, 1920, 1080, BT1886, chroma)
}

// SynthesizeFor builds a grain model for iso with explicit frame geometry
// and transfer curve. Smaller pixels collect fewer photons, so the same ISO
// yields stronger grain at higher resolutions.
func SynthesizeFor(iso, width, height int, tf TransferFunction, chroma bool) (av1.FilmGrainParams, error) {
	if iso < MinISO || iso > MaxISO {
		return av1.FilmGrainParams{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidISO, iso, MinISO, MaxISO)
	}
	if width <= 0 || height <= 0 {
		return av1.FilmGrainParams{}, fmt.Errorf("invalid frame geometry %dx%d", width, height)
	}

	midToneExposure := midToneExposureLxSNumer / float64(iso)
	pixelAreaUm2 := sensorWidthUm * sensorHeightUm / float64(width*height)
	midToneElectrons := quantumEfficiency * photonsPerLxSPerUm2 * midToneExposure * pixelAreaUm2
	maxElectrons := midToneElectrons / midToneLevel

	p := av1.FilmGrainParams{
		ApplyGrain:   true,
		GrainSeed:    grainSeed,
		UpdateGrain:  true,
		ScalingShift: 8,
		ARCoeffsY:    []int8{},
		ARCoeffShift: 6,
		OverlapFlag:  true,
	}
	p.YPoints = noiseCurve(maxYScalingPoints, maxElectrons, tf)
	if chroma {
		// The chroma planes get the same curve sampled on the coarser
		// grid their point budget allows, with neutral multipliers.
		p.CbPoints = noiseCurve(maxChromaScalingPoints, maxElectrons, tf)
		p.CrPoints = append([]av1.ScalingPoint(nil), p.CbPoints...)
		p.ARCoeffsCb = []int8{0}
		p.ARCoeffsCr = []int8{0}
		p.CbMult, p.CbLumaMult, p.CbOffset = 128, 192, 256
		p.CrMult, p.CrLumaMult, p.CrOffset = 128, 192, 256
	}
	return p, nil
}

// noiseCurve samples the sensor noise model at n evenly spaced encoded
// values and returns them as grain scaling points.
func noiseCurve(n int, maxElectrons float64, tf TransferFunction) []av1.ScalingPoint {
	pts := make([]av1.ScalingPoint, n)
	for i := range pts {
		x := float64(i) / float64(n-1)
		linear := tf.toLinear(x)
		electrons := linear * maxElectrons

		// Quadrature sum of read noise, shot noise and photo response
		// non uniformity, in electrons rms. Shot noise variance equals
		// the collected electron count, so the square root is folded in.
		noiseElectrons := math.Sqrt(readNoiseElectrons*readNoiseElectrons +
			electrons +
			photoResponseNonUniformity*photoResponseNonUniformity*electrons*electrons)
		noiseLinear := noiseElectrons / maxElectrons

		// Map the linear sigma through the transfer curve by straddling
		// two sigma on each side of the sample and dividing by four.
		lo := tf.fromLinear(math.Max(0, linear-2*noiseLinear))
		hi := tf.fromLinear(math.Min(1, linear+2*noiseLinear))
		noiseEncoded := (hi - lo) / 4

		scaling := math.Round(noiseEncoded * 255 * sigmaToScaling)
		if scaling > 255 {
			scaling = 255
		}
		pts[i] = av1.ScalingPoint{
			Value:   uint8(math.Round(255 * x)),
			Scaling: uint8(scaling),
		}
	}
	return pts
}

func (tf TransferFunction) toLinear(v float64) float64 {
	if tf == PQ {
		p := math.Pow(v, 1/pqM2)
		return math.Pow(math.Max(p-pqC1, 0)/(pqC2-pqC3*p), 1/pqM1)
	}
	a, b := bt1886Coeffs()
	return a * math.Pow(math.Max(v+b, 0), bt1886Gamma) / bt1886PeakNits
}

func (tf TransferFunction) fromLinear(l float64) float64 {
	if tf == PQ {
		p := math.Pow(l, pqM1)
		return math.Pow((pqC1+pqC2*p)/(1+pqC3*p), pqM2)
	}
	a, b := bt1886Coeffs()
	v := math.Pow(l*bt1886PeakNits/a, 1/bt1886Gamma) - b
	return math.Max(v, 0)
}

const (
	bt1886Gamma     = 2.4
	bt1886PeakNits  = 203.0
	bt1886BlackNits = 0.1

	pqM1 = 2610.0 / 16384
	pqM2 = 128 * 2523.0 / 4096
	pqC1 = 3424.0 / 4096
	pqC2 = 32 * 2413.0 / 4096
	pqC3 = 32 * 2392.0 / 4096
)

func bt1886Coeffs() (a, b float64) {
	lw := math.Pow(bt1886PeakNits, 1/bt1886Gamma)
	lb := math.Pow(bt1886BlackNits, 1/bt1886Gamma)
	return math.Pow(lw-lb, bt1886Gamma), lb / (lw - lb)
}
