package grainfit

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/flavioribeiro/grainsmith/av1"
	"github.com/flavioribeiro/grainsmith/graintable"
)

const (
	lumaBins   = 14
	chromaBins = 10

	// One unit of 8 bit sigma maps to this much grain scaling at a
	// scaling shift of 8 (the generator's unit grain sigma is near 32.5).
	sigmaToScaling = 7.88

	// Bins backed by fewer flat blocks than this produce no point.
	minBinBlocks = 2

	// All fitted segments share one seed; applying the table varies the
	// seed frame by frame.
	defaultSeed = 7391
)

// Estimator accumulates clean and grainy frame pairs in presentation order
// and fits grain table segments over ranges where the noise stays stable.
type Estimator struct {
	opts    Options
	workers int

	segs []*segmentStats
	cur  *segmentStats

	frames  int
	lastPTS int64
}

// NewEstimator validates opts, applying defaults for zero fields.
func NewEstimator(opts Options) (*Estimator, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Estimator{opts: opts, workers: workers}, nil
}

// Push feeds one aligned frame pair. Pairs must arrive in presentation
// order; the clean frame is the reference the grainy one is diffed against.
func (e *Estimator) Push(ctx context.Context, clean, grainy *Frame) error {
	if err := clean.validate(); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	if err := grainy.validate(); err != nil {
		return fmt.Errorf("grainy: %w", err)
	}
	pts := grainy.PTS
	if e.frames > 0 && pts <= e.lastPTS {
		return fmt.Errorf("frames must arrive in presentation order: pts %d after %d", pts, e.lastPTS)
	}
	chroma := !clean.Cb.empty() && !grainy.Cb.empty()

	y, err := analyzePair(ctx, &clean.Y, &grainy.Y, e.opts, e.workers, lumaBins)
	if err != nil {
		return err
	}
	var cb, cr planeStats
	if chroma {
		if cb, err = analyzePair(ctx, &clean.Cb, &grainy.Cb, e.opts, e.workers, chromaBins); err != nil {
			return err
		}
		if cr, err = analyzePair(ctx, &clean.Cr, &grainy.Cr, e.opts, e.workers, chromaBins); err != nil {
			return err
		}
	}

	dur := grainy.Duration
	if dur <= 0 {
		if e.frames > 0 && pts > e.lastPTS {
			dur = pts - e.lastPTS
		} else {
			dur = 1
		}
	}

	power, havePower := y.meanPower()
	if e.cur != nil && havePower && e.cur.powerN > 0 {
		ref := e.cur.power()
		if math.Abs(power-ref)/math.Max(ref, 1e-6) > e.opts.Tolerance {
			e.cur.end = pts
			e.segs = append(e.segs, e.cur)
			e.cur = nil
		}
	}
	if e.cur == nil {
		e.cur = &segmentStats{
			start: pts,
			y:     newPlaneStats(lumaBins),
			cb:    newPlaneStats(chromaBins),
			cr:    newPlaneStats(chromaBins),
		}
	}

	e.cur.frames++
	e.cur.y.merge(&y)
	if chroma {
		e.cur.chroma = true
		e.cur.cb.merge(&cb)
		e.cur.cr.merge(&cr)
	}
	if havePower {
		e.cur.powerSum += power
		e.cur.powerN++
	}
	e.cur.end = pts + dur

	e.frames++
	e.lastPTS = pts
	return nil
}

// Finish closes the open segment and returns the fitted, coalesced table.
func (e *Estimator) Finish() ([]graintable.Segment, error) {
	if e.cur != nil {
		e.segs = append(e.segs, e.cur)
		e.cur = nil
	}
	if len(e.segs) == 0 {
		return nil, nil
	}
	var b graintable.Builder
	for _, s := range e.segs {
		b.Add(s.start, s.end, s.fit())
	}
	return b.Segments(), nil
}

type segmentStats struct {
	start, end int64
	frames     int

	powerSum float64
	powerN   int

	y, cb, cr planeStats
	chroma    bool
}

func (s *segmentStats) power() float64 {
	if s.powerN == 0 {
		return 0
	}
	return s.powerSum / float64(s.powerN)
}

// fit turns the accumulated statistics into one grain model.
func (s *segmentStats) fit() av1.FilmGrainParams {
	yPts := s.y.points()
	var cbPts, crPts []av1.ScalingPoint
	if s.chroma {
		cbPts = s.cb.points()
		crPts = s.cr.points()
	}
	if len(yPts) == 0 && len(cbPts) == 0 && len(crPts) == 0 {
		return av1.FilmGrainParams{}
	}

	p := av1.FilmGrainParams{
		ApplyGrain:   true,
		GrainSeed:    defaultSeed,
		UpdateGrain:  true,
		YPoints:      yPts,
		CbPoints:     cbPts,
		CrPoints:     crPts,
		ScalingShift: 8,
		ARCoeffShift: 6,
		OverlapFlag:  true,
	}

	ly := s.y.arCoeffs()
	lcb := s.cb.arCoeffs()
	lcr := s.cr.arCoeffs()
	if anyNonZero(ly) || (s.chroma && (anyNonZero(lcb) || anyNonZero(lcr))) {
		p.ARCoeffLag = 1
	}
	numLuma, numChroma := av1.NumARCoeffs(p.ARCoeffLag, len(p.YPoints) > 0)
	if len(p.YPoints) > 0 {
		p.ARCoeffsY = make([]int8, numLuma)
		copy(p.ARCoeffsY, ly[:])
	}
	if len(p.CbPoints) > 0 {
		// The luma cross term is not estimated; the trailing slot of the
		// chroma neighborhood stays zero.
		p.ARCoeffsCb = make([]int8, numChroma)
		copy(p.ARCoeffsCb, lcb[:])
		p.CbMult, p.CbLumaMult, p.CbOffset = 128, 192, 256
	}
	if len(p.CrPoints) > 0 {
		p.ARCoeffsCr = make([]int8, numChroma)
		copy(p.ARCoeffsCr, lcr[:])
		p.CrMult, p.CrLumaMult, p.CrOffset = 128, 192, 256
	}
	return p
}

func anyNonZero(cs [4]int8) bool {
	for _, c := range cs {
		if c != 0 {
			return true
		}
	}
	return false
}

// planeStats pools block statistics of one plane: per intensity bin
// residual variance, and centered residual products for the spatial
// correlation fit.
type planeStats struct {
	bins []binStats

	n  float64
	s0 float64

	s10, s01, s11, s1m1 float64
	n10, n01, n11, n1m1 float64
}

type binStats struct {
	blocks int
	varSum float64
}

func newPlaneStats(nbins int) planeStats {
	return planeStats{bins: make([]binStats, nbins)}
}

func (a *planeStats) merge(b *planeStats) {
	if a.bins == nil {
		a.bins = make([]binStats, len(b.bins))
	}
	for i := range b.bins {
		a.bins[i].blocks += b.bins[i].blocks
		a.bins[i].varSum += b.bins[i].varSum
	}
	a.n += b.n
	a.s0 += b.s0
	a.s10 += b.s10
	a.s01 += b.s01
	a.s11 += b.s11
	a.s1m1 += b.s1m1
	a.n10 += b.n10
	a.n01 += b.n01
	a.n11 += b.n11
	a.n1m1 += b.n1m1
}

func (a *planeStats) meanPower() (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	return a.s0 / a.n, true
}

// points maps the populated intensity bins to scaling points, one per bin,
// placed at the bin center.
func (a *planeStats) points() []av1.ScalingPoint {
	var pts []av1.ScalingPoint
	for i, b := range a.bins {
		if b.blocks < minBinBlocks {
			continue
		}
		sigma := math.Sqrt(b.varSum / float64(b.blocks))
		scaling := math.Round(sigma * sigmaToScaling)
		if scaling > 255 {
			scaling = 255
		}
		x := (i*256 + 128) / len(a.bins)
		if x > 255 {
			x = 255
		}
		pts = append(pts, av1.ScalingPoint{Value: uint8(x), Scaling: uint8(scaling)})
	}
	return pts
}

// arCoeffs fits the one sample causal neighborhood from the pooled
// autocovariance, in raster order: top left, top, top right, left. The sum
// of magnitudes is capped below one to keep the synthesis filter stable.
func (a *planeStats) arCoeffs() [4]int8 {
	var out [4]int8
	if a.n == 0 || a.s0 <= 0 {
		return out
	}
	v := a.s0 / a.n
	var rho [4]float64
	if a.n11 > 0 {
		rho[0] = a.s11 / a.n11 / v
	}
	if a.n01 > 0 {
		rho[1] = a.s01 / a.n01 / v
	}
	if a.n1m1 > 0 {
		rho[2] = a.s1m1 / a.n1m1 / v
	}
	if a.n10 > 0 {
		rho[3] = a.s10 / a.n10 / v
	}

	var sum float64
	for _, r := range rho {
		sum += math.Abs(r)
	}
	if sum > 0.9 {
		scale := 0.9 / sum
		for i := range rho {
			rho[i] *= scale
		}
	}
	for i, r := range rho {
		c := math.Round(r * 64)
		if c > 127 {
			c = 127
		} else if c < -128 {
			c = -128
		}
		out[i] = int8(c)
	}
	return out
}

func analyzePair(ctx context.Context, clean, grainy *Plane, opts Options, workers, nbins int) (planeStats, error) {
	if clean.Width != grainy.Width || clean.Height != grainy.Height {
		return planeStats{}, fmt.Errorf("clean and grainy planes disagree: %dx%d vs %dx%d",
			clean.Width, clean.Height, grainy.Width, grainy.Height)
	}
	out := newPlaneStats(nbins)
	bs := opts.BlockSize
	bandRows := clean.Height / bs
	if bandRows == 0 || clean.Width < bs {
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	bands := make([]planeStats, bandRows)
	for row := 0; row < bandRows; row++ {
		row := row
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			bands[row] = analyzeBand(clean, grainy, row*bs, opts, nbins)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return planeStats{}, err
	}
	for i := range bands {
		out.merge(&bands[i])
	}
	return out, nil
}

func analyzeBand(clean, grainy *Plane, y0 int, opts Options, nbins int) planeStats {
	bs := opts.BlockSize
	acc := newPlaneStats(nbins)
	res := make([]float64, bs*bs)
	for x0 := 0; x0+bs <= clean.Width; x0 += bs {
		mean, variance := blockMoments(clean, x0, y0, bs)
		if variance > opts.FlatThreshold {
			continue
		}
		blockResidual(clean, grainy, x0, y0, bs, res)
		accumulateBlock(&acc, res, bs, mean, nbins)
	}
	return acc
}

func blockMoments(p *Plane, x0, y0, bs int) (mean, variance float64) {
	var sum, sum2 float64
	for j := 0; j < bs; j++ {
		for i := 0; i < bs; i++ {
			v := p.at(x0+i, y0+j)
			sum += v
			sum2 += v * v
		}
	}
	n := float64(bs * bs)
	mean = sum / n
	variance = sum2/n - mean*mean
	return mean, variance
}

// blockResidual fills r with the mean centered difference grainy-clean.
func blockResidual(clean, grainy *Plane, x0, y0, bs int, r []float64) {
	var sum float64
	for j := 0; j < bs; j++ {
		for i := 0; i < bs; i++ {
			d := grainy.at(x0+i, y0+j) - clean.at(x0+i, y0+j)
			r[j*bs+i] = d
			sum += d
		}
	}
	m := sum / float64(bs*bs)
	for i := range r {
		r[i] -= m
	}
}

func accumulateBlock(acc *planeStats, r []float64, bs int, mean float64, nbins int) {
	var s0 float64
	for _, v := range r {
		s0 += v * v
	}
	n := float64(bs * bs)

	bin := int(mean) * nbins / 256
	if bin >= nbins {
		bin = nbins - 1
	} else if bin < 0 {
		bin = 0
	}
	acc.bins[bin].blocks++
	acc.bins[bin].varSum += s0 / n

	acc.n += n
	acc.s0 += s0
	for j := 0; j < bs; j++ {
		for i := 0; i < bs; i++ {
			v := r[j*bs+i]
			if i > 0 {
				acc.s10 += v * r[j*bs+i-1]
				acc.n10++
			}
			if j > 0 {
				acc.s01 += v * r[(j-1)*bs+i]
				acc.n01++
			}
			if i > 0 && j > 0 {
				acc.s11 += v * r[(j-1)*bs+i-1]
				acc.n11++
			}
			if i < bs-1 && j > 0 {
				acc.s1m1 += v * r[(j-1)*bs+i+1]
				acc.n1m1++
			}
		}
	}
}
