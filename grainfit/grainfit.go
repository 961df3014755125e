// Package grainfit estimates film grain models by comparing decoded frames
// of a grainy source against a clean reference. Flat blocks of the clean
// frame expose the residual noise of the grainy one; the residual's
// intensity profile and spatial correlation are fitted into grain table
// segments covering ranges where the noise stays stable.
package grainfit

import (
	"fmt"
)

// Plane is one image plane of a decoded frame, 8 bit samples in row major
// order with an explicit stride.
type Plane struct {
	Width   int
	Height  int
	Stride  int
	Samples []byte
}

func (p *Plane) at(x, y int) float64 {
	return float64(p.Samples[y*p.Stride+x])
}

func (p *Plane) empty() bool {
	return p.Width == 0 || p.Height == 0
}

func (p *Plane) validate() error {
	if p.empty() {
		return nil
	}
	if p.Stride < p.Width {
		return fmt.Errorf("plane stride %d below width %d", p.Stride, p.Width)
	}
	if need := (p.Height-1)*p.Stride + p.Width; len(p.Samples) < need {
		return fmt.Errorf("plane buffer holds %d samples, geometry needs %d", len(p.Samples), need)
	}
	return nil
}

// Frame carries decoded planes and their presentation time. PTS and
// Duration are in grain table ticks. Chroma planes may be left empty for
// luma only estimation.
type Frame struct {
	PTS      int64
	Duration int64
	Y        Plane
	Cb       Plane
	Cr       Plane
}

func (f *Frame) validate() error {
	if f.Y.empty() {
		return fmt.Errorf("frame at pts %d has no luma plane", f.PTS)
	}
	for _, p := range []*Plane{&f.Y, &f.Cb, &f.Cr} {
		if err := p.validate(); err != nil {
			return err
		}
	}
	if f.Cb.empty() != f.Cr.empty() {
		return fmt.Errorf("frame at pts %d has only one chroma plane", f.PTS)
	}
	return nil
}

// Options tunes the estimator. The zero value selects the defaults.
type Options struct {
	// BlockSize is the side of the square analysis blocks, in samples.
	BlockSize int
	// FlatThreshold is the clean luma variance above which a block is
	// considered textured and excluded from the noise statistics.
	FlatThreshold float64
	// Tolerance is the relative residual power drift that closes the
	// current timeline segment and opens a new one.
	Tolerance float64
	// Workers bounds the block statistics pool. Zero means one worker
	// per CPU.
	Workers int
}

const (
	defaultBlockSize     = 32
	defaultFlatThreshold = 25.0
	defaultTolerance     = 0.10
)

func (o Options) withDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.FlatThreshold == 0 {
		o.FlatThreshold = defaultFlatThreshold
	}
	if o.Tolerance == 0 {
		o.Tolerance = defaultTolerance
	}
	return o
}

func (o Options) validate() error {
	if o.BlockSize < 8 {
		return fmt.Errorf("block size %d below minimum 8", o.BlockSize)
	}
	if o.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %v", o.Tolerance)
	}
	if o.Workers < 0 {
		return fmt.Errorf("negative worker count %d", o.Workers)
	}
	return nil
}
