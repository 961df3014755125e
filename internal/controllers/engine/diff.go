package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/flavioribeiro/grainsmith/grainfit"
	"github.com/flavioribeiro/grainsmith/internal/entities"
)

// EstimateTable decodes a grainy stream and its clean counterpart and
// fits grain parameters to whatever noise separates them.
func (e *grainEngine) EstimateTable(ctx context.Context) error {
	e.l.Infow("diff has started",
		"grainy", e.req.InPath,
		"clean", e.req.CleanPath,
		"output", e.req.OutPath,
	)

	if err := e.ensureWritable(e.req.OutPath); err != nil {
		return err
	}

	grainy, err := e.decoder.Open(e.req.InPath)
	if err != nil {
		return err
	}
	defer grainy.Close()

	clean, err := e.decoder.Open(e.req.CleanPath)
	if err != nil {
		return err
	}
	defer clean.Close()

	gd, cd := grainy.Details(), clean.Details()
	if gd.Width != cd.Width || gd.Height != cd.Height {
		return fmt.Errorf("%w: inputs differ in resolution, %dx%d vs %dx%d",
			entities.ErrUnsupportedInput, gd.Width, gd.Height, cd.Width, cd.Height)
	}

	est, err := grainfit.NewEstimator(grainfit.Options{
		BlockSize:     e.c.DiffBlockSize,
		FlatThreshold: e.c.DiffFlatThreshold,
		Tolerance:     e.c.DiffTolerance,
		Workers:       e.c.WorkerCount(),
	})
	if err != nil {
		return err
	}

	var frames int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		gf, gerr := grainy.ReadFrame()
		cf, cerr := clean.ReadFrame()
		if gerr == io.EOF && cerr == io.EOF {
			break
		}
		if gerr == io.EOF || cerr == io.EOF {
			return fmt.Errorf("%w: inputs differ in frame count after %d frames",
				entities.ErrUnsupportedInput, frames)
		}
		if gerr != nil {
			return fmt.Errorf("error while decoding grainy input: %w", gerr)
		}
		if cerr != nil {
			return fmt.Errorf("error while decoding clean input: %w", cerr)
		}
		if err := est.Push(ctx, cf, gf); err != nil {
			return err
		}
		frames++
		if e.c.ProgressEveryFrames > 0 && frames%e.c.ProgressEveryFrames == 0 {
			e.l.Infof("diff compared %d frames", frames)
		}
	}

	segs, err := est.Finish()
	if err != nil {
		return err
	}
	segs = withGrain(segs)
	if len(segs) == 0 {
		e.l.Infow("no grain difference measured between the inputs")
		return nil
	}

	if err := e.writeTable(segs); err != nil {
		return err
	}

	e.l.Infow("diff has finished",
		"frames", frames,
		"segments", len(segs),
		"output", e.req.OutPath,
	)
	return nil
}
