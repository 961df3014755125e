package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/flavioribeiro/grainsmith/graintable"
	"github.com/flavioribeiro/grainsmith/internal/controllers/decoders"
	"github.com/flavioribeiro/grainsmith/internal/controllers/readers"
	"github.com/flavioribeiro/grainsmith/internal/controllers/writers"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// GrainEngine runs one request end to end. Run dispatches on the request
// action; the named operations are the five things the tool does.
type GrainEngine interface {
	Run(ctx context.Context) error
	ExtractTable(ctx context.Context) error
	PatchStream(ctx context.Context) error
	SynthesizeAndPatch(ctx context.Context) error
	StripGrain(ctx context.Context) error
	EstimateTable(ctx context.Context) error
}

type GrainEngineParams struct {
	fx.In
	Readers []readers.PacketReader `group:"readers"`
	Writers []writers.PacketWriter `group:"writers"`
	Decoder decoders.PlaneDecoder
	Config  *entities.Config
	Logger  *zap.SugaredLogger
}

type GrainEngineController struct {
	p GrainEngineParams
}

func NewGrainEngineController(p GrainEngineParams) *GrainEngineController {
	return &GrainEngineController{p}
}

func (c *GrainEngineController) EngineFor(req *entities.StreamRequest) (GrainEngine, error) {
	if err := req.Valid(); err != nil {
		return nil, err
	}

	reader := c.selectReaderFor(req)
	if reader == nil {
		return nil, fmt.Errorf("request %v: not fulfilled error %w", req, entities.ErrMissingReader)
	}

	var writer writers.PacketWriter
	if needsSink(req.Action) {
		if writer = c.selectWriterFor(req); writer == nil {
			return nil, fmt.Errorf("request %v: not fulfilled error %w", req, entities.ErrMissingWriter)
		}
	}

	return &grainEngine{
		reader:  reader,
		writer:  writer,
		decoder: c.p.Decoder,
		c:       c.p.Config,
		l:       c.p.Logger,
		req:     req,
	}, nil
}

// needsSink reports whether the action rewrites a stream. The others write
// a grain table instead.
func needsSink(a entities.Action) bool {
	return a == entities.ActionApply || a == entities.ActionGenerate || a == entities.ActionRemove
}

// TODO: try to use generics
func (c *GrainEngineController) selectReaderFor(req *entities.StreamRequest) readers.PacketReader {
	for _, r := range c.p.Readers {
		if r.Match(req) {
			return r
		}
	}
	return nil
}

// TODO: try to use generics
func (c *GrainEngineController) selectWriterFor(req *entities.StreamRequest) writers.PacketWriter {
	for _, w := range c.p.Writers {
		if w.Match(req) {
			return w
		}
	}
	return nil
}

type grainEngine struct {
	reader  readers.PacketReader
	writer  writers.PacketWriter
	decoder decoders.PlaneDecoder
	c       *entities.Config
	l       *zap.SugaredLogger
	req     *entities.StreamRequest
}

func (e *grainEngine) Run(ctx context.Context) error {
	switch e.req.Action {
	case entities.ActionInspect:
		return e.ExtractTable(ctx)
	case entities.ActionApply:
		return e.PatchStream(ctx)
	case entities.ActionGenerate:
		return e.SynthesizeAndPatch(ctx)
	case entities.ActionRemove:
		return e.StripGrain(ctx)
	case entities.ActionDiff:
		return e.EstimateTable(ctx)
	}
	return entities.ErrUnknownAction
}

// ensureWritable fails early when the output exists without overwrite
// consent. The writer checks again at create time; this check runs before
// any input is read.
func (e *grainEngine) ensureWritable(path string) error {
	if e.req.Overwrite {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", entities.ErrOutputExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error while checking output path: %w", err)
	}
	return nil
}

// writeTable stages the table next to its final path and renames it into
// place, like the stream writers do.
func (e *grainEngine) writeTable(segs []graintable.Segment) error {
	if err := e.ensureWritable(e.req.OutPath); err != nil {
		return err
	}
	tmp := e.req.OutPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("error while creating grain table: %w", err)
	}
	if err := graintable.Serialize(f, segs); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("error while writing grain table: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("error while closing grain table: %w", err)
	}
	return os.Rename(tmp, e.req.OutPath)
}

// withGrain drops segments that synthesize nothing. Time the table leaves
// uncovered means no grain, so off ranges carry no information.
func withGrain(segs []graintable.Segment) []graintable.Segment {
	out := segs[:0]
	for _, s := range segs {
		if s.Params.ApplyGrain {
			out = append(out, s)
		}
	}
	return out
}
