package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/flavioribeiro/grainsmith/av1"
	"github.com/flavioribeiro/grainsmith/graintable"
	"github.com/flavioribeiro/grainsmith/internal/controllers/writers"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"github.com/flavioribeiro/grainsmith/photon"
	"golang.org/x/sync/errgroup"
)

// PatchStream rewrites every frame's grain to what a grain table file
// names for its time range. Time the table leaves uncovered gets no grain.
func (e *grainEngine) PatchStream(ctx context.Context) error {
	e.l.Infow("apply has started",
		"input", e.req.InPath,
		"table", e.req.TablePath,
		"output", e.req.OutPath,
	)

	f, err := os.Open(e.req.TablePath)
	if err != nil {
		return fmt.Errorf("error while opening grain table: %w", err)
	}
	segs, err := graintable.Parse(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		e.l.Infow("grain table has no segments, frames will carry no grain")
	}

	return e.patchRun(ctx, "apply", true, func(run *patchPipeline) (av1.GrainPolicy, error) {
		var chainStart int64
		var chainSeed uint16
		chainLive := false
		return func(fh *av1.FrameHeader) *av1.FilmGrainParams {
			seg := graintable.Lookup(segs, run.tick)
			if seg == nil || !seg.Params.ApplyGrain {
				chainLive = false
				return &av1.FilmGrainParams{}
			}
			p := seg.Params.Clone()
			// The segment's own seed goes on its first frame; later
			// frames advance the generator so their noise decorrelates.
			if !chainLive || chainStart != seg.Start {
				chainLive = true
				chainStart = seg.Start
				chainSeed = p.GrainSeed
			} else {
				chainSeed = av1.NextGrainSeed(chainSeed)
			}
			p.GrainSeed = chainSeed
			return &p
		}, nil
	})
}

// SynthesizeAndPatch rewrites every frame's grain to a photon noise model
// derived from the requested ISO and the stream geometry.
func (e *grainEngine) SynthesizeAndPatch(ctx context.Context) error {
	e.l.Infow("generate has started",
		"input", e.req.InPath,
		"iso", e.req.ISO,
		"chroma", e.req.Chroma,
		"output", e.req.OutPath,
	)

	return e.patchRun(ctx, "generate", true, func(run *patchPipeline) (av1.GrainPolicy, error) {
		base, err := photon.SynthesizeFor(e.req.ISO, run.details.Width, run.details.Height, photon.BT1886, e.req.Chroma)
		if err != nil {
			return nil, err
		}
		seed := base.GrainSeed
		started := false
		return func(fh *av1.FrameHeader) *av1.FilmGrainParams {
			if started {
				seed = av1.NextGrainSeed(seed)
			}
			started = true
			p := base.Clone()
			p.GrainSeed = seed
			return &p
		}, nil
	})
}

// StripGrain rewrites every frame to apply_grain 0. The sequence header
// keeps signalling grain; a stream that never signalled it passes through
// untouched.
func (e *grainEngine) StripGrain(ctx context.Context) error {
	e.l.Infow("remove has started", "input", e.req.InPath, "output", e.req.OutPath)

	return e.patchRun(ctx, "remove", false, func(run *patchPipeline) (av1.GrainPolicy, error) {
		return func(fh *av1.FrameHeader) *av1.FilmGrainParams {
			seq := run.sc.Sequence()
			if seq == nil || !seq.FilmGrainParamsPresent {
				return nil
			}
			return &av1.FilmGrainParams{}
		}, nil
	})
}

// patchPipeline is the per run state the grain policies read: the stream
// details, the scanner whose reference slots they resolve against, and the
// tick of the packet being planned.
type patchPipeline struct {
	details *entities.VideoDetails
	sc      *av1.StreamScanner
	clock   *streamClock
	tick    int64
}

// patchRun drives the two pass rewrite: a sequential scan that plans every
// unit in decode order, and a windowed parallel render whose results are
// written back in input order. The sink is created on the first write so
// its details carry the scanned sequence header.
func (e *grainEngine) patchRun(ctx context.Context, op string, force bool, policyFor func(*patchPipeline) (av1.GrainPolicy, error)) error {
	if err := e.ensureWritable(e.req.OutPath); err != nil {
		return err
	}

	src, err := e.reader.Open(e.req.InPath)
	if err != nil {
		return err
	}
	defer src.Close()

	details := src.Details()
	if details.Codec != entities.AV1 {
		return fmt.Errorf("%w: %s carries %s, film grain is av1 only",
			entities.ErrUnsupportedInput, e.req.InPath, details.Codec)
	}

	run := &patchPipeline{
		details: details,
		sc:      av1.NewStreamScanner(),
		clock:   newStreamClock(details, e.l),
	}
	if force {
		run.sc.ForceGrainPresence(true)
	}
	if len(details.ExtraData) > 0 {
		if _, err := run.sc.ScanTemporalUnit(details.ExtraData, nil); err != nil {
			return fmt.Errorf("config obus: %w", err)
		}
	}

	policy, err := policyFor(run)
	if err != nil {
		return err
	}

	var sink writers.PacketSink
	defer func() {
		if sink != nil {
			sink.Close()
		}
	}()
	createSink := func() error {
		if sink != nil {
			return nil
		}
		outDetails := *details
		outDetails.ExtraData = patchedConfigOBUs(run.sc, details.ExtraData)
		s, err := e.writer.Create(e.req, &outDetails)
		if err != nil {
			return err
		}
		sink = s
		return nil
	}

	workers := e.c.WorkerCount()
	window := workers * e.c.PatchQueueFactor
	if window < 1 {
		window = 1
	}

	type job struct {
		tu  *av1.TemporalUnit
		pkt entities.Packet
		out []byte
	}
	batch := make([]*job, 0, window)

	var units, shown, rewrites int64
	first := true

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, j := range batch {
			j := j
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := j.tu.Render()
				j.out = out
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := createSink(); err != nil {
			return err
		}
		for _, j := range batch {
			data := j.out
			if first {
				data = withSequenceOBU(data, run.sc.SequenceOBU())
				first = false
			}
			out := j.pkt
			out.Data = data
			out.Keyframe = out.Keyframe || j.tu.Keyframe
			if err := sink.WritePacket(&out); err != nil {
				return err
			}
			rewrites += int64(j.tu.Rewrites())
		}
		batch = batch[:0]
		return nil
	}

	pkt := &entities.Packet{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := src.ReadPacket(pkt); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		run.tick = run.clock.tick(pkt, shown)

		tu, err := run.sc.PlanTemporalUnit(pkt.Data, policy)
		if err != nil {
			return fmt.Errorf("unit #%d: %w", units, err)
		}
		units++
		if tu.Displayed != nil {
			shown++
		}
		batch = append(batch, &job{tu: tu, pkt: *pkt})
		// The planned unit keeps the packet buffer until rendered.
		pkt.Data = nil

		if len(batch) == window {
			if err := flush(); err != nil {
				return err
			}
		}
		if e.c.ProgressEveryFrames > 0 && units%e.c.ProgressEveryFrames == 0 {
			e.l.Infof("%s processed %d units", op, units)
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := createSink(); err != nil {
		return err
	}
	if err := sink.Finalize(); err != nil {
		return err
	}

	e.l.Infow(op+" has finished",
		"units", units,
		"shown", shown,
		"rewrites", rewrites,
		"output", e.req.OutPath,
	)
	return nil
}

// withSequenceOBU makes the first output unit carry a sequence header in
// band. Containers that keep it out of band hand over units that start
// straight at the frame, which raw outputs cannot decode.
func withSequenceOBU(unit, seqOBU []byte) []byte {
	if len(seqOBU) == 0 {
		return unit
	}
	obus, err := av1.SplitOBUs(unit)
	if err != nil || len(obus) == 0 {
		return unit
	}
	for _, o := range obus {
		if o.Type == av1.OBUSequenceHeader {
			return unit
		}
	}
	at := 0
	if obus[0].Type == av1.OBUTemporalDelimiter {
		at = len(obus[0].Raw)
	}
	out := make([]byte, 0, len(unit)+len(seqOBU))
	out = append(out, unit[:at]...)
	out = append(out, seqOBU...)
	out = append(out, unit[at:]...)
	return out
}

// patchedConfigOBUs rebuilds container config OBUs so their sequence
// header matches what the rewritten stream signals.
func patchedConfigOBUs(sc *av1.StreamScanner, extra []byte) []byte {
	seqOBU := sc.SequenceOBU()
	if len(extra) == 0 || len(seqOBU) == 0 {
		return extra
	}
	obus, err := av1.SplitOBUs(extra)
	if err != nil {
		return extra
	}
	var out []byte
	for _, o := range obus {
		if o.Type == av1.OBUSequenceHeader {
			out = append(out, seqOBU...)
			continue
		}
		out = append(out, o.Raw...)
	}
	return out
}
