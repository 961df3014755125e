package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/flavioribeiro/grainsmith/av1"
	"github.com/flavioribeiro/grainsmith/graintable"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"go.uber.org/zap"
)

// streamClock converts packet timing to grain table ticks: container PTS
// when packets carry one, frame counting against the stream frame rate
// otherwise.
type streamClock struct {
	tbNum, tbDen int64
	frNum, frDen int64
}

func newStreamClock(details *entities.VideoDetails, l *zap.SugaredLogger) *streamClock {
	c := &streamClock{}
	if details.TimeBase.Usable() {
		c.tbNum = int64(details.TimeBase.Num)
		c.tbDen = int64(details.TimeBase.Den)
	}
	fr := details.FrameRate
	if !fr.Usable() {
		l.Infow("stream declares no frame rate, assuming 30 fps for untimed packets")
		fr = entities.Rational{Num: 30, Den: 1}
	}
	c.frNum = int64(fr.Num)
	c.frDen = int64(fr.Den)
	return c
}

func (c *streamClock) tick(p *entities.Packet, shownIdx int64) int64 {
	if p.PTS != entities.NoPTS && c.tbDen != 0 {
		return graintable.Ticks(p.PTS, c.tbNum, c.tbDen)
	}
	return graintable.Ticks(shownIdx, c.frDen, c.frNum)
}

func (c *streamClock) frameTicks(p *entities.Packet) int64 {
	if p.Duration > 0 && c.tbDen != 0 {
		return graintable.Ticks(p.Duration, c.tbNum, c.tbDen)
	}
	return graintable.Ticks(1, c.frDen, c.frNum)
}

// ExtractTable scans the input without rewriting anything and writes the
// film grain of every shown frame as a coalesced grain table.
func (e *grainEngine) ExtractTable(ctx context.Context) error {
	e.l.Infow("inspect has started", "input", e.req.InPath)
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

	sc := av1.NewStreamScanner()
	if len(details.ExtraData) > 0 {
		if _, err := sc.ScanTemporalUnit(details.ExtraData, nil); err != nil {
			return fmt.Errorf("config obus: %w", err)
		}
	}

	clock := newStreamClock(details, e.l)
	var b graintable.Builder
	var openStart int64
	var openParams av1.FilmGrainParams
	open := false

	pkt := &entities.Packet{}
	var units, shown int64
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
		tu, err := sc.ScanTemporalUnit(pkt.Data, nil)
		if err != nil {
			return fmt.Errorf("unit #%d: %w", units, err)
		}
		units++
		if e.c.ProgressEveryFrames > 0 && units%e.c.ProgressEveryFrames == 0 {
			e.l.Infof("inspect processed %d units", units)
		}
		if tu.Displayed == nil {
			continue
		}

		// Each shown frame opens a range the next shown frame closes.
		t := clock.tick(pkt, shown)
		shown++
		if open {
			b.Add(openStart, t, openParams)
		}
		open = true
		openStart = t
		openParams = *tu.Displayed
	}
	if open {
		b.Add(openStart, openStart+clock.frameTicks(pkt), openParams)
	}

	segs := withGrain(b.Segments())
	if len(segs) == 0 {
		e.l.Infow("no film grain headers found, this video does not use grain synthesis")
		return nil
	}
	if err := e.writeTable(segs); err != nil {
		return err
	}
	e.l.Infow("inspect has finished",
		"units", units,
		"shown", shown,
		"segments", len(segs),
		"output", e.req.OutPath,
	)
	return nil
}
