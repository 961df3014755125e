package readers

import (
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MP4Reader walks the sample tables of progressive mp4 files directly, so
// read only runs need no ffmpeg shared libraries. Fragmented files are
// refused; the libav reader handles those after a remux.
type MP4Reader struct {
	c *entities.Config
	l *zap.SugaredLogger
}

type ResultMP4Reader struct {
	fx.Out
	MP4Reader PacketReader `group:"readers"`
}

// NewMP4Reader creates a new MP4Reader PacketReader
func NewMP4Reader(
	c *entities.Config,
	l *zap.SugaredLogger,
) ResultMP4Reader {
	return ResultMP4Reader{
		MP4Reader: &MP4Reader{
			c: c,
			l: l,
		},
	}
}

// Match returns true when the input is an mp4 file
func (r *MP4Reader) Match(req *entities.StreamRequest) bool {
	return matchExt(req.InPath, ".mp4", ".m4v")
}

func (r *MP4Reader) Open(path string) (PacketSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error while opening mp4 input: %w", err)
	}

	mf, err := mp4.DecodeFile(f, mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: decoding mp4 boxes: %v", entities.ErrUnsupportedInput, err)
	}
	if mf.IsFragmented() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is fragmented, remux it to a progressive mp4 first", entities.ErrUnsupportedInput, path)
	}

	src, err := r.av1Track(f, mf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// av1Track selects the first video track with an av01 sample entry and
// binds a source to its sample table.
func (r *MP4Reader) av1Track(f *os.File, mf *mp4.File) (*mp4Source, error) {
	if mf.Moov == nil {
		return nil, fmt.Errorf("%w: mp4 has no moov box", entities.ErrUnsupportedInput)
	}
	for _, trak := range mf.Moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Mdhd == nil {
			continue
		}
		stbl := trak.Mdia.Minf.Stbl
		if stbl.Stsd == nil || stbl.Stsd.Av01 == nil {
			r.l.Infof("skipping video track %d, not av1", trak.Tkhd.TrackID)
			continue
		}
		if stbl.Stts == nil || stbl.Stsz == nil || stbl.Stsc == nil || (stbl.Stco == nil && stbl.Co64 == nil) {
			return nil, fmt.Errorf("%w: av1 track %d misses sample table boxes", entities.ErrUnsupportedInput, trak.Tkhd.TrackID)
		}

		av01 := stbl.Stsd.Av01
		details := &entities.VideoDetails{
			Codec:    entities.AV1,
			Width:    int(av01.Width),
			Height:   int(av01.Height),
			TimeBase: entities.Rational{Num: 1, Den: int(trak.Mdia.Mdhd.Timescale)},
		}
		if av01.Av1C != nil {
			details.ExtraData = append([]byte(nil), av01.Av1C.ConfigOBUs...)
		}
		count := stbl.Stsz.SampleNumber
		if count > 0 {
			if _, dur := stbl.Stts.GetDecodeTime(1); dur > 0 {
				details.FrameRate = entities.Rational{Num: int(trak.Mdia.Mdhd.Timescale), Den: int(dur)}
			}
		}

		return &mp4Source{f: f, details: details, stbl: stbl, count: count, next: 1}, nil
	}
	return nil, fmt.Errorf("%w: no av1 video track", entities.ErrUnsupportedInput)
}

type mp4Source struct {
	f       *os.File
	details *entities.VideoDetails
	stbl    *mp4.StblBox
	count   uint32
	next    uint32
}

func (s *mp4Source) Details() *entities.VideoDetails {
	return s.details
}

func (s *mp4Source) ReadPacket(p *entities.Packet) error {
	if s.next > s.count {
		return io.EOF
	}
	nr := s.next
	s.next++

	offset, err := s.sampleOffset(int(nr))
	if err != nil {
		return err
	}
	size := s.stbl.Stsz.GetSampleSize(int(nr))
	data := make([]byte, size)
	if _, err := s.f.ReadAt(data, offset); err != nil {
		return fmt.Errorf("%w: sample %d of %d bytes is truncated", entities.ErrUnsupportedInput, nr, size)
	}

	decTime, dur := s.stbl.Stts.GetDecodeTime(nr)
	p.Data = data
	p.DTS = int64(decTime)
	p.PTS = p.DTS
	if s.stbl.Ctts != nil {
		p.PTS += int64(s.stbl.Ctts.GetCompositionTimeOffset(nr))
	}
	p.Duration = int64(dur)
	p.Keyframe = s.stbl.Stss == nil || s.stbl.Stss.IsSyncSample(nr)
	return nil
}

// sampleOffset resolves the absolute file offset of a 1 based sample
// number by adding the sizes of its chunk predecessors to the chunk start.
func (s *mp4Source) sampleOffset(nr int) (int64, error) {
	chunkNr, first, err := s.stbl.Stsc.ChunkNrFromSampleNr(nr)
	if err != nil {
		return 0, fmt.Errorf("%w: sample %d: %v", entities.ErrUnsupportedInput, nr, err)
	}

	var offset uint64
	switch {
	case s.stbl.Stco != nil:
		if chunkNr > len(s.stbl.Stco.ChunkOffset) {
			return 0, fmt.Errorf("%w: chunk %d beyond stco", entities.ErrUnsupportedInput, chunkNr)
		}
		offset = uint64(s.stbl.Stco.ChunkOffset[chunkNr-1])
	default:
		if chunkNr > len(s.stbl.Co64.ChunkOffset) {
			return 0, fmt.Errorf("%w: chunk %d beyond co64", entities.ErrUnsupportedInput, chunkNr)
		}
		offset = s.stbl.Co64.ChunkOffset[chunkNr-1]
	}
	for i := first; i < nr; i++ {
		offset += uint64(s.stbl.Stsz.GetSampleSize(i))
	}
	return int64(offset), nil
}

func (s *mp4Source) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
