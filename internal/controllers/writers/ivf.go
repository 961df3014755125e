package writers

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/flavioribeiro/grainsmith/internal/entities"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ivfHeaderSize      = 32
	ivfFrameHeaderSize = 12
)

// IVFWriter writes raw AV1 elementary streams as IVF, one frame per
// temporal unit. The frame count lives in the header, so it is patched in
// on Finalize once the stream has been drained.
type IVFWriter struct {
	c *entities.Config
	l *zap.SugaredLogger
}

type ResultIVFWriter struct {
	fx.Out
	IVFWriter PacketWriter `group:"writers"`
}

// NewIVFWriter creates a new IVFWriter PacketWriter
func NewIVFWriter(
	c *entities.Config,
	l *zap.SugaredLogger,
) ResultIVFWriter {
	return ResultIVFWriter{
		IVFWriter: &IVFWriter{
			c: c,
			l: l,
		},
	}
}

// Match returns true when the output is an IVF file
func (w *IVFWriter) Match(req *entities.StreamRequest) bool {
	return matchExt(req.OutPath, ".ivf")
}

func (w *IVFWriter) Create(req *entities.StreamRequest, details *entities.VideoDetails) (PacketSink, error) {
	tmp, err := stagePath(req)
	if err != nil {
		return nil, err
	}

	tb := details.TimeBase
	if !tb.Usable() && details.FrameRate.Usable() {
		tb = entities.Rational{Num: details.FrameRate.Den, Den: details.FrameRate.Num}
	}
	if !tb.Usable() {
		w.l.Infow("no usable time base for ivf output, assuming 30 fps")
		tb = entities.Rational{Num: 1, Den: 30}
	}

	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("error while creating ivf output: %w", err)
	}

	var hdr [ivfHeaderSize]byte
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[4:6], 0)
	binary.LittleEndian.PutUint16(hdr[6:8], ivfHeaderSize)
	copy(hdr[8:12], "AV01")
	binary.LittleEndian.PutUint16(hdr[12:14], uint16(details.Width))
	binary.LittleEndian.PutUint16(hdr[14:16], uint16(details.Height))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(tb.Den))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(tb.Num))
	binary.LittleEndian.PutUint32(hdr[24:28], 0)

	bw := bufio.NewWriter(f)
	if _, err := bw.Write(hdr[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("error while writing ivf header: %w", err)
	}

	return &ivfSink{f: f, bw: bw, tmp: tmp, out: req.OutPath}, nil
}

type ivfSink struct {
	f     *os.File
	bw    *bufio.Writer
	tmp   string
	out   string
	count uint32
	done  bool
}

func (s *ivfSink) WritePacket(p *entities.Packet) error {
	pts := p.PTS
	if pts == entities.NoPTS {
		pts = int64(s.count)
	}
	var hdr [ivfFrameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(p.Data)))
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(pts))
	if _, err := s.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("error while writing ivf frame header: %w", err)
	}
	if _, err := s.bw.Write(p.Data); err != nil {
		return fmt.Errorf("error while writing ivf frame: %w", err)
	}
	s.count++
	return nil
}

func (s *ivfSink) Finalize() error {
	if err := s.bw.Flush(); err != nil {
		return fmt.Errorf("error while flushing ivf output: %w", err)
	}

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], s.count)
	if _, err := s.f.WriteAt(count[:], 24); err != nil {
		return fmt.Errorf("error while patching ivf frame count: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("error while closing ivf output: %w", err)
	}
	s.done = true
	return os.Rename(s.tmp, s.out)
}

func (s *ivfSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.f.Close()
	os.Remove(s.tmp)
	return err
}
