package readers

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/flavioribeiro/grainsmith/internal/entities"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ivfHeaderSize      = 32
	ivfFrameHeaderSize = 12
)

// IVFReader reads the raw AV1 elementary streams aomenc and the libvpx
// tooling wrap in IVF. Every IVF frame carries one temporal unit, so no
// reframing happens on the way in.
type IVFReader struct {
	c *entities.Config
	l *zap.SugaredLogger
}

type ResultIVFReader struct {
	fx.Out
	IVFReader PacketReader `group:"readers"`
}

// NewIVFReader creates a new IVFReader PacketReader
func NewIVFReader(
	c *entities.Config,
	l *zap.SugaredLogger,
) ResultIVFReader {
	return ResultIVFReader{
		IVFReader: &IVFReader{
			c: c,
			l: l,
		},
	}
}

// Match returns true when the input is an IVF file
func (r *IVFReader) Match(req *entities.StreamRequest) bool {
	return matchExt(req.InPath, ".ivf")
}

func (r *IVFReader) Open(path string) (PacketSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error while opening ivf input: %w", err)
	}

	var hdr [ivfHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is too short for an ivf header", entities.ErrUnsupportedInput, path)
	}
	if string(hdr[0:4]) != "DKIF" {
		f.Close()
		return nil, fmt.Errorf("%w: %s has no DKIF magic", entities.ErrUnsupportedInput, path)
	}
	if fourcc := string(hdr[8:12]); fourcc != "AV01" {
		f.Close()
		return nil, fmt.Errorf("%w: ivf carries %q, need AV01", entities.ErrUnsupportedInput, fourcc)
	}
	headerLen := int64(binary.LittleEndian.Uint16(hdr[6:8]))
	if headerLen < ivfHeaderSize {
		f.Close()
		return nil, fmt.Errorf("%w: ivf header length %d below %d", entities.ErrUnsupportedInput, headerLen, ivfHeaderSize)
	}
	if headerLen > ivfHeaderSize {
		r.l.Infof("ivf header declares %d bytes, skipping the extra", headerLen)
		if _, err := f.Seek(headerLen, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("error while skipping ivf header: %w", err)
		}
	}

	details := &entities.VideoDetails{
		Codec:  entities.AV1,
		Width:  int(binary.LittleEndian.Uint16(hdr[12:14])),
		Height: int(binary.LittleEndian.Uint16(hdr[14:16])),
		TimeBase: entities.Rational{
			Num: int(binary.LittleEndian.Uint32(hdr[20:24])),
			Den: int(binary.LittleEndian.Uint32(hdr[16:20])),
		},
	}
	if details.TimeBase.Usable() {
		details.FrameRate = entities.Rational{Num: details.TimeBase.Den, Den: details.TimeBase.Num}
	}

	return &ivfSource{f: f, details: details}, nil
}

type ivfSource struct {
	f       *os.File
	details *entities.VideoDetails
}

func (s *ivfSource) Details() *entities.VideoDetails {
	return s.details
}

func (s *ivfSource) ReadPacket(p *entities.Packet) error {
	var hdr [ivfFrameHeaderSize]byte
	if _, err := io.ReadFull(s.f, hdr[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("%w: truncated ivf frame header", entities.ErrUnsupportedInput)
	}
	size := binary.LittleEndian.Uint32(hdr[0:4])
	data := make([]byte, size)
	if _, err := io.ReadFull(s.f, data); err != nil {
		return fmt.Errorf("%w: ivf frame of %d bytes is truncated", entities.ErrUnsupportedInput, size)
	}

	p.Data = data
	p.PTS = int64(binary.LittleEndian.Uint64(hdr[4:12]))
	p.DTS = p.PTS
	p.Duration = 0
	p.Keyframe = false
	return nil
}

func (s *ivfSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
