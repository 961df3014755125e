package decoders

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/flavioribeiro/grainsmith/grainfit"
	"github.com/flavioribeiro/grainsmith/graintable"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"github.com/flavioribeiro/grainsmith/internal/mapper"
	"go.uber.org/zap"
)

// LibAVFFmpegDecoder decodes through ffmpeg/libav. The diff estimation is
// the only consumer; it needs full pictures, not just headers.
type LibAVFFmpegDecoder struct {
	c *entities.Config
	l *zap.SugaredLogger
	m *mapper.Mapper
}

// NewLibAVFFmpegDecoder creates a new LibAVFFmpegDecoder PlaneDecoder
func NewLibAVFFmpegDecoder(
	c *entities.Config,
	l *zap.SugaredLogger,
	m *mapper.Mapper,
) PlaneDecoder {
	return &LibAVFFmpegDecoder{
		c: c,
		l: l,
		m: m,
	}
}

func (d *LibAVFFmpegDecoder) Open(path string) (FrameSource, error) {
	closer := astikit.NewCloser()
	ok := false
	defer func() {
		if !ok {
			closer.Close()
		}
	}()

	var inputFormatContext *astiav.FormatContext
	if inputFormatContext = astiav.AllocFormatContext(); inputFormatContext == nil {
		return nil, entities.ErrFFmpegLibAVFormatContextIsNil
	}
	closer.Add(inputFormatContext.Free)

	// flags (the zeroed 3rd value) https://github.com/FFmpeg/FFmpeg/blob/n5.0/libavutil/dict.h#L67C9-L77
	dict := &astiav.Dictionary{}
	dict.Set("probesize", strconv.Itoa(d.c.ProbeSizeBytes), 0)

	if err := inputFormatContext.OpenInput(path, nil, dict); err != nil {
		return nil, fmt.Errorf("error while inputFormatContext.OpenInput: %w", err)
	}
	closer.Add(inputFormatContext.CloseInput)

	if err := inputFormatContext.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("error while inputFormatContext.FindStreamInfo %w", err)
	}

	var videoStream *astiav.Stream
	for _, is := range inputFormatContext.Streams() {
		if is.CodecParameters().MediaType() != astiav.MediaTypeVideo {
			d.l.Info("skipping media type ", is.CodecParameters().MediaType())
			continue
		}
		videoStream = is
		break
	}
	if videoStream == nil {
		return nil, entities.ErrFFmpegLibAVNoVideoStream
	}

	decCodec := astiav.FindDecoder(videoStream.CodecParameters().CodecID())
	if decCodec == nil {
		return nil, entities.ErrFFmpegLibAVDecoderNotFound
	}
	decCodecContext := astiav.AllocCodecContext(decCodec)
	if decCodecContext == nil {
		return nil, entities.ErrFFmpegLibAVCodecContextIsNil
	}
	closer.Add(decCodecContext.Free)

	if err := videoStream.CodecParameters().ToCodecContext(decCodecContext); err != nil {
		return nil, fmt.Errorf("error while CodecParameters().ToCodecContext: %w", err)
	}
	decCodecContext.SetFramerate(inputFormatContext.GuessFrameRate(videoStream, nil))
	if err := decCodecContext.Open(decCodec, nil); err != nil {
		return nil, fmt.Errorf("error while decCodecContext.Open: %w", err)
	}

	pkt := astiav.AllocPacket()
	closer.Add(pkt.Free)
	frame := astiav.AllocFrame()
	closer.Add(frame.Free)

	details := d.m.FromLibAVStreamToVideoDetails(inputFormatContext, videoStream)
	src := &libavFrameSource{
		m:       d.m,
		fc:      inputFormatContext,
		cc:      decCodecContext,
		pkt:     pkt,
		frame:   frame,
		index:   videoStream.Index(),
		details: details,
		closer:  closer,
	}
	if details.FrameRate.Usable() {
		src.tickDur = graintable.Ticks(1, int64(details.FrameRate.Den), int64(details.FrameRate.Num))
	}
	ok = true
	return src, nil
}

type libavFrameSource struct {
	m       *mapper.Mapper
	fc      *astiav.FormatContext
	cc      *astiav.CodecContext
	pkt     *astiav.Packet
	frame   *astiav.Frame
	index   int
	details *entities.VideoDetails
	closer  *astikit.Closer

	tickDur int64
	n       int64
	drained bool
}

func (s *libavFrameSource) Details() *entities.VideoDetails {
	return s.details
}

func (s *libavFrameSource) ReadFrame() (*grainfit.Frame, error) {
	for {
		err := s.cc.ReceiveFrame(s.frame)
		if err == nil {
			return s.convert()
		}
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		if !errors.Is(err, astiav.ErrEagain) {
			return nil, fmt.Errorf("error while decCodecContext.ReceiveFrame: %w", err)
		}
		if s.drained {
			return nil, io.EOF
		}
		if err := s.feed(); err != nil {
			return nil, err
		}
	}
}

// feed pushes the next video packet into the decoder, or flushes it when
// the demuxer runs out.
func (s *libavFrameSource) feed() error {
	for {
		if err := s.fc.ReadFrame(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				s.drained = true
				if err := s.cc.SendPacket(nil); err != nil {
					return fmt.Errorf("error while decCodecContext.SendPacket flush: %w", err)
				}
				return nil
			}
			return fmt.Errorf("error while inputFormatContext.ReadFrame: %w", err)
		}
		if s.pkt.StreamIndex() != s.index {
			s.pkt.Unref()
			continue
		}
		err := s.cc.SendPacket(s.pkt)
		s.pkt.Unref()
		if err != nil {
			return fmt.Errorf("error while decCodecContext.SendPacket: %w", err)
		}
		return nil
	}
}

func (s *libavFrameSource) convert() (*grainfit.Frame, error) {
	g, err := s.m.FromLibAVFrameToPlanes(s.frame)
	if err != nil {
		return nil, err
	}
	if pts := s.frame.Pts(); pts != astiav.NoPtsValue {
		g.PTS = graintable.Ticks(pts, int64(s.details.TimeBase.Num), int64(s.details.TimeBase.Den))
	} else {
		g.PTS = s.n * s.tickDur
	}
	g.Duration = s.tickDur
	s.n++
	return g, nil
}

func (s *libavFrameSource) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
