package writers

import (
	"fmt"
	"os"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"github.com/flavioribeiro/grainsmith/internal/mapper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// LibAVFFmpegWriter remuxes patched packets through ffmpeg/libav into
// whatever container the output extension names: mkv, webm, mp4 and the
// rest of what libav can mux AV1 into.
type LibAVFFmpegWriter struct {
	c *entities.Config
	l *zap.SugaredLogger
	m *mapper.Mapper
}

type ResultLibAVFFmpegWriter struct {
	fx.Out
	LibAVFFmpegWriter PacketWriter `group:"writers"`
}

// NewLibAVFFmpegWriter creates a new LibAVFFmpegWriter PacketWriter
func NewLibAVFFmpegWriter(
	c *entities.Config,
	l *zap.SugaredLogger,
	m *mapper.Mapper,
) ResultLibAVFFmpegWriter {
	return ResultLibAVFFmpegWriter{
		LibAVFFmpegWriter: &LibAVFFmpegWriter{
			c: c,
			l: l,
			m: m,
		},
	}
}

// Match returns true when no specialized writer claims the output
func (w *LibAVFFmpegWriter) Match(req *entities.StreamRequest) bool {
	return !matchExt(req.OutPath, ".ivf")
}

func (w *LibAVFFmpegWriter) Create(req *entities.StreamRequest, details *entities.VideoDetails) (PacketSink, error) {
	tmp, err := stagePath(req)
	if err != nil {
		return nil, err
	}

	closer := astikit.NewCloser()
	ok := false
	defer func() {
		if !ok {
			closer.Close()
			os.Remove(tmp)
		}
	}()

	// The output path names the format, the temp file receives the bytes.
	outputFormatContext, err := astiav.AllocOutputFormatContext(nil, "", req.OutPath)
	if err != nil {
		return nil, fmt.Errorf("error while AllocOutputFormatContext: %w", err)
	}
	if outputFormatContext == nil {
		return nil, entities.ErrFFmpegLibAVFormatContextIsNil
	}
	closer.Add(outputFormatContext.Free)

	outputStream := outputFormatContext.NewStream(nil)
	if outputStream == nil {
		return nil, fmt.Errorf("%w output stream is nil", entities.ErrFFMpegLibAV)
	}

	codec := astiav.FindDecoder(w.m.ToLibAVCodecID(details.Codec))
	if codec == nil {
		return nil, entities.ErrFFmpegLibAVDecoderNotFound
	}
	codecContext := astiav.AllocCodecContext(codec)
	if codecContext == nil {
		return nil, entities.ErrFFmpegLibAVCodecContextIsNil
	}
	closer.Add(codecContext.Free)
	codecContext.SetWidth(details.Width)
	codecContext.SetHeight(details.Height)
	codecContext.SetTimeBase(w.m.ToLibAVRational(details.TimeBase))

	if err := outputStream.CodecParameters().FromCodecContext(codecContext); err != nil {
		return nil, fmt.Errorf("error while CodecParameters().FromCodecContext: %w", err)
	}
	outputStream.CodecParameters().SetCodecTag(0)
	if len(details.ExtraData) > 0 {
		if err := outputStream.CodecParameters().SetExtraData(append([]byte(nil), details.ExtraData...)); err != nil {
			return nil, fmt.Errorf("error while CodecParameters().SetExtraData: %w", err)
		}
	}
	outputStream.SetTimeBase(w.m.ToLibAVRational(details.TimeBase))

	if !outputFormatContext.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioContext := astiav.NewIOContext()
		if err := ioContext.Open(tmp, astiav.NewIOContextFlags(astiav.IOContextFlagWrite)); err != nil {
			return nil, fmt.Errorf("error while ioContext.Open: %w", err)
		}
		closer.AddWithError(ioContext.Closep)
		outputFormatContext.SetPb(ioContext)
	}

	if err := outputFormatContext.WriteHeader(nil); err != nil {
		return nil, fmt.Errorf("error while outputFormatContext.WriteHeader: %w", err)
	}

	pkt := astiav.AllocPacket()
	closer.Add(pkt.Free)

	ok = true
	return &libavSink{
		m:      w.m,
		fc:     outputFormatContext,
		st:     outputStream,
		pkt:    pkt,
		tb:     w.m.ToLibAVRational(details.TimeBase),
		tmp:    tmp,
		out:    req.OutPath,
		closer: closer,
	}, nil
}

type libavSink struct {
	m      *mapper.Mapper
	fc     *astiav.FormatContext
	st     *astiav.Stream
	pkt    *astiav.Packet
	tb     astiav.Rational
	tmp    string
	out    string
	closer *astikit.Closer
	done   bool
}

func (s *libavSink) WritePacket(p *entities.Packet) error {
	q := *p
	if q.DTS == entities.NoPTS {
		// AV1 needs no reordering, muxers still want a decode time.
		q.DTS = q.PTS
	}
	if err := s.m.ToLibAVPacket(&q, s.pkt); err != nil {
		return err
	}
	if q.Keyframe {
		s.pkt.SetFlags(s.pkt.Flags().Add(astiav.PacketFlagKey))
	}
	s.pkt.SetStreamIndex(s.st.Index())
	s.pkt.RescaleTs(s.tb, s.st.TimeBase())
	if err := s.fc.WriteInterleavedFrame(s.pkt); err != nil {
		return fmt.Errorf("error while outputFormatContext.WriteInterleavedFrame: %w", err)
	}
	return nil
}

func (s *libavSink) Finalize() error {
	if err := s.fc.WriteTrailer(); err != nil {
		return fmt.Errorf("error while outputFormatContext.WriteTrailer: %w", err)
	}
	s.done = true
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("error while closing output: %w", err)
	}
	return os.Rename(s.tmp, s.out)
}

func (s *libavSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.closer.Close()
	os.Remove(s.tmp)
	return err
}
