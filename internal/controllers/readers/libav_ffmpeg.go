package readers

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"github.com/flavioribeiro/grainsmith/internal/mapper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// LibAVFFmpegReader demuxes through ffmpeg/libav and serves every container
// the specialized readers do not claim: mkv, webm, raw obu and whatever
// else libav probes as carrying an AV1 stream.
type LibAVFFmpegReader struct {
	c *entities.Config
	l *zap.SugaredLogger
	m *mapper.Mapper
}

type ResultLibAVFFmpegReader struct {
	fx.Out
	LibAVFFmpegReader PacketReader `group:"readers"`
}

// NewLibAVFFmpegReader creates a new LibAVFFmpegReader PacketReader
func NewLibAVFFmpegReader(
	c *entities.Config,
	l *zap.SugaredLogger,
	m *mapper.Mapper,
) ResultLibAVFFmpegReader {
	return ResultLibAVFFmpegReader{
		LibAVFFmpegReader: &LibAVFFmpegReader{
			c: c,
			l: l,
			m: m,
		},
	}
}

// Match returns true when no specialized reader claims the input
func (r *LibAVFFmpegReader) Match(req *entities.StreamRequest) bool {
	return !matchExt(req.InPath, ".ivf", ".mp4", ".m4v")
}

func (r *LibAVFFmpegReader) Open(path string) (PacketSource, error) {
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
	d := &astiav.Dictionary{}
	d.Set("probesize", strconv.Itoa(r.c.ProbeSizeBytes), 0)

	if err := inputFormatContext.OpenInput(path, nil, d); err != nil {
		return nil, fmt.Errorf("error while inputFormatContext.OpenInput: %w", err)
	}
	closer.Add(inputFormatContext.CloseInput)

	if err := inputFormatContext.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("error while inputFormatContext.FindStreamInfo %w", err)
	}

	var videoStream *astiav.Stream
	for _, is := range inputFormatContext.Streams() {
		if is.CodecParameters().MediaType() != astiav.MediaTypeVideo {
			r.l.Info("skipping media type ", is.CodecParameters().MediaType())
			continue
		}
		videoStream = is
		break
	}
	if videoStream == nil {
		return nil, entities.ErrFFmpegLibAVNoVideoStream
	}

	pkt := astiav.AllocPacket()
	closer.Add(pkt.Free)

	ok = true
	return &libavSource{
		m:       r.m,
		fc:      inputFormatContext,
		pkt:     pkt,
		index:   videoStream.Index(),
		details: r.m.FromLibAVStreamToVideoDetails(inputFormatContext, videoStream),
		closer:  closer,
	}, nil
}

type libavSource struct {
	m       *mapper.Mapper
	fc      *astiav.FormatContext
	pkt     *astiav.Packet
	index   int
	details *entities.VideoDetails
	closer  *astikit.Closer
}

func (s *libavSource) Details() *entities.VideoDetails {
	return s.details
}

func (s *libavSource) ReadPacket(p *entities.Packet) error {
	for {
		if err := s.fc.ReadFrame(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return io.EOF
			}
			return fmt.Errorf("error while inputFormatContext.ReadFrame: %w", err)
		}
		if s.pkt.StreamIndex() != s.index {
			s.pkt.Unref()
			continue
		}
		*p = *s.m.FromLibAVPacket(s.pkt)
		s.pkt.Unref()
		return nil
	}
}

func (s *libavSource) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
