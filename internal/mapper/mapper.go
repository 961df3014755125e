package mapper

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/flavioribeiro/grainsmith/grainfit"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"go.uber.org/zap"
)

type Mapper struct {
	l *zap.SugaredLogger
}

func NewMapper(l *zap.SugaredLogger) *Mapper {
	return &Mapper{l: l}
}

func (m *Mapper) FromLibAVCodecIDToCodec(id astiav.CodecID) entities.Codec {
	if id == astiav.CodecIDAv1 {
		return entities.AV1
	}
	if id == astiav.CodecIDH264 {
		return entities.H264
	}
	if id == astiav.CodecIDHevc {
		return entities.H265
	}
	if id == astiav.CodecIDVp9 {
		return entities.VP9
	}
	m.l.Info("no codec mapping for ", id.Name())
	return entities.UnknownCodec
}

func (m *Mapper) ToLibAVCodecID(c entities.Codec) astiav.CodecID {
	if c == entities.AV1 {
		return astiav.CodecIDAv1
	}
	if c == entities.H264 {
		return astiav.CodecIDH264
	}
	if c == entities.H265 {
		return astiav.CodecIDHevc
	}
	if c == entities.VP9 {
		return astiav.CodecIDVp9
	}
	return astiav.CodecIDNone
}

func (m *Mapper) FromLibAVRational(r astiav.Rational) entities.Rational {
	return entities.Rational{Num: r.Num(), Den: r.Den()}
}

func (m *Mapper) ToLibAVRational(r entities.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

// FromLibAVStreamToVideoDetails captures what the engine needs to know
// about a demuxed video stream, extradata unwrapped to raw config OBUs.
func (m *Mapper) FromLibAVStreamToVideoDetails(fc *astiav.FormatContext, is *astiav.Stream) *entities.VideoDetails {
	cp := is.CodecParameters()
	return &entities.VideoDetails{
		Codec:     m.FromLibAVCodecIDToCodec(cp.CodecID()),
		Width:     cp.Width(),
		Height:    cp.Height(),
		TimeBase:  m.FromLibAVRational(is.TimeBase()),
		FrameRate: m.FromLibAVRational(fc.GuessFrameRate(is, nil)),
		ExtraData: m.AV1ConfigOBUs(cp.ExtraData()),
	}
}

// AV1ConfigOBUs unwraps codec extradata into raw config OBUs. Containers
// carry an AV1CodecConfigurationRecord whose first byte has the marker bit
// set, which no OBU header can have; bare OBU extradata passes through.
func (m *Mapper) AV1ConfigOBUs(extra []byte) []byte {
	if len(extra) >= 4 && extra[0]&0x80 != 0 {
		return extra[4:]
	}
	return extra
}

func (m *Mapper) FromLibAVPacket(pkt *astiav.Packet) *entities.Packet {
	p := &entities.Packet{
		Data:     pkt.Data(),
		PTS:      pkt.Pts(),
		DTS:      pkt.Dts(),
		Duration: pkt.Duration(),
		Keyframe: pkt.Flags().Has(astiav.PacketFlagKey),
	}
	if p.PTS == astiav.NoPtsValue {
		p.PTS = entities.NoPTS
	}
	if p.DTS == astiav.NoPtsValue {
		p.DTS = entities.NoPTS
	}
	return p
}

// ToLibAVPacket loads an entity packet into an allocated libav packet,
// timestamps staying in the time base units the entity carries.
func (m *Mapper) ToLibAVPacket(p *entities.Packet, pkt *astiav.Packet) error {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	if err := pkt.FromData(data); err != nil {
		return fmt.Errorf("%w loading packet data failed: %s", entities.ErrFFMpegLibAV, err)
	}
	pts, dts := p.PTS, p.DTS
	if pts == entities.NoPTS {
		pts = astiav.NoPtsValue
	}
	if dts == entities.NoPTS {
		dts = astiav.NoPtsValue
	}
	pkt.SetPts(pts)
	pkt.SetDts(dts)
	pkt.SetDuration(p.Duration)
	pkt.SetPos(-1)
	return nil
}

// FromLibAVFrameToPlanes copies a decoded frame into tightly packed 8 bit
// planes. Only 8 bit planar yuv and gray layouts are supported; grain
// estimation runs on those.
func (m *Mapper) FromLibAVFrameToPlanes(f *astiav.Frame) (*grainfit.Frame, error) {
	w, h := f.Width(), f.Height()
	var ssx, ssy int
	mono := false
	switch f.PixelFormat() {
	case astiav.PixelFormatYuv420P, astiav.PixelFormatYuvj420P:
		ssx, ssy = 1, 1
	case astiav.PixelFormatYuv422P, astiav.PixelFormatYuvj422P:
		ssx, ssy = 1, 0
	case astiav.PixelFormatYuv444P, astiav.PixelFormatYuvj444P:
		ssx, ssy = 0, 0
	case astiav.PixelFormatGray8:
		mono = true
	default:
		return nil, fmt.Errorf("%w: pixel format %s is not 8 bit planar yuv",
			entities.ErrUnsupportedInput, f.PixelFormat())
	}

	size, err := f.ImageBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("%w sizing frame buffer failed: %s", entities.ErrFFMpegLibAV, err)
	}
	buf := make([]byte, size)
	if _, err := f.ImageCopyToBuffer(buf, 1); err != nil {
		return nil, fmt.Errorf("%w copying frame data failed: %s", entities.ErrFFMpegLibAV, err)
	}

	out := &grainfit.Frame{Y: grainfit.Plane{Width: w, Height: h, Stride: w}}
	need := w * h
	if !mono {
		cw := (w + ssx) >> ssx
		ch := (h + ssy) >> ssy
		need += 2 * cw * ch
		out.Cb = grainfit.Plane{Width: cw, Height: ch, Stride: cw}
		out.Cr = grainfit.Plane{Width: cw, Height: ch, Stride: cw}
	}
	if len(buf) < need {
		return nil, fmt.Errorf("%w frame buffer holds %d bytes, geometry needs %d",
			entities.ErrFFMpegLibAV, len(buf), need)
	}

	out.Y.Samples = buf[:w*h]
	if !mono {
		cs := out.Cb.Width * out.Cb.Height
		out.Cb.Samples = buf[w*h : w*h+cs]
		out.Cr.Samples = buf[w*h+cs : w*h+2*cs]
	}
	return out, nil
}
