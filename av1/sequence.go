package av1

import "fmt"

// OperatingPoint is one entry of the sequence header operating point list.
// Idc is a 12 bit layer mask: bits 0..7 select temporal layers, bits 8..11
// spatial layers. Zero means the stream has a single layer.
type OperatingPoint struct {
	Idc                 uint16
	SeqLevelIdx         uint8
	SeqTier             uint8
	DecoderModelPresent bool
	DecoderBufferDelay  uint32
	EncoderBufferDelay  uint32
	LowDelayMode        bool
	InitialDisplayDelay uint8
}

// ColorConfig is the decoded color_config structure. Lengths are resolved:
// BitDepth is 8, 10 or 12, never the coded flags.
type ColorConfig struct {
	BitDepth                uint8
	Monochrome              bool
	ColorPrimaries          uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
	FullColorRange          bool
	SubsamplingX            uint8
	SubsamplingY            uint8
	ChromaSamplePosition    uint8
	SeparateUVDeltaQ        bool
}

// SequenceHeader is the decoded sequence_header_obu, with every
// minus_1/minus_2 field already resolved to its real value. Frame header
// parsing depends on most of it; the patcher only needs
// FilmGrainParamsPresent and FilmGrainPresentBitPos.
type SequenceHeader struct {
	Profile             uint8
	StillPicture        bool
	ReducedStillPicture bool

	TimingInfoPresent        bool
	NumUnitsInDisplayTick    uint32
	TimeScale                uint32
	EqualPictureInterval     bool
	NumTicksPerPictureMinus1 uint64

	DecoderModelInfoPresent     bool
	BufferDelayLength           uint8
	NumUnitsInDecodingTick      uint32
	BufferRemovalTimeLength     uint8
	FramePresentationTimeLength uint8

	InitialDisplayDelayPresent bool
	OperatingPoints            []OperatingPoint

	FrameWidthBits  uint8
	FrameHeightBits uint8
	MaxFrameWidth   uint32
	MaxFrameHeight  uint32

	FrameIDNumbersPresent   bool
	DeltaFrameIDLength      uint8
	AdditionalFrameIDLength uint8

	Use128x128Superblock  bool
	EnableFilterIntra     bool
	EnableIntraEdgeFilter bool

	EnableInterintraCompound bool
	EnableMaskedCompound     bool
	EnableWarpedMotion       bool
	EnableDualFilter         bool
	EnableOrderHint          bool
	EnableJntComp            bool
	EnableRefFrameMVs        bool

	// 0 and 1 force the tool off or on for every frame;
	// selectScreenContentTools / selectIntegerMV defer to per frame bits.
	SeqForceScreenContentTools uint8
	SeqForceIntegerMV          uint8

	OrderHintBits uint8

	EnableSuperres    bool
	EnableCDEF        bool
	EnableRestoration bool

	Color ColorConfig

	FilmGrainParamsPresent bool
	// FilmGrainPresentBitPos is the offset in bits of the
	// film_grain_params_present flag from the start of the OBU payload.
	FilmGrainPresentBitPos int
}

func (s *SequenceHeader) NumPlanes() int {
	if s.Color.Monochrome {
		return 1
	}
	return 3
}

// FrameIDLength returns the bit width of current_frame_id, zero when frame
// id numbers are off.
func (s *SequenceHeader) FrameIDLength() int {
	if !s.FrameIDNumbersPresent {
		return 0
	}
	return int(s.DeltaFrameIDLength) + int(s.AdditionalFrameIDLength)
}

// OperatingPointIdc returns the layer mask of the first listed operating
// point, the one a decoder picks by default.
func (s *SequenceHeader) OperatingPointIdc() uint16 {
	if len(s.OperatingPoints) == 0 {
		return 0
	}
	return s.OperatingPoints[0].Idc
}

// LayerInOperatingPoint reports whether an OBU with the given extension ids
// belongs to the default operating point.
func (s *SequenceHeader) LayerInOperatingPoint(temporalID, spatialID uint8) bool {
	idc := s.OperatingPointIdc()
	if idc == 0 {
		return true
	}
	return idc>>temporalID&1 != 0 && idc>>(spatialID+8)&1 != 0
}

// ParseSequenceHeader decodes a sequence_header_obu payload.
func ParseSequenceHeader(payload []byte) (*SequenceHeader, error) {
	r := NewBitReader(payload)
	s := &SequenceHeader{}

	s.Profile = uint8(r.ReadBits(3))
	if s.Profile > 2 {
		return nil, fmt.Errorf("%w: seq_profile %d", ErrUnsupportedFeature, s.Profile)
	}
	s.StillPicture = r.ReadFlag()
	s.ReducedStillPicture = r.ReadFlag()

	if s.ReducedStillPicture {
		s.OperatingPoints = []OperatingPoint{{SeqLevelIdx: uint8(r.ReadBits(5))}}
	} else {
		s.TimingInfoPresent = r.ReadFlag()
		if s.TimingInfoPresent {
			s.NumUnitsInDisplayTick = uint32(r.ReadBits(32))
			s.TimeScale = uint32(r.ReadBits(32))
			s.EqualPictureInterval = r.ReadFlag()
			if s.EqualPictureInterval {
				s.NumTicksPerPictureMinus1 = r.ReadUvlc()
			}
			s.DecoderModelInfoPresent = r.ReadFlag()
			if s.DecoderModelInfoPresent {
				s.BufferDelayLength = uint8(r.ReadBits(5)) + 1
				s.NumUnitsInDecodingTick = uint32(r.ReadBits(32))
				s.BufferRemovalTimeLength = uint8(r.ReadBits(5)) + 1
				s.FramePresentationTimeLength = uint8(r.ReadBits(5)) + 1
			}
		}
		s.InitialDisplayDelayPresent = r.ReadFlag()
		cnt := int(r.ReadBits(5)) + 1
		s.OperatingPoints = make([]OperatingPoint, cnt)
		for i := 0; i < cnt; i++ {
			op := &s.OperatingPoints[i]
			op.Idc = uint16(r.ReadBits(12))
			op.SeqLevelIdx = uint8(r.ReadBits(5))
			if op.SeqLevelIdx > 7 {
				op.SeqTier = uint8(r.ReadBit())
			}
			if s.DecoderModelInfoPresent {
				op.DecoderModelPresent = r.ReadFlag()
				if op.DecoderModelPresent {
					n := int(s.BufferDelayLength)
					op.DecoderBufferDelay = uint32(r.ReadBits(n))
					op.EncoderBufferDelay = uint32(r.ReadBits(n))
					op.LowDelayMode = r.ReadFlag()
				}
			}
			if s.InitialDisplayDelayPresent && r.ReadFlag() {
				op.InitialDisplayDelay = uint8(r.ReadBits(4)) + 1
			}
		}
	}

	s.FrameWidthBits = uint8(r.ReadBits(4)) + 1
	s.FrameHeightBits = uint8(r.ReadBits(4)) + 1
	s.MaxFrameWidth = uint32(r.ReadBits(int(s.FrameWidthBits))) + 1
	s.MaxFrameHeight = uint32(r.ReadBits(int(s.FrameHeightBits))) + 1

	if !s.ReducedStillPicture {
		s.FrameIDNumbersPresent = r.ReadFlag()
	}
	if s.FrameIDNumbersPresent {
		s.DeltaFrameIDLength = uint8(r.ReadBits(4)) + 2
		s.AdditionalFrameIDLength = uint8(r.ReadBits(3)) + 1
	}

	s.Use128x128Superblock = r.ReadFlag()
	s.EnableFilterIntra = r.ReadFlag()
	s.EnableIntraEdgeFilter = r.ReadFlag()

	if s.ReducedStillPicture {
		s.SeqForceScreenContentTools = selectScreenContentTools
		s.SeqForceIntegerMV = selectIntegerMV
	} else {
		s.EnableInterintraCompound = r.ReadFlag()
		s.EnableMaskedCompound = r.ReadFlag()
		s.EnableWarpedMotion = r.ReadFlag()
		s.EnableDualFilter = r.ReadFlag()
		s.EnableOrderHint = r.ReadFlag()
		if s.EnableOrderHint {
			s.EnableJntComp = r.ReadFlag()
			s.EnableRefFrameMVs = r.ReadFlag()
		}
		if r.ReadFlag() {
			s.SeqForceScreenContentTools = selectScreenContentTools
		} else {
			s.SeqForceScreenContentTools = uint8(r.ReadBit())
		}
		if s.SeqForceScreenContentTools > 0 {
			if r.ReadFlag() {
				s.SeqForceIntegerMV = selectIntegerMV
			} else {
				s.SeqForceIntegerMV = uint8(r.ReadBit())
			}
		} else {
			s.SeqForceIntegerMV = selectIntegerMV
		}
		if s.EnableOrderHint {
			s.OrderHintBits = uint8(r.ReadBits(3)) + 1
		}
	}

	s.EnableSuperres = r.ReadFlag()
	s.EnableCDEF = r.ReadFlag()
	s.EnableRestoration = r.ReadFlag()

	if err := parseColorConfig(r, s); err != nil {
		return nil, err
	}

	s.FilmGrainPresentBitPos = r.Position()
	s.FilmGrainParamsPresent = r.ReadFlag()

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("sequence header: %w", err)
	}
	return s, nil
}

func parseColorConfig(r *BitReader, s *SequenceHeader) error {
	c := &s.Color
	highBitdepth := r.ReadFlag()
	switch {
	case s.Profile == 2 && highBitdepth:
		if r.ReadFlag() {
			c.BitDepth = 12
		} else {
			c.BitDepth = 10
		}
	case highBitdepth:
		c.BitDepth = 10
	default:
		c.BitDepth = 8
	}

	if s.Profile != 1 {
		c.Monochrome = r.ReadFlag()
	}

	if r.ReadFlag() {
		c.ColorPrimaries = uint8(r.ReadBits(8))
		c.TransferCharacteristics = uint8(r.ReadBits(8))
		c.MatrixCoefficients = uint8(r.ReadBits(8))
	} else {
		c.ColorPrimaries = ColorPrimariesUnspecified
		c.TransferCharacteristics = TransferUnspecified
		c.MatrixCoefficients = MatrixCoefficientsUnspec
	}

	if c.Monochrome {
		c.FullColorRange = r.ReadFlag()
		c.SubsamplingX = 1
		c.SubsamplingY = 1
		return r.Err()
	}

	if c.ColorPrimaries == ColorPrimariesBT709 &&
		c.TransferCharacteristics == TransferSRGB &&
		c.MatrixCoefficients == MatrixCoefficientsIdentity {
		c.FullColorRange = true
	} else {
		c.FullColorRange = r.ReadFlag()
		switch s.Profile {
		case 0:
			c.SubsamplingX, c.SubsamplingY = 1, 1
		case 1:
			// 4:4:4
		default:
			if c.BitDepth == 12 {
				c.SubsamplingX = uint8(r.ReadBit())
				if c.SubsamplingX == 1 {
					c.SubsamplingY = uint8(r.ReadBit())
				}
			} else {
				c.SubsamplingX = 1
			}
		}
		if c.SubsamplingX == 1 && c.SubsamplingY == 1 {
			c.ChromaSamplePosition = uint8(r.ReadBits(2))
		}
	}
	c.SeparateUVDeltaQ = r.ReadFlag()
	return r.Err()
}

// SetFilmGrainPresent rewrites the film_grain_params_present flag inside a
// sequence header payload. The flag is a single fixed bit, so the rewrite
// never changes the payload size; callers pass their own copy of the bytes.
func (s *SequenceHeader) SetFilmGrainPresent(payload []byte, present bool) error {
	pos := s.FilmGrainPresentBitPos
	if pos < 0 || pos >= len(payload)*8 {
		return fmt.Errorf("%w: film grain flag at bit %d outside %d byte payload", ErrOutOfBounds, pos, len(payload))
	}
	mask := byte(0x80) >> uint(pos&7)
	if present {
		payload[pos>>3] |= mask
	} else {
		payload[pos>>3] &^= mask
	}
	s.FilmGrainParamsPresent = present
	return nil
}
