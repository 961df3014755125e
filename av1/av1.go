// Package av1 implements the pieces of the AV1 low overhead bitstream format
// needed to read and rewrite film grain metadata: OBU framing, sequence and
// frame header syntax, the film_grain_params structure, and a splice-and-reframe
// patcher that leaves every byte outside the rewritten frame headers untouched.
package av1

import "errors"

type OBUType uint8

const (
	OBUSequenceHeader       OBUType = 1
	OBUTemporalDelimiter    OBUType = 2
	OBUFrameHeader          OBUType = 3
	OBUTileGroup            OBUType = 4
	OBUMetadata             OBUType = 5
	OBUFrame                OBUType = 6
	OBURedundantFrameHeader OBUType = 7
	OBUTileList             OBUType = 8
	OBUPadding              OBUType = 15
)

func (t OBUType) String() string {
	switch t {
	case OBUSequenceHeader:
		return "sequence_header"
	case OBUTemporalDelimiter:
		return "temporal_delimiter"
	case OBUFrameHeader:
		return "frame_header"
	case OBUTileGroup:
		return "tile_group"
	case OBUMetadata:
		return "metadata"
	case OBUFrame:
		return "frame"
	case OBURedundantFrameHeader:
		return "redundant_frame_header"
	case OBUTileList:
		return "tile_list"
	case OBUPadding:
		return "padding"
	}
	return "reserved"
}

type FrameType uint8

const (
	FrameKey       FrameType = 0
	FrameInter     FrameType = 1
	FrameIntraOnly FrameType = 2
	FrameSwitch    FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameKey:
		return "key"
	case FrameInter:
		return "inter"
	case FrameIntraOnly:
		return "intra_only"
	case FrameSwitch:
		return "switch"
	}
	return "unknown"
}

// IsIntra reports whether headers of this frame type never reference other frames.
func (t FrameType) IsIntra() bool {
	return t == FrameKey || t == FrameIntraOnly
}

const (
	NumRefFrames   = 8
	RefsPerFrame   = 7
	PrimaryRefNone = 7

	selectScreenContentTools = 2
	selectIntegerMV          = 2

	maxTileWidth = 4096
	maxTileArea  = 4096 * 2304
	maxTileCols  = 64
	maxTileRows  = 64

	maxSegments = 8
	segLvlMax   = 8
	segLvlAltQ  = 0

	superresDenomBits = 3
	superresDenomMin  = 9
	superresNum       = 8

	restorationTileSizeMax = 256

	warpedModelPrecBits = 16
	gmAbsTransBits      = 12
	gmAbsTransOnlyBits  = 9
	gmAbsAlphaBits      = 12
	gmAlphaPrecBits     = 15
	gmTransPrecBits     = 6
	gmTransOnlyPrecBits = 3

	// Grain model format maxima.
	MaxYPoints      = 14
	MaxChromaPoints = 10
	MaxARCoeffLag   = 3
)

// Color config constants referenced by the header parsers and the synthesizer.
const (
	ColorPrimariesBT709        = 1
	ColorPrimariesUnspecified  = 2
	TransferUnspecified        = 2
	TransferSRGB               = 13
	TransferSMPTE2084          = 16
	MatrixCoefficientsIdentity = 0
	MatrixCoefficientsUnspec   = 2
)

var ErrMalformedStream = errors.New("malformed av1 stream")
var ErrMissingReference = errors.New("grain inheritance references an unpopulated frame slot")
var ErrUnsupportedFeature = errors.New("unsupported av1 feature")
var ErrOutOfBounds = errors.New("bit cursor out of bounds")
var ErrInvalidGrainParams = errors.New("invalid film grain parameters")
