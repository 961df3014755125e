package av1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// seqOpts drives the synthetic sequence header builder the parser tests and
// the frame header tests share. The zero value is a plain 8 bit 4:2:0
// profile 0 stream with every optional tool off.
type seqOpts struct {
	profile           uint8
	reduced           bool
	monochrome        bool
	width             uint32
	height            uint32
	orderHintBits     uint8 // 0 disables order hints
	frameIDs          bool
	enableRefFrameMVs bool
	enableSuperres    bool
	enableCDEF        bool
	enableRestoration bool
	use128            bool
	opIdc             uint16
	seqLevelIdx       uint8
	seqTier           uint8
	filmGrain         bool
}

func (o seqOpts) withDefaults() seqOpts {
	if o.width == 0 {
		o.width = 320
	}
	if o.height == 0 {
		o.height = 180
	}
	return o
}

func sizeBits(v uint32) int {
	n := 0
	for 1<<uint(n) < int(v) {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// buildSequenceHeader emits sequence_header_obu payload bytes for o,
// trailing bits included.
func buildSequenceHeader(o seqOpts) []byte {
	o = o.withDefaults()
	w := NewBitWriter()
	w.WriteBits(uint64(o.profile), 3)
	w.WriteFlag(false) // still_picture
	w.WriteFlag(o.reduced)
	if o.reduced {
		w.WriteBits(uint64(o.seqLevelIdx), 5)
	} else {
		w.WriteFlag(false) // timing_info_present_flag
		w.WriteFlag(false) // initial_display_delay_present_flag
		w.WriteBits(0, 5)  // operating_points_cnt_minus_1
		w.WriteBits(uint64(o.opIdc), 12)
		w.WriteBits(uint64(o.seqLevelIdx), 5)
		if o.seqLevelIdx > 7 {
			w.WriteBits(uint64(o.seqTier), 1)
		}
	}
	wb, hb := sizeBits(o.width), sizeBits(o.height)
	w.WriteBits(uint64(wb-1), 4)
	w.WriteBits(uint64(hb-1), 4)
	w.WriteBits(uint64(o.width-1), wb)
	w.WriteBits(uint64(o.height-1), hb)
	if !o.reduced {
		w.WriteFlag(o.frameIDs)
	}
	if o.frameIDs {
		w.WriteBits(2, 4) // delta_frame_id_length_minus_2
		w.WriteBits(5, 3) // additional_frame_id_length_minus_1
	}
	w.WriteFlag(o.use128)
	w.WriteFlag(false) // enable_filter_intra
	w.WriteFlag(false) // enable_intra_edge_filter
	if !o.reduced {
		w.WriteFlag(false) // enable_interintra_compound
		w.WriteFlag(false) // enable_masked_compound
		w.WriteFlag(false) // enable_warped_motion
		w.WriteFlag(false) // enable_dual_filter
		w.WriteFlag(o.orderHintBits > 0)
		if o.orderHintBits > 0 {
			w.WriteFlag(false) // enable_jnt_comp
			w.WriteFlag(o.enableRefFrameMVs)
		}
		w.WriteFlag(false) // seq_choose_screen_content_tools
		w.WriteFlag(false) // seq_force_screen_content_tools = 0
		if o.orderHintBits > 0 {
			w.WriteBits(uint64(o.orderHintBits-1), 3)
		}
	}
	w.WriteFlag(o.enableSuperres)
	w.WriteFlag(o.enableCDEF)
	w.WriteFlag(o.enableRestoration)

	// color_config
	w.WriteFlag(false) // high_bitdepth
	if o.profile != 1 {
		w.WriteFlag(o.monochrome)
	}
	w.WriteFlag(false) // color_description_present_flag
	w.WriteFlag(false) // color_range
	if !o.monochrome {
		switch o.profile {
		case 0:
			w.WriteBits(0, 2) // chroma_sample_position
		case 2:
			// 4:2:2, no further bits
		}
		w.WriteFlag(false) // separate_uv_delta_q
	}

	w.WriteFlag(o.filmGrain)
	w.WriteTrailingBits()
	return w.Bytes()
}

func TestParseSequenceHeader(t *testing.T) {
	payload := buildSequenceHeader(seqOpts{
		width:         1920,
		height:        1080,
		orderHintBits: 7,
		seqLevelIdx:   8,
		seqTier:       0,
		filmGrain:     true,
	})

	s, err := ParseSequenceHeader(payload)
	assert.NoError(t, err)
	assert.Equal(t, uint8(0), s.Profile)
	assert.False(t, s.ReducedStillPicture)
	assert.Equal(t, uint32(1920), s.MaxFrameWidth)
	assert.Equal(t, uint32(1080), s.MaxFrameHeight)
	assert.True(t, s.EnableOrderHint)
	assert.Equal(t, uint8(7), s.OrderHintBits)
	assert.Equal(t, uint8(8), s.Color.BitDepth)
	assert.Equal(t, uint8(1), s.Color.SubsamplingX)
	assert.Equal(t, uint8(1), s.Color.SubsamplingY)
	assert.False(t, s.Color.Monochrome)
	assert.True(t, s.FilmGrainParamsPresent)
	assert.Equal(t, 3, s.NumPlanes())
	assert.Len(t, s.OperatingPoints, 1)
	assert.Equal(t, uint8(8), s.OperatingPoints[0].SeqLevelIdx)
}

func TestParseSequenceHeaderMonochrome(t *testing.T) {
	payload := buildSequenceHeader(seqOpts{monochrome: true})

	s, err := ParseSequenceHeader(payload)
	assert.NoError(t, err)
	assert.True(t, s.Color.Monochrome)
	assert.Equal(t, uint8(1), s.Color.SubsamplingX)
	assert.Equal(t, uint8(1), s.Color.SubsamplingY)
	assert.Equal(t, 1, s.NumPlanes())
	assert.False(t, s.FilmGrainParamsPresent)
}

func TestParseSequenceHeaderReducedStillPicture(t *testing.T) {
	payload := buildSequenceHeader(seqOpts{reduced: true, filmGrain: true})

	s, err := ParseSequenceHeader(payload)
	assert.NoError(t, err)
	assert.True(t, s.ReducedStillPicture)
	assert.Equal(t, uint8(0), s.OrderHintBits)
	assert.Equal(t, uint8(selectScreenContentTools), s.SeqForceScreenContentTools)
	assert.True(t, s.FilmGrainParamsPresent)
}

func TestParseSequenceHeaderFrameIDs(t *testing.T) {
	payload := buildSequenceHeader(seqOpts{frameIDs: true})

	s, err := ParseSequenceHeader(payload)
	assert.NoError(t, err)
	assert.True(t, s.FrameIDNumbersPresent)
	assert.Equal(t, uint8(4), s.DeltaFrameIDLength)
	assert.Equal(t, uint8(6), s.AdditionalFrameIDLength)
	assert.Equal(t, 10, s.FrameIDLength())
}

func TestParseSequenceHeaderUnsupportedProfile(t *testing.T) {
	_, err := ParseSequenceHeader([]byte{0x60})
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestParseSequenceHeaderTruncated(t *testing.T) {
	payload := buildSequenceHeader(seqOpts{filmGrain: true})
	_, err := ParseSequenceHeader(payload[:2])
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestSetFilmGrainPresent(t *testing.T) {
	original := buildSequenceHeader(seqOpts{orderHintBits: 7, filmGrain: true})
	s, err := ParseSequenceHeader(original)
	assert.NoError(t, err)
	assert.True(t, s.FilmGrainParamsPresent)

	// Clearing the flag changes only that one bit.
	cleared := append([]byte(nil), original...)
	assert.NoError(t, s.SetFilmGrainPresent(cleared, false))
	assert.False(t, s.FilmGrainParamsPresent)
	reparsed, err := ParseSequenceHeader(cleared)
	assert.NoError(t, err)
	assert.False(t, reparsed.FilmGrainParamsPresent)
	assert.Equal(t, s.FilmGrainPresentBitPos, reparsed.FilmGrainPresentBitPos)

	// Setting it again restores the original bytes exactly.
	assert.NoError(t, reparsed.SetFilmGrainPresent(cleared, true))
	assert.Equal(t, original, cleared)
}

func TestLayerInOperatingPoint(t *testing.T) {
	payload := buildSequenceHeader(seqOpts{opIdc: 0x103})
	s, err := ParseSequenceHeader(payload)
	assert.NoError(t, err)

	assert.True(t, s.LayerInOperatingPoint(0, 0))
	assert.True(t, s.LayerInOperatingPoint(1, 0))
	assert.False(t, s.LayerInOperatingPoint(2, 0))
	assert.False(t, s.LayerInOperatingPoint(0, 1))

	// Idc zero admits every layer.
	plain, err := ParseSequenceHeader(buildSequenceHeader(seqOpts{}))
	assert.NoError(t, err)
	assert.True(t, plain.LayerInOperatingPoint(7, 3))
}
