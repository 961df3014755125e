// Package teststreams builds the fixtures the collaborator tests run
// against: synthetic AV1 temporal units with known grain and IVF files
// wrapping them. Everything is generated in process so the tests need no
// external encoder. Builders panic on misuse; they only ever feed tests.
package teststreams

import (
	"encoding/binary"
	"fmt"

	"github.com/flavioribeiro/grainsmith/av1"
)

// Fixture stream geometry. Small enough that parsers exercise the real
// syntax without the tests hauling real footage around.
const (
	Width  = 320
	Height = 180
)

// GrainParams returns a full grain model that round-trips through the
// bitstream codec. Models with different seeds share the same synthesis
// model; use distinct scaling points for distinct models.
func GrainParams(seed uint16) av1.FilmGrainParams {
	return av1.FilmGrainParams{
		ApplyGrain:  true,
		GrainSeed:   seed,
		UpdateGrain: true,
		YPoints: []av1.ScalingPoint{
			{Value: 0, Scaling: 20}, {Value: 13, Scaling: 24}, {Value: 255, Scaling: 36},
		},
		CbPoints: []av1.ScalingPoint{
			{Value: 0, Scaling: 10}, {Value: 255, Scaling: 12},
		},
		CrPoints: []av1.ScalingPoint{
			{Value: 0, Scaling: 8}, {Value: 255, Scaling: 11},
		},
		ScalingShift: 8,
		ARCoeffLag:   2,
		ARCoeffsY:    []int8{4, -7, 2, 0, 1, -3, 8, 0, -1, 2, 5, -6},
		ARCoeffsCb:   []int8{1, 0, -2, 3, 0, 0, 1, -1, 0, 2, 0, 1, 64},
		ARCoeffsCr:   []int8{0, 1, -1, 2, 0, 1, 0, -2, 1, 0, 3, 0, 60},
		ARCoeffShift: 6,
		CbMult:       128, CbLumaMult: 192, CbOffset: 256,
		CrMult: 128, CrLumaMult: 192, CrOffset: 256,
		OverlapFlag: true,
	}
}

// AltGrainParams returns a second model that GrainParams never matches
// under SameModel.
func AltGrainParams(seed uint16) av1.FilmGrainParams {
	return av1.FilmGrainParams{
		ApplyGrain:  true,
		GrainSeed:   seed,
		UpdateGrain: true,
		YPoints: []av1.ScalingPoint{
			{Value: 0, Scaling: 20}, {Value: 80, Scaling: 46}, {Value: 255, Scaling: 38},
		},
		CbPoints:     []av1.ScalingPoint{{Value: 0, Scaling: 12}},
		CrPoints:     []av1.ScalingPoint{{Value: 0, Scaling: 14}},
		ScalingShift: 9,
		ARCoeffLag:   1,
		ARCoeffsY:    []int8{4, -9, 70, 3},
		ARCoeffsCb:   []int8{1, 2, 3, 4, 66},
		ARCoeffsCr:   []int8{-1, -2, -3, -4, 64},
		ARCoeffShift: 7,
		CbMult:       110, CbLumaMult: 180, CbOffset: 256,
		CrMult: 140, CrLumaMult: 200, CrOffset: 260,
		OverlapFlag: true,
	}
}

// TemporalDelimiter returns a temporal delimiter OBU.
func TemporalDelimiter() []byte {
	return av1.WriteOBU(av1.OBUTemporalDelimiter, false, 0, 0, nil)
}

// SequenceOBU returns a sequence header OBU for the fixture geometry, with
// film_grain_params_present as given.
func SequenceOBU(filmGrain bool) []byte {
	w := av1.NewBitWriter()
	w.WriteBits(0, 3)  // seq_profile
	w.WriteFlag(false) // still_picture
	w.WriteFlag(false) // reduced_still_picture_header
	w.WriteFlag(false) // timing_info_present_flag
	w.WriteFlag(false) // initial_display_delay_present_flag
	w.WriteBits(0, 5)  // operating_points_cnt_minus_1
	w.WriteBits(0, 12) // operating_point_idc[0]
	w.WriteBits(0, 5)  // seq_level_idx[0]
	w.WriteBits(8, 4)  // frame_width_bits_minus_1
	w.WriteBits(7, 4)  // frame_height_bits_minus_1
	w.WriteBits(Width-1, 9)
	w.WriteBits(Height-1, 8)
	w.WriteFlag(false) // frame_id_numbers_present_flag
	w.WriteFlag(false) // use_128x128_superblock
	w.WriteFlag(false) // enable_filter_intra
	w.WriteFlag(false) // enable_intra_edge_filter
	w.WriteFlag(false) // enable_interintra_compound
	w.WriteFlag(false) // enable_masked_compound
	w.WriteFlag(false) // enable_warped_motion
	w.WriteFlag(false) // enable_dual_filter
	w.WriteFlag(false) // enable_order_hint
	w.WriteFlag(false) // seq_choose_screen_content_tools
	w.WriteFlag(false) // seq_force_screen_content_tools
	w.WriteFlag(false) // enable_superres
	w.WriteFlag(false) // enable_cdef
	w.WriteFlag(false) // enable_restoration
	w.WriteFlag(false) // high_bitdepth
	w.WriteFlag(false) // mono_chrome
	w.WriteFlag(false) // color_description_present_flag
	w.WriteFlag(false) // color_range
	w.WriteBits(0, 2)  // chroma_sample_position
	w.WriteFlag(false) // separate_uv_delta_q
	w.WriteFlag(filmGrain)
	w.WriteTrailingBits()
	return av1.WriteOBU(av1.OBUSequenceHeader, false, 0, 0, w.Bytes())
}

func frameBits(key, filmGrain bool, grain av1.FilmGrainParams) *av1.BitWriter {
	w := av1.NewBitWriter()
	w.WriteFlag(false) // show_existing_frame
	if key {
		w.WriteBits(uint64(av1.FrameKey), 2)
	} else {
		w.WriteBits(uint64(av1.FrameInter), 2)
	}
	w.WriteFlag(true) // show_frame
	if !key {
		w.WriteFlag(false) // error_resilient_mode
	}
	w.WriteFlag(true)  // disable_cdf_update
	w.WriteFlag(false) // frame_size_override_flag
	if !key {
		w.WriteBits(uint64(av1.PrimaryRefNone), 3)
		w.WriteBits(0, 8) // refresh_frame_flags
		for i := 0; i < av1.RefsPerFrame; i++ {
			w.WriteBits(0, 3) // ref_frame_idx
		}
		w.WriteFlag(false) // render_and_frame_size_different
		w.WriteFlag(false) // allow_high_precision_mv
		w.WriteFlag(true)  // is_filter_switchable
		w.WriteFlag(false) // is_motion_mode_switchable
	} else {
		w.WriteFlag(false) // render_and_frame_size_different
	}
	w.WriteFlag(true)   // uniform_tile_spacing
	w.WriteFlag(false)  // keep minimum tile columns
	w.WriteFlag(false)  // keep minimum tile rows
	w.WriteBits(100, 8) // base_q_idx
	w.WriteFlag(false)  // DeltaQYDc
	w.WriteFlag(false)  // DeltaQUDc
	w.WriteFlag(false)  // DeltaQUAc
	w.WriteFlag(false)  // using_qmatrix
	w.WriteFlag(false)  // segmentation_enabled
	w.WriteFlag(false)  // delta_q_present
	w.WriteBits(0, 6)   // loop_filter_level[0]
	w.WriteBits(0, 6)   // loop_filter_level[1]
	w.WriteBits(0, 3)   // loop_filter_sharpness
	w.WriteFlag(false)  // loop_filter_delta_enabled
	w.WriteFlag(false)  // tx_mode_select
	if !key {
		w.WriteFlag(false) // reference_select
	}
	w.WriteFlag(false) // reduced_tx_set
	if !key {
		for i := 0; i < av1.RefsPerFrame; i++ {
			w.WriteFlag(false) // is_global
		}
	}
	if filmGrain {
		err := grain.Encode(w, av1.GrainSyntaxContext{
			SubsamplingX: 1,
			SubsamplingY: 1,
			InterFrame:   !key,
		})
		if err != nil {
			panic(fmt.Sprintf("teststreams: bad fixture grain: %s", err))
		}
	}
	return w
}

// KeyFrameUnit returns one temporal unit with the sequence header and a
// shown key frame. With filmGrain the frame carries grain.
func KeyFrameUnit(filmGrain bool, grain av1.FilmGrainParams) []byte {
	w := frameBits(true, filmGrain, grain)
	w.AlignByte()
	payload := append(w.Bytes(), 0x42) // opaque tile bytes
	out := TemporalDelimiter()
	out = append(out, SequenceOBU(filmGrain)...)
	out = append(out, av1.WriteOBU(av1.OBUFrame, false, 0, 0, payload)...)
	return out
}

// InterFrameUnit returns one temporal unit with a shown inter frame that
// refreshes no slots. With filmGrain the frame carries grain, which may be
// an inheriting model (ApplyGrain with UpdateGrain false and a RefIdx).
func InterFrameUnit(filmGrain bool, grain av1.FilmGrainParams) []byte {
	w := frameBits(false, filmGrain, grain)
	w.AlignByte()
	payload := append(w.Bytes(), 0x99) // opaque tile bytes
	out := TemporalDelimiter()
	out = append(out, av1.WriteOBU(av1.OBUFrame, false, 0, 0, payload)...)
	return out
}

// GrainOffUnit returns a shown inter frame explicitly coded with
// apply_grain off. Valid only against a film grain sequence header.
func GrainOffUnit() []byte {
	return InterFrameUnit(true, av1.FilmGrainParams{})
}

// IVF container constants.
const (
	ivfHeaderSize = 32
	ivfFrameSize  = 12
)

// IVF wraps temporal units into an IVF file. The time base is tbNum/tbDen
// seconds per tick and frames get consecutive timestamps starting at zero.
func IVF(units [][]byte, tbNum, tbDen uint32) []byte {
	out := make([]byte, ivfHeaderSize, ivfHeaderSize+len(units)*ivfFrameSize)
	copy(out[0:4], "DKIF")
	binary.LittleEndian.PutUint16(out[4:6], 0)
	binary.LittleEndian.PutUint16(out[6:8], ivfHeaderSize)
	copy(out[8:12], "AV01")
	binary.LittleEndian.PutUint16(out[12:14], Width)
	binary.LittleEndian.PutUint16(out[14:16], Height)
	binary.LittleEndian.PutUint32(out[16:20], tbDen)
	binary.LittleEndian.PutUint32(out[20:24], tbNum)
	binary.LittleEndian.PutUint32(out[24:28], uint32(len(units)))

	var fh [ivfFrameSize]byte
	for i, u := range units {
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(u)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		out = append(out, fh[:]...)
		out = append(out, u...)
	}
	return out
}

// GrainyIVF is the default end to end fixture: a 30 fps IVF stream whose
// first half carries one grain model and whose second half carries
// another, with an inheriting frame and a grain free frame in between.
func GrainyIVF() []byte {
	g1 := GrainParams(100)
	g2 := AltGrainParams(4000)
	inherit := av1.FilmGrainParams{ApplyGrain: true, GrainSeed: 900, RefIdx: 0}
	units := [][]byte{
		KeyFrameUnit(true, g1),
		InterFrameUnit(true, inherit),
		GrainOffUnit(),
		InterFrameUnit(true, g2),
		InterFrameUnit(true, g2),
	}
	return IVF(units, 1, 30)
}

// PlainIVF is a grain free fixture, film_grain_params_present off.
func PlainIVF(frames int) []byte {
	units := [][]byte{KeyFrameUnit(false, av1.FilmGrainParams{})}
	for i := 1; i < frames; i++ {
		units = append(units, InterFrameUnit(false, av1.FilmGrainParams{}))
	}
	return IVF(units, 1, 30)
}
