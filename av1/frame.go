package av1

import "fmt"

// FrameHeader is the decoded uncompressed_header of one frame. It keeps the
// fields later syntax and the reference update depend on, plus the exact bit
// span of film_grain_params inside the OBU payload. For frames that cannot
// carry grain the span is empty and marks where grain bits would go.
type FrameHeader struct {
	TemporalID uint8
	SpatialID  uint8

	ShowExistingFrame bool
	FrameToShowMapIdx uint8

	FrameType         FrameType
	ShowFrame         bool
	ShowableFrame     bool
	ErrorResilient    bool
	FrameID           uint32
	OrderHint         uint8
	PrimaryRefFrame   uint8
	RefreshFrameFlags uint8
	RefFrameIdx       [RefsPerFrame]uint8

	AllowHighPrecisionMV bool
	AllowIntraBC         bool

	UpscaledWidth uint32
	FrameWidth    uint32
	FrameHeight   uint32
	RenderWidth   uint32
	RenderHeight  uint32
	MiCols        uint32
	MiRows        uint32

	TileCols     uint32
	TileRows     uint32
	TileColsLog2 uint32
	TileRowsLog2 uint32

	BaseQIdx      uint8
	CodedLossless bool
	AllLossless   bool

	SegEnabled        bool
	SegFeatureEnabled [maxSegments][segLvlMax]bool
	SegFeatureData    [maxSegments][segLvlMax]int16

	CanCarryGrain bool
	GrainBitStart int
	GrainBitEnd   int
	Grain         FilmGrainParams
	ResolvedGrain FilmGrainParams
}

func (fh *FrameHeader) NumTiles() int {
	return int(fh.TileCols) * int(fh.TileRows)
}

type frameParser struct {
	r    *BitReader
	seq  *SequenceHeader
	refs *RefState
	fh   *FrameHeader

	frameIsIntra      bool
	frameSizeOverride bool
	forceIntegerMV    bool
	referenceSelect   bool

	deltaQYDc            int32
	deltaQUDc, deltaQUAc int32
	deltaQVDc, deltaQVAc int32
	deltaQPresent        bool
}

// ParseFrameHeader decodes the uncompressed_header at the start of a frame
// or frame header OBU payload. refs is the live slot state: parsing may
// invalidate slots the way a decoder would, and the caller applies
// refs.Refresh once it has settled the frame's effective grain.
func ParseFrameHeader(payload []byte, seq *SequenceHeader, refs *RefState, temporalID, spatialID uint8) (*FrameHeader, error) {
	p := &frameParser{
		r:    NewBitReader(payload),
		seq:  seq,
		refs: refs,
		fh:   &FrameHeader{TemporalID: temporalID, SpatialID: spatialID},
	}
	if err := p.uncompressedHeader(); err != nil {
		return nil, err
	}
	if err := p.r.Err(); err != nil {
		return nil, fmt.Errorf("frame header: %w", err)
	}
	return p.fh, nil
}

func (p *frameParser) uncompressedHeader() error {
	r, seq, fh := p.r, p.seq, p.fh
	idLen := seq.FrameIDLength()

	if seq.ReducedStillPicture {
		fh.FrameType = FrameKey
		fh.ShowFrame = true
		p.frameIsIntra = true
	} else {
		fh.ShowExistingFrame = r.ReadFlag()
		if fh.ShowExistingFrame {
			return p.showExistingFrame(idLen)
		}
		fh.FrameType = FrameType(r.ReadBits(2))
		p.frameIsIntra = fh.FrameType.IsIntra()
		fh.ShowFrame = r.ReadFlag()
		if fh.ShowFrame && seq.DecoderModelInfoPresent && !seq.EqualPictureInterval {
			r.ReadBits(int(seq.FramePresentationTimeLength)) // frame_presentation_time
		}
		if fh.ShowFrame {
			fh.ShowableFrame = fh.FrameType != FrameKey
		} else {
			fh.ShowableFrame = r.ReadFlag()
		}
		if fh.FrameType == FrameSwitch || (fh.FrameType == FrameKey && fh.ShowFrame) {
			fh.ErrorResilient = true
		} else {
			fh.ErrorResilient = r.ReadFlag()
		}
	}

	if fh.FrameType == FrameKey && fh.ShowFrame {
		p.refs.invalidateForShownKey()
	}

	disableCDFUpdate := r.ReadFlag()

	allowScreenContentTools := seq.SeqForceScreenContentTools == 1
	if seq.SeqForceScreenContentTools == selectScreenContentTools {
		allowScreenContentTools = r.ReadFlag()
	}
	if allowScreenContentTools {
		if seq.SeqForceIntegerMV == selectIntegerMV {
			p.forceIntegerMV = r.ReadFlag()
		} else {
			p.forceIntegerMV = seq.SeqForceIntegerMV == 1
		}
	}
	if p.frameIsIntra {
		p.forceIntegerMV = true
	}

	if seq.FrameIDNumbersPresent {
		fh.FrameID = uint32(r.ReadBits(idLen))
		p.markRefFrames(idLen)
	}

	if fh.FrameType == FrameSwitch {
		p.frameSizeOverride = true
	} else if !seq.ReducedStillPicture {
		p.frameSizeOverride = r.ReadFlag()
	}

	fh.OrderHint = uint8(r.ReadBits(int(seq.OrderHintBits)))

	if p.frameIsIntra || fh.ErrorResilient {
		fh.PrimaryRefFrame = PrimaryRefNone
	} else {
		fh.PrimaryRefFrame = uint8(r.ReadBits(3))
	}

	if seq.DecoderModelInfoPresent && r.ReadFlag() { // buffer_removal_time_present_flag
		for _, op := range seq.OperatingPoints {
			if !op.DecoderModelPresent {
				continue
			}
			inTemporal := op.Idc>>fh.TemporalID&1 != 0
			inSpatial := op.Idc>>(fh.SpatialID+8)&1 != 0
			if op.Idc == 0 || (inTemporal && inSpatial) {
				r.ReadBits(int(seq.BufferRemovalTimeLength)) // buffer_removal_time
			}
		}
	}

	if fh.FrameType == FrameSwitch || (fh.FrameType == FrameKey && fh.ShowFrame) {
		fh.RefreshFrameFlags = 0xff
	} else {
		fh.RefreshFrameFlags = uint8(r.ReadBits(8))
	}

	if (!p.frameIsIntra || fh.RefreshFrameFlags != 0xff) && fh.ErrorResilient && seq.EnableOrderHint {
		for i := 0; i < NumRefFrames; i++ {
			hint := uint8(r.ReadBits(int(seq.OrderHintBits))) // ref_order_hint
			if hint != p.refs.OrderHint[i] {
				p.refs.Valid[i] = false
			}
		}
	}

	if p.frameIsIntra {
		p.frameSize()
		p.renderSize()
		if allowScreenContentTools && fh.UpscaledWidth == fh.FrameWidth {
			fh.AllowIntraBC = r.ReadFlag()
		}
	} else {
		frameRefsShortSignaling := false
		if seq.EnableOrderHint {
			frameRefsShortSignaling = r.ReadFlag()
			if frameRefsShortSignaling {
				lastIdx := uint8(r.ReadBits(3))
				goldIdx := uint8(r.ReadBits(3))
				fh.RefFrameIdx = setFrameRefs(seq, p.refs, lastIdx, goldIdx, fh.OrderHint)
			}
		}
		for i := 0; i < RefsPerFrame; i++ {
			if !frameRefsShortSignaling {
				fh.RefFrameIdx[i] = uint8(r.ReadBits(3))
			}
			if seq.FrameIDNumbersPresent {
				r.ReadBits(int(seq.DeltaFrameIDLength)) // delta_frame_id_minus_1
			}
		}
		if p.frameSizeOverride && !fh.ErrorResilient {
			p.frameSizeWithRefs()
		} else {
			p.frameSize()
			p.renderSize()
		}
		if !p.forceIntegerMV {
			fh.AllowHighPrecisionMV = r.ReadFlag()
		}
		if !r.ReadFlag() { // is_filter_switchable
			r.ReadBits(2) // interpolation_filter
		}
		r.ReadBit() // is_motion_mode_switchable
		if !fh.ErrorResilient && seq.EnableRefFrameMVs {
			r.ReadBit() // use_ref_frame_mvs
		}
	}

	if !seq.ReducedStillPicture && !disableCDFUpdate {
		r.ReadBit() // disable_frame_end_update_cdf
	}

	if fh.PrimaryRefFrame != PrimaryRefNone {
		slot := fh.RefFrameIdx[fh.PrimaryRefFrame]
		fh.SegFeatureEnabled = p.refs.FeatureEnabled[slot]
		fh.SegFeatureData = p.refs.FeatureData[slot]
	}

	parseTileInfo(r, seq, fh)
	p.quantizationParams()
	p.segmentationParams()
	p.deltaQParams()
	p.deltaLFParams()
	p.computeLossless()
	p.loopFilterParams()
	p.cdefParams()
	p.lrParams()
	if !fh.CodedLossless {
		r.ReadBit() // tx_mode_select
	}
	if !p.frameIsIntra {
		p.referenceSelect = r.ReadFlag()
	}
	p.skipModeParams()
	if !p.frameIsIntra && !fh.ErrorResilient && seq.EnableWarpedMotion {
		r.ReadBit() // allow_warped_motion
	}
	r.ReadBit() // reduced_tx_set
	p.globalMotionParams()

	fh.CanCarryGrain = seq.FilmGrainParamsPresent && (fh.ShowFrame || fh.ShowableFrame)
	fh.GrainBitStart = r.Position()
	if fh.CanCarryGrain {
		if err := p.filmGrainParams(); err != nil {
			return err
		}
	}
	fh.GrainBitEnd = r.Position()
	return nil
}

func (p *frameParser) showExistingFrame(idLen int) error {
	r, seq, fh := p.r, p.seq, p.fh
	fh.FrameToShowMapIdx = uint8(r.ReadBits(3))
	if seq.DecoderModelInfoPresent && !seq.EqualPictureInterval {
		r.ReadBits(int(seq.FramePresentationTimeLength)) // frame_presentation_time
	}
	if seq.FrameIDNumbersPresent {
		r.ReadBits(idLen) // display_frame_id
	}
	if r.Err() != nil {
		// the caller surfaces the cursor error
		return nil
	}
	if !p.refs.Valid[fh.FrameToShowMapIdx] {
		return fmt.Errorf("%w: show_existing_frame names slot %d", ErrMissingReference, fh.FrameToShowMapIdx)
	}
	fh.FrameType = p.refs.FrameType[fh.FrameToShowMapIdx]
	if fh.FrameType == FrameKey {
		fh.RefreshFrameFlags = 0xff
	}
	fh.GrainBitStart = r.Position()
	fh.GrainBitEnd = r.Position()
	return nil
}

func (p *frameParser) markRefFrames(idLen int) {
	diffLen := uint(p.seq.DeltaFrameIDLength)
	cur := int(p.fh.FrameID)
	for i := 0; i < NumRefFrames; i++ {
		id := int(p.refs.FrameID[i])
		if cur > 1<<diffLen {
			if id > cur || id < cur-(1<<diffLen) {
				p.refs.Valid[i] = false
			}
		} else {
			if id > cur && id < (1<<uint(idLen))+cur-(1<<diffLen) {
				p.refs.Valid[i] = false
			}
		}
	}
}

func (p *frameParser) frameSize() {
	r, seq, fh := p.r, p.seq, p.fh
	if p.frameSizeOverride {
		fh.FrameWidth = uint32(r.ReadBits(int(seq.FrameWidthBits))) + 1
		fh.FrameHeight = uint32(r.ReadBits(int(seq.FrameHeightBits))) + 1
	} else {
		fh.FrameWidth = seq.MaxFrameWidth
		fh.FrameHeight = seq.MaxFrameHeight
	}
	p.superresParams()
	p.computeImageSize()
}

func (p *frameParser) superresParams() {
	r, seq, fh := p.r, p.seq, p.fh
	denom := uint32(superresNum)
	if seq.EnableSuperres && r.ReadFlag() { // use_superres
		denom = uint32(r.ReadBits(superresDenomBits)) + superresDenomMin
	}
	fh.UpscaledWidth = fh.FrameWidth
	fh.FrameWidth = (fh.UpscaledWidth*superresNum + denom/2) / denom
}

func (p *frameParser) computeImageSize() {
	fh := p.fh
	fh.MiCols = 2 * ((fh.FrameWidth + 7) >> 3)
	fh.MiRows = 2 * ((fh.FrameHeight + 7) >> 3)
}

func (p *frameParser) renderSize() {
	r, fh := p.r, p.fh
	if r.ReadFlag() { // render_and_frame_size_different
		fh.RenderWidth = uint32(r.ReadBits(16)) + 1
		fh.RenderHeight = uint32(r.ReadBits(16)) + 1
	} else {
		fh.RenderWidth = fh.UpscaledWidth
		fh.RenderHeight = fh.FrameHeight
	}
}

func (p *frameParser) frameSizeWithRefs() {
	r, fh := p.r, p.fh
	for i := 0; i < RefsPerFrame; i++ {
		if r.ReadFlag() { // found_ref
			slot := fh.RefFrameIdx[i]
			fh.UpscaledWidth = p.refs.UpscaledWidth[slot]
			fh.FrameWidth = fh.UpscaledWidth
			fh.FrameHeight = p.refs.FrameHeight[slot]
			fh.RenderWidth = p.refs.RenderWidth[slot]
			fh.RenderHeight = p.refs.RenderHeight[slot]
			p.superresParams()
			p.computeImageSize()
			return
		}
	}
	p.frameSize()
	p.renderSize()
}

func (p *frameParser) readDeltaQ() int32 {
	if p.r.ReadFlag() { // delta_coded
		return int32(p.r.ReadSU(7))
	}
	return 0
}

func (p *frameParser) quantizationParams() {
	r, seq, fh := p.r, p.seq, p.fh
	fh.BaseQIdx = uint8(r.ReadBits(8))
	p.deltaQYDc = p.readDeltaQ()
	if seq.NumPlanes() > 1 {
		diffUVDelta := false
		if seq.Color.SeparateUVDeltaQ {
			diffUVDelta = r.ReadFlag()
		}
		p.deltaQUDc = p.readDeltaQ()
		p.deltaQUAc = p.readDeltaQ()
		if diffUVDelta {
			p.deltaQVDc = p.readDeltaQ()
			p.deltaQVAc = p.readDeltaQ()
		} else {
			p.deltaQVDc = p.deltaQUDc
			p.deltaQVAc = p.deltaQUAc
		}
	}
	if r.ReadFlag() { // using_qmatrix
		r.ReadBits(4) // qm_y
		r.ReadBits(4) // qm_u
		if seq.Color.SeparateUVDeltaQ {
			r.ReadBits(4) // qm_v
		}
	}
}

var segFeatureBits = [segLvlMax]int{8, 6, 6, 6, 6, 3, 0, 0}
var segFeatureSigned = [segLvlMax]bool{true, true, true, true, true, false, false, false}
var segFeatureMax = [segLvlMax]int16{255, 63, 63, 63, 63, 7, 0, 0}

func (p *frameParser) segmentationParams() {
	r, fh := p.r, p.fh
	fh.SegEnabled = r.ReadFlag()
	if !fh.SegEnabled {
		fh.SegFeatureEnabled = [maxSegments][segLvlMax]bool{}
		fh.SegFeatureData = [maxSegments][segLvlMax]int16{}
		return
	}
	updateData := true
	if fh.PrimaryRefFrame != PrimaryRefNone {
		if r.ReadFlag() { // segmentation_update_map
			r.ReadBit() // segmentation_temporal_update
		}
		updateData = r.ReadFlag()
	}
	if !updateData {
		// the feature set loaded from the primary reference stays in effect
		return
	}
	for i := 0; i < maxSegments; i++ {
		for j := 0; j < segLvlMax; j++ {
			enabled := r.ReadFlag()
			fh.SegFeatureEnabled[i][j] = enabled
			var clipped int16
			if enabled {
				if segFeatureSigned[j] {
					v := int16(r.ReadSU(1 + segFeatureBits[j]))
					clipped = clip3Int16(-segFeatureMax[j], segFeatureMax[j], v)
				} else {
					v := int16(r.ReadBits(segFeatureBits[j]))
					clipped = clip3Int16(0, segFeatureMax[j], v)
				}
			}
			fh.SegFeatureData[i][j] = clipped
		}
	}
}

func (p *frameParser) deltaQParams() {
	if p.fh.BaseQIdx > 0 {
		p.deltaQPresent = p.r.ReadFlag()
	}
	if p.deltaQPresent {
		p.r.ReadBits(2) // delta_q_res
	}
}

func (p *frameParser) deltaLFParams() {
	if !p.deltaQPresent {
		return
	}
	if !p.fh.AllowIntraBC && p.r.ReadFlag() { // delta_lf_present
		p.r.ReadBits(2) // delta_lf_res
		p.r.ReadBit()   // delta_lf_multi
	}
}

func (p *frameParser) computeLossless() {
	fh := p.fh
	fh.CodedLossless = true
	for seg := 0; seg < maxSegments; seg++ {
		qindex := int(fh.BaseQIdx)
		if fh.SegEnabled && fh.SegFeatureEnabled[seg][segLvlAltQ] {
			qindex = clip3(0, 255, qindex+int(fh.SegFeatureData[seg][segLvlAltQ]))
		}
		if qindex != 0 || p.deltaQYDc != 0 ||
			p.deltaQUAc != 0 || p.deltaQUDc != 0 ||
			p.deltaQVAc != 0 || p.deltaQVDc != 0 {
			fh.CodedLossless = false
		}
	}
	fh.AllLossless = fh.CodedLossless && fh.FrameWidth == fh.UpscaledWidth
}

func (p *frameParser) loopFilterParams() {
	r, seq, fh := p.r, p.seq, p.fh
	if fh.CodedLossless || fh.AllowIntraBC {
		return
	}
	level0 := r.ReadBits(6)
	level1 := r.ReadBits(6)
	if seq.NumPlanes() > 1 && (level0 != 0 || level1 != 0) {
		r.ReadBits(6) // loop_filter_level[2]
		r.ReadBits(6) // loop_filter_level[3]
	}
	r.ReadBits(3) // loop_filter_sharpness
	if r.ReadFlag() && r.ReadFlag() { // delta enabled, then delta update
		for i := 0; i < NumRefFrames; i++ {
			if r.ReadFlag() { // update_ref_delta
				r.ReadSU(7)
			}
		}
		for i := 0; i < 2; i++ {
			if r.ReadFlag() { // update_mode_delta
				r.ReadSU(7)
			}
		}
	}
}

func (p *frameParser) cdefParams() {
	r, seq, fh := p.r, p.seq, p.fh
	if fh.CodedLossless || fh.AllowIntraBC || !seq.EnableCDEF {
		return
	}
	r.ReadBits(2) // cdef_damping_minus_3
	n := 1 << r.ReadBits(2)
	for i := 0; i < n; i++ {
		r.ReadBits(4) // cdef_y_pri_strength
		r.ReadBits(2) // cdef_y_sec_strength
		if seq.NumPlanes() > 1 {
			r.ReadBits(4) // cdef_uv_pri_strength
			r.ReadBits(2) // cdef_uv_sec_strength
		}
	}
}

func (p *frameParser) lrParams() {
	r, seq, fh := p.r, p.seq, p.fh
	if fh.AllLossless || fh.AllowIntraBC || !seq.EnableRestoration {
		return
	}
	usesLr, usesChromaLr := false, false
	for i := 0; i < seq.NumPlanes(); i++ {
		if r.ReadBits(2) != 0 { // lr_type, zero is none
			usesLr = true
			if i > 0 {
				usesChromaLr = true
			}
		}
	}
	if !usesLr {
		return
	}
	if seq.Use128x128Superblock {
		r.ReadBit() // lr_unit_shift
	} else if r.ReadFlag() { // lr_unit_shift
		r.ReadBit() // lr_unit_extra_shift
	}
	if seq.Color.SubsamplingX == 1 && seq.Color.SubsamplingY == 1 && usesChromaLr {
		r.ReadBit() // lr_uv_shift
	}
}

func (p *frameParser) skipModeParams() {
	r, seq, fh := p.r, p.seq, p.fh
	skipModeAllowed := false
	if !p.frameIsIntra && p.referenceSelect && seq.EnableOrderHint {
		forwardIdx, backwardIdx := -1, -1
		var forwardHint, backwardHint uint8
		for i := 0; i < RefsPerFrame; i++ {
			refHint := p.refs.OrderHint[fh.RefFrameIdx[i]]
			if seq.relativeDist(refHint, fh.OrderHint) < 0 {
				if forwardIdx < 0 || seq.relativeDist(refHint, forwardHint) > 0 {
					forwardIdx, forwardHint = i, refHint
				}
			} else if seq.relativeDist(refHint, fh.OrderHint) > 0 {
				if backwardIdx < 0 || seq.relativeDist(refHint, backwardHint) < 0 {
					backwardIdx, backwardHint = i, refHint
				}
			}
		}
		if forwardIdx < 0 {
			skipModeAllowed = false
		} else if backwardIdx >= 0 {
			skipModeAllowed = true
		} else {
			secondForwardIdx := -1
			var secondForwardHint uint8
			for i := 0; i < RefsPerFrame; i++ {
				refHint := p.refs.OrderHint[fh.RefFrameIdx[i]]
				if seq.relativeDist(refHint, forwardHint) < 0 {
					if secondForwardIdx < 0 || seq.relativeDist(refHint, secondForwardHint) > 0 {
						secondForwardIdx, secondForwardHint = i, refHint
					}
				}
			}
			skipModeAllowed = secondForwardIdx >= 0
		}
	}
	if skipModeAllowed {
		r.ReadBit() // skip_mode_present
	}
}

const (
	gmIdentity    = 0
	gmTranslation = 1
	gmRotZoom     = 2
	gmAffine      = 3
)

func (p *frameParser) globalMotionParams() {
	if p.frameIsIntra {
		return
	}
	for ref := 0; ref < RefsPerFrame; ref++ {
		typ := gmIdentity
		if p.r.ReadFlag() { // is_global
			if p.r.ReadFlag() { // is_rot_zoom
				typ = gmRotZoom
			} else if p.r.ReadFlag() { // is_translation
				typ = gmTranslation
			} else {
				typ = gmAffine
			}
		}
		if typ >= gmRotZoom {
			p.readGlobalParam(typ, 2)
			p.readGlobalParam(typ, 3)
			if typ == gmAffine {
				p.readGlobalParam(typ, 4)
				p.readGlobalParam(typ, 5)
			}
		}
		if typ >= gmTranslation {
			p.readGlobalParam(typ, 0)
			p.readGlobalParam(typ, 1)
		}
	}
}

func (p *frameParser) readGlobalParam(typ, idx int) {
	absBits := gmAbsAlphaBits
	if idx < 2 {
		if typ == gmTranslation {
			absBits = gmAbsTransOnlyBits
			if !p.fh.AllowHighPrecisionMV {
				absBits--
			}
		} else {
			absBits = gmAbsTransBits
		}
	}
	p.decodeSubexp(2*(1<<uint(absBits)) + 1)
}

// decodeSubexp consumes a subexponential code without materializing the
// value. The bit count depends only on numSyms and the coded bits, never on
// the reference the value is reconstructed against, so tracking previous
// global motion parameters is unnecessary.
func (p *frameParser) decodeSubexp(numSyms int) {
	i, mk, k := 0, 0, 3
	for {
		b2 := k
		if i > 0 {
			b2 = k + i - 1
		}
		a := 1 << uint(b2)
		if numSyms <= mk+3*a {
			p.r.ReadNS(uint32(numSyms - mk))
			return
		}
		if p.r.ReadFlag() { // subexp_more_bits
			i++
			mk += a
		} else {
			p.r.ReadBits(b2) // subexp_bits
			return
		}
	}
}

func (p *frameParser) filmGrainParams() error {
	fh := p.fh
	g, err := DecodeFilmGrain(p.r, GrainSyntaxContext{
		Monochrome:   p.seq.Color.Monochrome,
		SubsamplingX: p.seq.Color.SubsamplingX,
		SubsamplingY: p.seq.Color.SubsamplingY,
		InterFrame:   fh.FrameType == FrameInter,
	})
	if err != nil {
		return err
	}
	fh.Grain = g
	fh.ResolvedGrain = g
	if g.ApplyGrain && !g.UpdateGrain {
		slot := g.RefIdx
		if !p.refs.Valid[slot] {
			return fmt.Errorf("%w: film grain inherits from slot %d", ErrMissingReference, slot)
		}
		resolved := p.refs.Grain[slot].Clone()
		resolved.GrainSeed = g.GrainSeed
		fh.ResolvedGrain = resolved
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clip3(low, high, v int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func clip3Int16(low, high, v int16) int16 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
