package av1

// RefState mirrors the eight reference frame slots a decoder maintains,
// reduced to the fields header parsing and grain resolution depend on.
// Frame header parsing reads it and may invalidate slots; Refresh applies
// the reference update that follows a fully handled frame.
type RefState struct {
	Valid          [NumRefFrames]bool
	FrameID        [NumRefFrames]uint32
	FrameType      [NumRefFrames]FrameType
	OrderHint      [NumRefFrames]uint8
	ShowableFrame  [NumRefFrames]bool
	UpscaledWidth  [NumRefFrames]uint32
	FrameWidth     [NumRefFrames]uint32
	FrameHeight    [NumRefFrames]uint32
	RenderWidth    [NumRefFrames]uint32
	RenderHeight   [NumRefFrames]uint32
	FeatureEnabled [NumRefFrames][maxSegments][segLvlMax]bool
	FeatureData    [NumRefFrames][maxSegments][segLvlMax]int16
	Grain          [NumRefFrames]FilmGrainParams
}

// Refresh stores a handled frame into every slot its refresh_frame_flags
// names. The grain argument is the frame's effective parameters, which may
// differ from the coded ones when the stream is being rewritten; inheritance
// in later frames then resolves against what the output stream will hold.
func (rs *RefState) Refresh(fh *FrameHeader, grain FilmGrainParams) {
	for i := 0; i < NumRefFrames; i++ {
		if fh.RefreshFrameFlags>>uint(i)&1 == 0 {
			continue
		}
		rs.Valid[i] = true
		rs.FrameID[i] = fh.FrameID
		rs.FrameType[i] = fh.FrameType
		rs.OrderHint[i] = fh.OrderHint
		rs.ShowableFrame[i] = fh.ShowableFrame
		rs.UpscaledWidth[i] = fh.UpscaledWidth
		rs.FrameWidth[i] = fh.FrameWidth
		rs.FrameHeight[i] = fh.FrameHeight
		rs.RenderWidth[i] = fh.RenderWidth
		rs.RenderHeight[i] = fh.RenderHeight
		rs.FeatureEnabled[i] = fh.SegFeatureEnabled
		rs.FeatureData[i] = fh.SegFeatureData
		rs.Grain[i] = grain
	}
}

// RefreshAllFromSlot copies one slot into every slot, the reference update a
// show_existing_frame of a key frame performs.
func (rs *RefState) RefreshAllFromSlot(src uint8) {
	for i := 0; i < NumRefFrames; i++ {
		if i == int(src) {
			continue
		}
		rs.Valid[i] = rs.Valid[src]
		rs.FrameID[i] = rs.FrameID[src]
		rs.FrameType[i] = rs.FrameType[src]
		rs.OrderHint[i] = rs.OrderHint[src]
		rs.ShowableFrame[i] = rs.ShowableFrame[src]
		rs.UpscaledWidth[i] = rs.UpscaledWidth[src]
		rs.FrameWidth[i] = rs.FrameWidth[src]
		rs.FrameHeight[i] = rs.FrameHeight[src]
		rs.RenderWidth[i] = rs.RenderWidth[src]
		rs.RenderHeight[i] = rs.RenderHeight[src]
		rs.FeatureEnabled[i] = rs.FeatureEnabled[src]
		rs.FeatureData[i] = rs.FeatureData[src]
		rs.Grain[i] = rs.Grain[src]
	}
}

// invalidateForShownKey is the slot reset performed when a shown key frame
// header begins. The key frame then refreshes every slot itself.
func (rs *RefState) invalidateForShownKey() {
	for i := 0; i < NumRefFrames; i++ {
		rs.Valid[i] = false
		rs.OrderHint[i] = 0
	}
}

// relativeDist compares two order hints, positive when a is after b. Order
// hints live on a circle, so the sign comes from the shorter way around.
func (s *SequenceHeader) relativeDist(a, b uint8) int {
	if !s.EnableOrderHint {
		return 0
	}
	diff := int(a) - int(b)
	m := 1 << uint(s.OrderHintBits-1)
	return (diff & (m - 1)) - (diff & m)
}

// Slot positions of LAST2, LAST3, BWDREF, ALTREF2 and ALTREF within
// ref_frame_idx, the order the forward fill walks them in.
var refFrameFillOrder = [5]int{1, 2, 4, 5, 6}

const (
	goldenSlot  = 3
	bwdSlot     = 4
	altref2Slot = 5
	altrefSlot  = 6
)

// setFrameRefs derives all seven reference indices from the signaled last
// and golden indices plus the stored order hints.
func setFrameRefs(seq *SequenceHeader, refs *RefState, lastIdx, goldIdx, orderHint uint8) [RefsPerFrame]uint8 {
	var refIdx [RefsPerFrame]int
	for i := range refIdx {
		refIdx[i] = -1
	}
	refIdx[0] = int(lastIdx)
	refIdx[goldenSlot] = int(goldIdx)

	var used [NumRefFrames]bool
	used[lastIdx] = true
	used[goldIdx] = true

	curFrameHint := 1 << uint(seq.OrderHintBits-1)
	var shifted [NumRefFrames]int
	for i := 0; i < NumRefFrames; i++ {
		shifted[i] = curFrameHint + seq.relativeDist(refs.OrderHint[i], orderHint)
	}

	latestBackward := func() int {
		ref, latest := -1, -1
		for i := 0; i < NumRefFrames; i++ {
			if !used[i] && shifted[i] >= curFrameHint && (ref < 0 || shifted[i] > latest) {
				ref, latest = i, shifted[i]
			}
		}
		return ref
	}
	earliestBackward := func() int {
		ref, earliest := -1, -1
		for i := 0; i < NumRefFrames; i++ {
			if !used[i] && shifted[i] >= curFrameHint && (ref < 0 || shifted[i] < earliest) {
				ref, earliest = i, shifted[i]
			}
		}
		return ref
	}
	latestForward := func() int {
		ref, latest := -1, -1
		for i := 0; i < NumRefFrames; i++ {
			if !used[i] && shifted[i] < curFrameHint && (ref < 0 || shifted[i] > latest) {
				ref, latest = i, shifted[i]
			}
		}
		return ref
	}

	if ref := latestBackward(); ref >= 0 {
		refIdx[altrefSlot] = ref
		used[ref] = true
	}
	if ref := earliestBackward(); ref >= 0 {
		refIdx[bwdSlot] = ref
		used[ref] = true
	}
	if ref := earliestBackward(); ref >= 0 {
		refIdx[altref2Slot] = ref
		used[ref] = true
	}
	for _, slot := range refFrameFillOrder {
		if refIdx[slot] < 0 {
			if ref := latestForward(); ref >= 0 {
				refIdx[slot] = ref
				used[ref] = true
			}
		}
	}

	// Anything still unset falls back to the overall earliest frame.
	earliest := 0
	for i := 1; i < NumRefFrames; i++ {
		if shifted[i] < shifted[earliest] {
			earliest = i
		}
	}
	for i := range refIdx {
		if refIdx[i] < 0 {
			refIdx[i] = earliest
		}
	}
	refIdx[0] = int(lastIdx)
	refIdx[goldenSlot] = int(goldIdx)

	var out [RefsPerFrame]uint8
	for i, v := range refIdx {
		out[i] = uint8(v)
	}
	return out
}
