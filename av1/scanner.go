package av1

import (
	"bytes"
	"fmt"
)

// GrainPolicy decides the grain a frame should carry after rewriting. It is
// called once per coded frame header in decode order and returns the desired
// synthesis parameters, or nil to leave the frame as coded. A policy that
// rewrites a stream should cover every frame that can be shown: leaving one
// frame untouched next to rewritten neighbours lets inherited parameters
// resolve against slots that no longer hold what the encoder stored there.
type GrainPolicy func(fh *FrameHeader) *FilmGrainParams

// TemporalUnit reports what one scanned temporal unit contained.
type TemporalUnit struct {
	// Patched holds the rebuilt unit, only when the scanner rewrites.
	Patched []byte
	// Displayed is the grain of the frame this unit presents, nil when
	// the unit shows nothing.
	Displayed *FilmGrainParams
	// CodedFrames counts frame headers decoded in the unit, hidden
	// frames included. show_existing_frame entries do not count.
	CodedFrames int
	// NewSequence is set when a changed sequence header was parsed.
	NewSequence bool
	// Keyframe is set when the unit codes or re-shows a key frame.
	Keyframe bool

	raw   []byte
	obus  []OBU
	repl  map[int][]byte
	plans map[int]PatchPlan
}

// StreamScanner walks an AV1 elementary stream one temporal unit at a time,
// tracking the sequence header and the reference frame state later frames
// depend on. With a policy it also rewrites film grain fields in place,
// re-deriving inherited parameters against the rewritten reference slots.
//
// Units must arrive in decode order. A scanner is not safe for concurrent
// use; run one scanner per stream.
type StreamScanner struct {
	seq    *SequenceHeader
	seqRaw []byte
	seqOBU []byte
	refs   RefState

	seenHeader  bool
	lastFH      *FrameHeader
	lastPayload []byte
	lastPlan    *PatchPlan

	forcePresence *bool
}

func NewStreamScanner() *StreamScanner {
	return &StreamScanner{}
}

// Sequence returns the active sequence header, nil before one was scanned.
func (s *StreamScanner) Sequence() *SequenceHeader {
	return s.seq
}

// SequenceOBU returns a copy of the active sequence header as a complete
// OBU, in the form the output stream carries it: with the presence bit
// rewritten when ForceGrainPresence is in effect. Nil before a sequence
// header was scanned.
func (s *StreamScanner) SequenceOBU() []byte {
	return s.seqOBU
}

// ForceGrainPresence makes every rewritten sequence header signal the given
// film_grain_params_present value. Required before writing grain into a
// stream that was coded without it.
func (s *StreamScanner) ForceGrainPresence(present bool) {
	s.forcePresence = &present
}

func (s *StreamScanner) grainSignalled() bool {
	if s.forcePresence != nil {
		return *s.forcePresence
	}
	return s.seq != nil && s.seq.FilmGrainParamsPresent
}

// ScanTemporalUnit processes the OBUs of one temporal unit. Without a
// policy it only observes; with one it returns the rewritten unit in
// Patched. The scanner keeps no reference to the input buffer.
func (s *StreamScanner) ScanTemporalUnit(data []byte, policy GrainPolicy) (*TemporalUnit, error) {
	tu, err := s.PlanTemporalUnit(data, policy)
	if err != nil {
		return nil, err
	}
	if policy != nil || s.forcePresence != nil {
		out, err := tu.render(true)
		if err != nil {
			return nil, err
		}
		tu.Patched = out
	}
	return tu, nil
}

// PlanTemporalUnit scans like ScanTemporalUnit but defers the frame
// rewrites: the returned unit records patch plans instead of patched bytes
// and Render executes them. Planning must stay sequential, one unit after
// another in decode order, but Render only touches the unit's own data, so
// the units of one pass may render on parallel workers. The unit keeps
// references into data until rendered.
func (s *StreamScanner) PlanTemporalUnit(data []byte, policy GrainPolicy) (*TemporalUnit, error) {
	obus, err := SplitOBUs(data)
	if err != nil {
		return nil, err
	}
	tu := &TemporalUnit{raw: data, obus: obus}
	s.seenHeader = false

	for i, obu := range obus {
		if err := s.planOBU(i, obu, policy, tu); err != nil {
			return nil, fmt.Errorf("obu #%d (%s): %w", i, obu.Type, err)
		}
	}
	return tu, nil
}

// Render materializes the unit: the original bytes with every planned
// rewrite applied. When nothing in the unit needed rewriting the input
// buffer is returned as is.
func (tu *TemporalUnit) Render() ([]byte, error) {
	return tu.render(false)
}

func (tu *TemporalUnit) render(force bool) ([]byte, error) {
	if len(tu.repl) == 0 && len(tu.plans) == 0 {
		if !force {
			return tu.raw, nil
		}
		out := make([]byte, len(tu.raw))
		copy(out, tu.raw)
		return out, nil
	}
	out := make([]byte, 0, len(tu.raw)+64)
	for i, obu := range tu.obus {
		if b, ok := tu.repl[i]; ok {
			out = append(out, b...)
			continue
		}
		if plan, ok := tu.plans[i]; ok {
			b, err := plan.Execute()
			if err != nil {
				return nil, fmt.Errorf("obu #%d (%s): %w", i, obu.Type, err)
			}
			out = append(out, b...)
			continue
		}
		out = append(out, obu.Raw...)
	}
	return out, nil
}

// Rewrites counts the OBUs rendering will rewrite.
func (tu *TemporalUnit) Rewrites() int {
	return len(tu.repl) + len(tu.plans)
}

func (tu *TemporalUnit) replace(i int, b []byte) {
	if tu.repl == nil {
		tu.repl = make(map[int][]byte)
	}
	tu.repl[i] = b
}

func (tu *TemporalUnit) plan(i int, p PatchPlan) {
	if tu.plans == nil {
		tu.plans = make(map[int]PatchPlan)
	}
	tu.plans[i] = p
}

func (s *StreamScanner) planOBU(i int, obu OBU, policy GrainPolicy, tu *TemporalUnit) error {
	switch obu.Type {
	case OBUTemporalDelimiter:
		s.seenHeader = false
		return nil
	case OBUSequenceHeader:
		return s.planSequenceHeader(i, obu, tu)
	case OBUFrameHeader, OBUFrame:
		if s.seq == nil {
			return fmt.Errorf("%w: frame before sequence header", ErrMalformedStream)
		}
		if !s.inScope(obu) {
			return nil
		}
		return s.planFrame(i, obu, policy, tu)
	case OBURedundantFrameHeader:
		if !s.inScope(obu) {
			return nil
		}
		return s.planRedundantHeader(i, obu, tu)
	case OBUTileGroup:
		if !s.inScope(obu) {
			return nil
		}
		return s.scanTileGroup(obu)
	default:
		// Metadata, padding, tile lists and unknown types pass through.
		return nil
	}
}

// inScope reports whether an OBU belongs to the first operating point.
// Layers outside it are carried over verbatim and never parsed, so their
// state cannot bleed into the selected layers.
func (s *StreamScanner) inScope(obu OBU) bool {
	if !obu.HasExtension || s.seq == nil {
		return true
	}
	return s.seq.LayerInOperatingPoint(obu.TemporalID, obu.SpatialID)
}

func (s *StreamScanner) planSequenceHeader(i int, obu OBU, tu *TemporalUnit) error {
	if s.seqRaw == nil || !bytes.Equal(obu.Payload, s.seqRaw) {
		seq, err := ParseSequenceHeader(obu.Payload)
		if err != nil {
			return err
		}
		if s.seqRaw != nil {
			// A changed sequence header opens a new coded video
			// sequence; nothing before it may be referenced.
			s.refs = RefState{}
		}
		s.seq = seq
		s.seqRaw = append([]byte(nil), obu.Payload...)
		tu.NewSequence = true
	}
	if s.forcePresence != nil && *s.forcePresence != s.seq.FilmGrainParamsPresent {
		patched, err := PatchSequenceHeaderPresence(obu, s.seq, *s.forcePresence)
		if err != nil {
			return err
		}
		tu.replace(i, patched)
		s.seqOBU = patched
		return nil
	}
	s.seqOBU = append([]byte(nil), obu.Raw...)
	return nil
}

func (s *StreamScanner) planFrame(i int, obu OBU, policy GrainPolicy, tu *TemporalUnit) error {
	if s.seenHeader {
		if obu.Type == OBUFrame {
			return fmt.Errorf("%w: frame obu while a frame is still open", ErrMalformedStream)
		}
		// A repeated frame header must match the one in effect bit for
		// bit. Retargeting the frame's plan keeps both copies identical
		// without running the parser against advanced reference state.
		return s.planRepeatedHeader(i, obu, tu)
	}

	fh, err := ParseFrameHeader(obu.Payload, s.seq, &s.refs, obu.TemporalID, obu.SpatialID)
	if err != nil {
		return err
	}

	if fh.ShowExistingFrame {
		if fh.FrameType == FrameKey {
			s.refs.RefreshAllFromSlot(fh.FrameToShowMapIdx)
			tu.Keyframe = true
		}
		g := s.refs.Grain[fh.FrameToShowMapIdx].Clone()
		tu.Displayed = &g
		return nil
	}
	tu.CodedFrames++
	if fh.FrameType == FrameKey && fh.ShowFrame {
		tu.Keyframe = true
	}
	s.lastFH = fh
	s.lastPayload = append(s.lastPayload[:0], obu.Payload...)
	s.lastPlan = nil

	var target *FilmGrainParams
	if policy != nil {
		target = policy(fh)
	}
	if target != nil && !fh.ShowFrame && !fh.ShowableFrame {
		// The syntax has no grain field on frames that can never be
		// shown; nothing to rewrite.
		target = nil
	}

	effective := fh.ResolvedGrain
	if target != nil {
		if !s.grainSignalled() {
			return fmt.Errorf("%w: film_grain_params_present is off, force presence before writing grain",
				ErrInvalidGrainParams)
		}
		coded := s.codedForm(fh, *target)
		plan := NewPatchPlan(obu, s.seq, fh, coded)
		tu.plan(i, plan)
		s.lastPlan = &plan
		effective = normalizeResolved(*target)
	}

	s.refs.Refresh(fh, effective)
	if obu.Type == OBUFrameHeader {
		s.seenHeader = true
	}
	if fh.ShowFrame {
		g := effective.Clone()
		tu.Displayed = &g
	}
	return nil
}

// codedForm picks the cheapest syntax for target: when an inter frame
// references a slot whose stored grain already matches the model, the frame
// inherits it and carries only the seed.
func (s *StreamScanner) codedForm(fh *FrameHeader, target FilmGrainParams) FilmGrainParams {
	if !target.ApplyGrain {
		return FilmGrainParams{}
	}
	if fh.FrameType == FrameInter {
		for _, slot := range fh.RefFrameIdx {
			if s.refs.Valid[slot] && s.refs.Grain[slot].SameModel(target) {
				return FilmGrainParams{
					ApplyGrain: true,
					GrainSeed:  target.GrainSeed,
					RefIdx:     slot,
				}
			}
		}
	}
	return normalizeResolved(target)
}

// normalizeResolved strips coding form leftovers from a target so reference
// slots always store the full model.
func normalizeResolved(target FilmGrainParams) FilmGrainParams {
	out := target.Clone()
	if out.ApplyGrain {
		out.UpdateGrain = true
		out.RefIdx = 0
	}
	return out
}

func (s *StreamScanner) planRepeatedHeader(i int, obu OBU, tu *TemporalUnit) error {
	if s.lastFH == nil || !bytes.Equal(obu.Payload, s.lastPayload) {
		return fmt.Errorf("%w: repeated frame header differs from the frame header in effect", ErrMalformedStream)
	}
	if s.lastPlan == nil {
		return nil
	}
	tu.plan(i, s.lastPlan.WithOBU(obu))
	return nil
}

func (s *StreamScanner) planRedundantHeader(i int, obu OBU, tu *TemporalUnit) error {
	if s.lastFH == nil || !bytes.Equal(obu.Payload, s.lastPayload) {
		return fmt.Errorf("%w: redundant frame header does not match the frame it duplicates", ErrMalformedStream)
	}
	if s.lastPlan == nil {
		return nil
	}
	tu.plan(i, s.lastPlan.WithOBU(obu))
	return nil
}

func (s *StreamScanner) scanTileGroup(obu OBU) error {
	if !s.seenHeader || s.lastFH == nil {
		return fmt.Errorf("%w: tile group without a frame header", ErrMalformedStream)
	}
	tgEnd, err := ParseTileGroupHeader(obu.Payload, s.lastFH)
	if err != nil {
		return err
	}
	if tgEnd == s.lastFH.NumTiles()-1 {
		s.seenHeader = false
	}
	return nil
}
