package av1

import (
	"fmt"
)

// PatchPlan captures everything needed to rewrite the film grain field of a
// single frame carrying OBU. Plans reference only their own OBU bytes, so
// independent plans can be executed concurrently.
type PatchPlan struct {
	OBU        OBU
	Ctx        GrainSyntaxContext
	GrainStart int
	GrainEnd   int
	Params     FilmGrainParams
}

// NewPatchPlan builds a plan that replaces the grain field of the frame
// header parsed from obu with params. For streams coded without film grain
// the recorded span is empty and the plan splices the new field in at the
// position the syntax reserves for it.
func NewPatchPlan(obu OBU, seq *SequenceHeader, fh *FrameHeader, params FilmGrainParams) PatchPlan {
	return PatchPlan{
		OBU: obu,
		Ctx: GrainSyntaxContext{
			Monochrome:   seq.Color.Monochrome,
			SubsamplingX: seq.Color.SubsamplingX,
			SubsamplingY: seq.Color.SubsamplingY,
			InterFrame:   fh.FrameType == FrameInter,
		},
		GrainStart: fh.GrainBitStart,
		GrainEnd:   fh.GrainBitEnd,
		Params:     params,
	}
}

// Execute rewrites the OBU with the plan's grain parameters and returns the
// complete replacement OBU, header and size field included. The bits before
// the grain span are copied verbatim. Frame OBUs keep their tile group data
// byte for byte; header OBUs get fresh trailing bits.
func (p PatchPlan) Execute() ([]byte, error) {
	src := p.OBU.Payload
	if p.GrainStart > p.GrainEnd || p.GrainEnd > len(src)*8 {
		return nil, fmt.Errorf("%w: grain span %d..%d outside payload of %d bytes",
			ErrOutOfBounds, p.GrainStart, p.GrainEnd, len(src))
	}

	w := NewBitWriter()
	w.AppendSpan(src, 0, p.GrainStart)
	if err := p.Params.Encode(w, p.Ctx); err != nil {
		return nil, err
	}

	var payload []byte
	switch p.OBU.Type {
	case OBUFrame:
		// The grain field ends the uncompressed header; after byte
		// alignment the rest of the payload is tile group data.
		w.AlignByte()
		tileStart := (p.GrainEnd + 7) / 8
		payload = append(w.Bytes(), src[tileStart:]...)
	case OBUFrameHeader, OBURedundantFrameHeader:
		w.WriteTrailingBits()
		payload = w.Bytes()
	default:
		return nil, fmt.Errorf("%w: cannot patch grain into %s", ErrMalformedStream, p.OBU.Type)
	}
	return WriteOBU(p.OBU.Type, p.OBU.HasExtension, p.OBU.TemporalID, p.OBU.SpatialID, payload), nil
}

// WithOBU returns a copy of the plan retargeted at another OBU carrying the
// same header bits, as redundant frame headers do.
func (p PatchPlan) WithOBU(obu OBU) PatchPlan {
	p.OBU = obu
	return p
}

// PatchSequenceHeaderPresence returns a rewritten sequence header OBU with
// film_grain_params_present set to present. The parsed header is not
// modified; later frame headers still parse against the stream as coded.
func PatchSequenceHeaderPresence(obu OBU, seq *SequenceHeader, present bool) ([]byte, error) {
	payload := make([]byte, len(obu.Payload))
	copy(payload, obu.Payload)
	cp := *seq
	if err := cp.SetFilmGrainPresent(payload, present); err != nil {
		return nil, err
	}
	return WriteOBU(obu.Type, obu.HasExtension, obu.TemporalID, obu.SpatialID, payload), nil
}
