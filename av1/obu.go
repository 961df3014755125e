package av1

import "fmt"

// OBU is one open bitstream unit inside a temporal unit buffer. Payload and
// Raw are views into the caller's buffer, never copies.
type OBU struct {
	Type         OBUType
	HasExtension bool
	TemporalID   uint8
	SpatialID    uint8
	HasSizeField bool
	Payload      []byte
	Raw          []byte
}

// SplitOBUs walks one temporal unit and yields its OBUs without copying
// payload bytes. An OBU without a size field must be the last one in the
// buffer and takes everything that remains.
func SplitOBUs(buf []byte) ([]OBU, error) {
	var obus []OBU
	off := 0
	for off < len(buf) {
		start := off
		h := buf[off]
		off++
		if h&0x80 != 0 {
			return nil, fmt.Errorf("%w: forbidden bit set in obu header at byte %d", ErrMalformedStream, start)
		}
		o := OBU{
			Type:         OBUType(h >> 3 & 0x0f),
			HasExtension: h&0x04 != 0,
			HasSizeField: h&0x02 != 0,
		}
		if h&0x01 != 0 {
			return nil, fmt.Errorf("%w: obu reserved bit set at byte %d", ErrMalformedStream, start)
		}
		if o.HasExtension {
			if off >= len(buf) {
				return nil, fmt.Errorf("%w: truncated obu extension header at byte %d", ErrMalformedStream, start)
			}
			e := buf[off]
			off++
			o.TemporalID = e >> 5
			o.SpatialID = e >> 3 & 0x03
		}
		if o.HasSizeField {
			r := NewBitReader(buf[off:])
			size := r.ReadLeb128()
			if r.Err() != nil {
				return nil, fmt.Errorf("%w: truncated obu size at byte %d", ErrMalformedStream, start)
			}
			off += r.Position() / 8
			if size > uint64(len(buf)-off) {
				return nil, fmt.Errorf("%w: obu at byte %d declares %d payload bytes, %d remain", ErrMalformedStream, start, size, len(buf)-off)
			}
			o.Payload = buf[off : off+int(size)]
			off += int(size)
		} else {
			o.Payload = buf[off:]
			off = len(buf)
		}
		o.Raw = buf[start:off]
		obus = append(obus, o)
	}
	return obus, nil
}

// WriteOBU emits a full replacement OBU with a freshly computed size field.
// The size field length follows the payload, so the result can be longer or
// shorter than what it replaces; callers swap whole spans, never bytes in place.
func WriteOBU(typ OBUType, hasExtension bool, temporalID, spatialID uint8, payload []byte) []byte {
	headerLen := 1
	if hasExtension {
		headerLen++
	}
	out := make([]byte, 0, headerLen+Leb128Len(uint64(len(payload)))+len(payload))
	h := byte(typ)<<3 | 0x02
	if hasExtension {
		h |= 0x04
	}
	out = append(out, h)
	if hasExtension {
		out = append(out, temporalID<<5|spatialID<<3)
	}
	out = AppendLeb128(out, uint64(len(payload)))
	return append(out, payload...)
}
