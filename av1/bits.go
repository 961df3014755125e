package av1

import (
	"fmt"
	"math/bits"
)

// BitReader walks a byte buffer most significant bit first, the order every
// AV1 syntax element uses. Errors are sticky: after the first out of bounds
// read every call returns zero, and Err reports what happened. Callers check
// Err at structure boundaries instead of after every field.
type BitReader struct {
	data []byte
	pos  int
	err  error
}

func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

func (r *BitReader) Err() error { return r.err }

// Position returns the current offset in bits from the start of the buffer.
func (r *BitReader) Position() int { return r.pos }

// SetPosition restores a previously snapshotted position and clears the
// error state, so callers can back out of a speculative parse.
func (r *BitReader) SetPosition(pos int) {
	r.pos = pos
	r.err = nil
}

func (r *BitReader) Remaining() int { return len(r.data)*8 - r.pos }

func (r *BitReader) ReadBit() uint8 {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.data)*8 {
		r.err = fmt.Errorf("%w: read past end at bit %d", ErrOutOfBounds, r.pos)
		return 0
	}
	b := r.data[r.pos>>3] >> (7 - uint(r.pos&7)) & 1
	r.pos++
	return b
}

func (r *BitReader) ReadFlag() bool {
	return r.ReadBit() == 1
}

// ReadBits reads an n bit unsigned value, n up to 64.
func (r *BitReader) ReadBits(n int) uint64 {
	if r.err != nil || n == 0 {
		return 0
	}
	if n < 0 || n > 64 {
		r.err = fmt.Errorf("%w: invalid bit count %d", ErrOutOfBounds, n)
		return 0
	}
	if r.pos+n > len(r.data)*8 {
		r.err = fmt.Errorf("%w: need %d bits at bit %d, have %d", ErrOutOfBounds, n, r.pos, r.Remaining())
		return 0
	}
	var v uint64
	for i := 0; i < n; i++ {
		p := r.pos + i
		v = v<<1 | uint64(r.data[p>>3]>>(7-uint(p&7))&1)
	}
	r.pos += n
	return v
}

// ReadUvlc reads the unary prefixed variable length code used by sequence
// header timing fields. A prefix of 32 or more zeros yields the maximum value.
func (r *BitReader) ReadUvlc() uint64 {
	leadingZeros := 0
	for {
		b := r.ReadBit()
		if r.err != nil {
			return 0
		}
		if b == 1 {
			break
		}
		leadingZeros++
	}
	if leadingZeros >= 32 {
		return (1 << 32) - 1
	}
	v := r.ReadBits(leadingZeros)
	return v + (1 << uint(leadingZeros)) - 1
}

// ReadLeb128 reads up to eight little endian base 128 groups.
func (r *BitReader) ReadLeb128() uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		b := r.ReadBits(8)
		if r.err != nil {
			return 0
		}
		v |= (b & 0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			break
		}
	}
	return v
}

// ReadSU reads an n bit signed value, the top bit carrying the sign
// (two's complement over n bits).
func (r *BitReader) ReadSU(n int) int64 {
	v := int64(r.ReadBits(n))
	signMask := int64(1) << uint(n-1)
	if v&signMask != 0 {
		v -= 2 * signMask
	}
	return v
}

// ReadNS reads a value in [0, n) using the nonsymmetric code tile sizing uses.
func (r *BitReader) ReadNS(n uint32) uint32 {
	if r.err != nil || n <= 1 {
		return 0
	}
	w := uint(bits.Len32(n)-1) + 1
	m := (uint32(1) << w) - n
	v := uint32(r.ReadBits(int(w - 1)))
	if v < m {
		return v
	}
	extra := uint32(r.ReadBit())
	return (v << 1) - m + extra
}

// BitWriter builds a bit sequence most significant bit first. It mirrors
// BitReader exactly: re-reading anything it wrote yields the same values.
type BitWriter struct {
	buf []byte
	n   int
}

func NewBitWriter() *BitWriter {
	return &BitWriter{}
}

// BitLen returns the number of bits written so far.
func (w *BitWriter) BitLen() int { return w.n }

// Bytes returns the written bits padded with zeros to a whole byte.
func (w *BitWriter) Bytes() []byte {
	return w.buf
}

func (w *BitWriter) WriteBit(b uint8) {
	if w.n&7 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b != 0 {
		w.buf[w.n>>3] |= 0x80 >> uint(w.n&7)
	}
	w.n++
}

func (w *BitWriter) WriteFlag(b bool) {
	if b {
		w.WriteBit(1)
	} else {
		w.WriteBit(0)
	}
}

func (w *BitWriter) WriteBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(uint8(v >> uint(i) & 1))
	}
}

func (w *BitWriter) WriteSU(v int64, n int) {
	w.WriteBits(uint64(v)&(1<<uint(n)-1), n)
}

func (w *BitWriter) WriteUvlc(v uint64) {
	leadingZeros := bits.Len64(v+1) - 1
	for i := 0; i < leadingZeros; i++ {
		w.WriteBit(0)
	}
	w.WriteBit(1)
	w.WriteBits(v-(1<<uint(leadingZeros)-1), leadingZeros)
}

// AppendSpan copies nBits bits from src starting at startBit.
func (w *BitWriter) AppendSpan(src []byte, startBit, nBits int) {
	for nBits > 0 {
		take := 32
		if nBits < take {
			take = nBits
		}
		var v uint64
		for i := 0; i < take; i++ {
			p := startBit + i
			v = v<<1 | uint64(src[p>>3]>>(7-uint(p&7))&1)
		}
		w.WriteBits(v, take)
		startBit += take
		nBits -= take
	}
}

// AlignByte zero pads to the next byte boundary, the byte_alignment rule.
func (w *BitWriter) AlignByte() {
	for w.n&7 != 0 {
		w.WriteBit(0)
	}
}

// WriteTrailingBits writes the stop bit then zero pads to a byte boundary.
func (w *BitWriter) WriteTrailingBits() {
	w.WriteBit(1)
	w.AlignByte()
}

// AppendLeb128 appends v to dst as little endian base 128 groups.
func AppendLeb128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// Leb128Len returns the encoded size of v in bytes.
func Leb128Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
