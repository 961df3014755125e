package av1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitReaderMSBFirst(t *testing.T) {
	r := NewBitReader([]byte{0b1011_0001, 0b0100_0000})

	assert.Equal(t, uint8(1), r.ReadBit())
	assert.Equal(t, uint8(0), r.ReadBit())
	assert.True(t, r.ReadFlag())
	assert.Equal(t, uint64(0b10001_010), r.ReadBits(8))
	assert.Equal(t, 11, r.Position())
	assert.Equal(t, 5, r.Remaining())
	assert.NoError(t, r.Err())
}

func TestBitReaderOutOfBoundsIsSticky(t *testing.T) {
	r := NewBitReader([]byte{0xff})
	assert.Equal(t, uint64(0xff), r.ReadBits(8))
	assert.NoError(t, r.Err())

	assert.Equal(t, uint64(0), r.ReadBits(4))
	assert.ErrorIs(t, r.Err(), ErrOutOfBounds)

	// Later reads stay zero and keep the first error.
	assert.Equal(t, uint8(0), r.ReadBit())
	assert.False(t, r.ReadFlag())
	assert.ErrorIs(t, r.Err(), ErrOutOfBounds)
}

func TestBitReaderSetPositionClearsError(t *testing.T) {
	r := NewBitReader([]byte{0xa5})
	mark := r.Position()
	r.ReadBits(16)
	assert.Error(t, r.Err())

	r.SetPosition(mark)
	assert.NoError(t, r.Err())
	assert.Equal(t, uint64(0xa5), r.ReadBits(8))
	assert.NoError(t, r.Err())
}

func TestUvlcRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 2, 3, 4, 30, 31, 32, 254, 1 << 16, 1<<30 - 7} {
		w := NewBitWriter()
		w.WriteUvlc(v)
		w.AlignByte()
		r := NewBitReader(w.Bytes())
		assert.Equal(t, v, r.ReadUvlc())
		assert.NoError(t, r.Err())
	}
}

func TestUvlcKnownCodes(t *testing.T) {
	// 0 -> "1", 1 -> "010", 2 -> "011", 3 -> "00100".
	r := NewBitReader([]byte{0b1_010_011_0, 0b0100_0000})
	assert.Equal(t, uint64(0), r.ReadUvlc())
	assert.Equal(t, uint64(1), r.ReadUvlc())
	assert.Equal(t, uint64(2), r.ReadUvlc())
	assert.Equal(t, uint64(3), r.ReadUvlc())
	assert.NoError(t, r.Err())
}

func TestUvlcLongPrefixSaturates(t *testing.T) {
	r := NewBitReader([]byte{0, 0, 0, 0, 0x80})
	assert.Equal(t, uint64(1<<32-1), r.ReadUvlc())
	assert.NoError(t, r.Err())
	assert.Equal(t, 33, r.Position())
}

func TestLeb128(t *testing.T) {
	for _, tt := range []struct {
		encoded []byte
		value   uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0x80, 0x00}, 0}, // non minimal encodings are legal
	} {
		r := NewBitReader(tt.encoded)
		assert.Equal(t, tt.value, r.ReadLeb128())
		assert.NoError(t, r.Err())
	}
}

func TestLeb128AppendRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1<<21 - 3, 1 << 40} {
		enc := AppendLeb128(nil, v)
		assert.Len(t, enc, Leb128Len(v))
		r := NewBitReader(enc)
		assert.Equal(t, v, r.ReadLeb128())
	}
}

func TestLeb128Truncated(t *testing.T) {
	r := NewBitReader([]byte{0x80})
	r.ReadLeb128()
	assert.ErrorIs(t, r.Err(), ErrOutOfBounds)
}

func TestSignedRoundTrip(t *testing.T) {
	for _, v := range []int64{-64, -3, -1, 0, 1, 5, 63} {
		w := NewBitWriter()
		w.WriteSU(v, 7)
		w.AlignByte()
		r := NewBitReader(w.Bytes())
		assert.Equal(t, v, r.ReadSU(7))
	}
}

func TestReadNS(t *testing.T) {
	// For n=5 the short codes are two bits, the long codes three.
	for _, tt := range []struct {
		bits  []byte
		value uint32
		used  int
	}{
		{[]byte{0b00_000000}, 0, 2},
		{[]byte{0b01_000000}, 1, 2},
		{[]byte{0b10_000000}, 2, 2},
		{[]byte{0b110_00000}, 3, 3},
		{[]byte{0b111_00000}, 4, 3},
	} {
		r := NewBitReader(tt.bits)
		assert.Equal(t, tt.value, r.ReadNS(5))
		assert.Equal(t, tt.used, r.Position())
		assert.NoError(t, r.Err())
	}

	// n <= 1 consumes nothing.
	r := NewBitReader([]byte{0xff})
	assert.Equal(t, uint32(0), r.ReadNS(1))
	assert.Equal(t, 0, r.Position())
}

func TestWriterMirrorsReader(t *testing.T) {
	w := NewBitWriter()
	w.WriteFlag(true)
	w.WriteBits(0x2b3, 10)
	w.WriteSU(-17, 6)
	w.WriteUvlc(9)
	w.WriteBits(0xdead, 16)
	w.AlignByte()

	r := NewBitReader(w.Bytes())
	assert.True(t, r.ReadFlag())
	assert.Equal(t, uint64(0x2b3), r.ReadBits(10))
	assert.Equal(t, int64(-17), r.ReadSU(6))
	assert.Equal(t, uint64(9), r.ReadUvlc())
	assert.Equal(t, uint64(0xdead), r.ReadBits(16))
	assert.NoError(t, r.Err())
}

func TestAppendSpan(t *testing.T) {
	src := []byte{0b1010_1111, 0b0011_0101, 0b1100_0011}

	w := NewBitWriter()
	w.WriteBits(0b101, 3)
	w.AppendSpan(src, 4, 13) // 1111 0011 0101 1
	w.AlignByte()

	assert.Equal(t, []byte{0b101_11110, 0b0110101_1}, w.Bytes())
}

func TestAppendSpanLong(t *testing.T) {
	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i*37 + 11)
	}

	w := NewBitWriter()
	w.AppendSpan(src, 0, len(src)*8)
	assert.Equal(t, src, w.Bytes())

	// An unaligned long span survives a read back.
	w = NewBitWriter()
	w.WriteBits(0, 5)
	w.AppendSpan(src, 3, 500)
	r := NewBitReader(w.Bytes())
	r.ReadBits(5)
	for i := 0; i < 500; i++ {
		p := 3 + i
		want := src[p>>3] >> (7 - uint(p&7)) & 1
		assert.Equal(t, want, r.ReadBit())
	}
}

func TestWriteTrailingBits(t *testing.T) {
	w := NewBitWriter()
	w.WriteBits(0b11010, 5)
	w.WriteTrailingBits()
	assert.Equal(t, []byte{0b11010_100}, w.Bytes())
	assert.Equal(t, 8, w.BitLen())

	// Already aligned payloads still get a stop bit.
	w = NewBitWriter()
	w.WriteBits(0xab, 8)
	w.WriteTrailingBits()
	assert.Equal(t, []byte{0xab, 0x80}, w.Bytes())
}
