package av1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitOBUs(t *testing.T) {
	var buf []byte
	buf = append(buf, WriteOBU(OBUTemporalDelimiter, false, 0, 0, nil)...)
	buf = append(buf, WriteOBU(OBUSequenceHeader, false, 0, 0, []byte{0x0a, 0x0b, 0x0c})...)
	buf = append(buf, WriteOBU(OBUFrame, true, 2, 1, []byte{0x01, 0x02})...)

	obus, err := SplitOBUs(buf)
	assert.NoError(t, err)
	assert.Len(t, obus, 3)

	assert.Equal(t, OBUTemporalDelimiter, obus[0].Type)
	assert.Empty(t, obus[0].Payload)
	assert.True(t, obus[0].HasSizeField)

	assert.Equal(t, OBUSequenceHeader, obus[1].Type)
	assert.Equal(t, []byte{0x0a, 0x0b, 0x0c}, obus[1].Payload)
	assert.False(t, obus[1].HasExtension)

	assert.Equal(t, OBUFrame, obus[2].Type)
	assert.True(t, obus[2].HasExtension)
	assert.Equal(t, uint8(2), obus[2].TemporalID)
	assert.Equal(t, uint8(1), obus[2].SpatialID)
	assert.Equal(t, []byte{0x01, 0x02}, obus[2].Payload)

	// Raw spans tile the buffer exactly.
	total := 0
	for _, o := range obus {
		total += len(o.Raw)
	}
	assert.Equal(t, len(buf), total)
}

func TestSplitOBUsPayloadIsView(t *testing.T) {
	buf := WriteOBU(OBUPadding, false, 0, 0, []byte{0x00})
	obus, err := SplitOBUs(buf)
	assert.NoError(t, err)

	buf[len(buf)-1] = 0x55
	assert.Equal(t, byte(0x55), obus[0].Payload[0])
}

func TestSplitOBUsWithoutSizeField(t *testing.T) {
	// header with has_size_field=0, payload runs to the end of the buffer
	buf := []byte{byte(OBUFrame) << 3, 0xde, 0xad, 0xbe, 0xef}
	obus, err := SplitOBUs(buf)
	assert.NoError(t, err)
	assert.Len(t, obus, 1)
	assert.False(t, obus[0].HasSizeField)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, obus[0].Payload)
}

func TestSplitOBUsErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		buf  []byte
	}{
		{"forbidden bit", []byte{0x80}},
		{"reserved bit", []byte{byte(OBUFrame)<<3 | 0x01}},
		{"truncated extension", []byte{byte(OBUFrame)<<3 | 0x04}},
		{"truncated size", []byte{byte(OBUFrame)<<3 | 0x02}},
		{"size continuation past end", []byte{byte(OBUFrame)<<3 | 0x02, 0x80}},
		{"payload overrun", []byte{byte(OBUFrame)<<3 | 0x02, 0x05, 0x01}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitOBUs(tt.buf)
			assert.ErrorIs(t, err, ErrMalformedStream)
		})
	}
}

func TestSplitOBUsEmpty(t *testing.T) {
	obus, err := SplitOBUs(nil)
	assert.NoError(t, err)
	assert.Empty(t, obus)
}

func TestWriteOBUHeaderLayout(t *testing.T) {
	out := WriteOBU(OBUMetadata, false, 0, 0, []byte{0x09})
	// type 5, no extension, has_size_field set
	assert.Equal(t, []byte{0x2a, 0x01, 0x09}, out)

	out = WriteOBU(OBUSequenceHeader, true, 3, 2, nil)
	assert.Equal(t, []byte{0x0e, 0x70, 0x00}, out)
}

func TestWriteOBULongPayloadRoundTrip(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	out := WriteOBU(OBUTileGroup, false, 0, 0, payload)

	obus, err := SplitOBUs(out)
	assert.NoError(t, err)
	assert.Len(t, obus, 1)
	assert.Equal(t, OBUTileGroup, obus[0].Type)
	assert.Equal(t, payload, obus[0].Payload)
}
