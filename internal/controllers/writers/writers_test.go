package writers_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/flavioribeiro/grainsmith/internal/app"
	"github.com/flavioribeiro/grainsmith/internal/controllers/writers"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"github.com/flavioribeiro/grainsmith/internal/teststreams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

var w []writers.PacketWriter

func selectWriterFor(t *testing.T, req *entities.StreamRequest) writers.PacketWriter {
	if w == nil {
		fxtest.New(t,
			app.Dependencies(),
			fx.Populate(
				fx.Annotate(
					&w,
					fx.ParamTags(`group:"writers"`),
				),
			),
		)
	}
	for _, c := range w {
		if c.Match(req) {
			return c
		}
	}
	return nil
}

func ivfDetails() *entities.VideoDetails {
	return &entities.VideoDetails{
		Codec:    entities.AV1,
		Width:    teststreams.Width,
		Height:   teststreams.Height,
		TimeBase: entities.Rational{Num: 1, Den: 30},
	}
}

func TestWriterSelection(t *testing.T) {
	for path, want := range map[string]writers.PacketWriter{
		"out.ivf": &writers.IVFWriter{},
		"OUT.IVF": &writers.IVFWriter{},
		"out.mp4": &writers.LibAVFFmpegWriter{},
		"out.mkv": &writers.LibAVFFmpegWriter{},
	} {
		got := selectWriterFor(t, &entities.StreamRequest{OutPath: path})
		assert.IsType(t, want, got, path)
	}
}

func TestIVFWriterRoundTrip(t *testing.T) {
	units := [][]byte{
		teststreams.KeyFrameUnit(true, teststreams.GrainParams(100)),
		teststreams.InterFrameUnit(true, teststreams.AltGrainParams(200)),
		teststreams.GrainOffUnit(),
	}
	out := filepath.Join(t.TempDir(), "out.ivf")
	req := &entities.StreamRequest{OutPath: out}

	writer := selectWriterFor(t, req)
	require.NotNil(t, writer)

	sink, err := writer.Create(req, ivfDetails())
	require.NoError(t, err)
	defer sink.Close()

	for i, unit := range units {
		pts := int64(i)
		if i == len(units)-1 {
			pts = entities.NoPTS // falls back to the frame index
		}
		require.NoError(t, sink.WritePacket(&entities.Packet{Data: unit, PTS: pts}))
	}
	require.NoError(t, sink.Finalize())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 32)

	assert.Equal(t, "DKIF", string(data[0:4]))
	assert.Equal(t, "AV01", string(data[8:12]))
	assert.Equal(t, uint16(teststreams.Width), binary.LittleEndian.Uint16(data[12:14]))
	assert.Equal(t, uint16(teststreams.Height), binary.LittleEndian.Uint16(data[14:16]))
	assert.Equal(t, uint32(30), binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[20:24]))
	assert.Equal(t, uint32(len(units)), binary.LittleEndian.Uint32(data[24:28]))

	at := 32
	for i, unit := range units {
		require.GreaterOrEqual(t, len(data), at+12)
		size := int(binary.LittleEndian.Uint32(data[at : at+4]))
		pts := binary.LittleEndian.Uint64(data[at+4 : at+12])
		assert.Equal(t, len(unit), size)
		assert.Equal(t, uint64(i), pts)
		assert.Equal(t, unit, data[at+12:at+12+size])
		at += 12 + size
	}
	assert.Equal(t, len(data), at)
}

func TestIVFWriterRefusesOverwrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.ivf")
	require.NoError(t, os.WriteFile(out, []byte("do not lose me"), 0o644))

	req := &entities.StreamRequest{OutPath: out}
	writer := selectWriterFor(t, req)

	_, err := writer.Create(req, ivfDetails())
	assert.ErrorIs(t, err, entities.ErrOutputExists)

	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err))

	kept, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("do not lose me"), kept)
}

func TestIVFWriterOverwriteConsent(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.ivf")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	req := &entities.StreamRequest{OutPath: out, Overwrite: true}
	writer := selectWriterFor(t, req)

	sink, err := writer.Create(req, ivfDetails())
	require.NoError(t, err)
	unit := teststreams.KeyFrameUnit(true, teststreams.GrainParams(7))
	require.NoError(t, sink.WritePacket(&entities.Packet{Data: unit, PTS: 0}))
	require.NoError(t, sink.Finalize())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "DKIF", string(data[0:4]))
}

func TestIVFWriterDiscardsOnClose(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.ivf")
	req := &entities.StreamRequest{OutPath: out}
	writer := selectWriterFor(t, req)

	sink, err := writer.Create(req, ivfDetails())
	require.NoError(t, err)
	require.NoError(t, sink.WritePacket(&entities.Packet{Data: []byte{0x12, 0x00}, PTS: 0}))
	require.NoError(t, sink.Close())

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestIVFWriterTimeBaseFallback(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.ivf")
	req := &entities.StreamRequest{OutPath: out}
	writer := selectWriterFor(t, req)

	details := &entities.VideoDetails{
		Codec:     entities.AV1,
		Width:     teststreams.Width,
		Height:    teststreams.Height,
		FrameRate: entities.Rational{Num: 24, Den: 1},
	}
	sink, err := writer.Create(req, details)
	require.NoError(t, err)
	require.NoError(t, sink.Finalize())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, uint32(24), binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[20:24]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[24:28]))
}
