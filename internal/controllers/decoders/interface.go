package decoders

import (
	"github.com/flavioribeiro/grainsmith/grainfit"
	"github.com/flavioribeiro/grainsmith/internal/entities"
)

// PlaneDecoder opens an input and decodes its video stream into the plane
// frames grain estimation consumes.
type PlaneDecoder interface {
	Open(path string) (FrameSource, error)
}

// FrameSource is one open decode session. ReadFrame returns frames in
// presentation order with timestamps already in grain table ticks, and
// io.EOF once the decoder drains. Close is safe to call more than once.
type FrameSource interface {
	Details() *entities.VideoDetails
	ReadFrame() (*grainfit.Frame, error)
	Close() error
}
