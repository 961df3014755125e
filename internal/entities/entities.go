package entities

import (
	"fmt"
	"math"
	"runtime"
)

type Codec string
type MediaType string

const (
	UnknownCodec Codec = "unknownCodec"
	H264         Codec = "h264"
	H265         Codec = "h265"
	VP9          Codec = "vp9"
	AV1          Codec = "av1"
)

const (
	UnknownType MediaType = "unknownMediaType"
	VideoType   MediaType = "video"
	AudioType   MediaType = "audio"
)

// Action selects one of the engine operations.
type Action string

const (
	ActionInspect  Action = "inspect"
	ActionApply    Action = "apply"
	ActionGenerate Action = "generate"
	ActionRemove   Action = "remove"
	ActionDiff     Action = "diff"
)

// StreamRequest carries everything one CLI invocation asks for. OutPath is
// the rewritten stream for apply/generate/remove and the grain table file
// for inspect/diff.
type StreamRequest struct {
	Action    Action
	InPath    string
	OutPath   string
	TablePath string
	CleanPath string
	ISO       int
	Chroma    bool
	Overwrite bool
}

func (r *StreamRequest) Valid() error {
	if r == nil {
		return ErrMissingRequest
	}

	if r.InPath == "" {
		return ErrMissingInput
	}

	if r.OutPath == "" {
		return ErrMissingOutput
	}

	if r.OutPath == r.InPath || r.OutPath == r.CleanPath {
		return ErrInPlaceOutput
	}

	switch r.Action {
	case ActionInspect, ActionRemove:
	case ActionApply:
		if r.TablePath == "" {
			return ErrMissingTable
		}
	case ActionGenerate:
		if r.ISO == 0 {
			return ErrMissingISO
		}
	case ActionDiff:
		if r.CleanPath == "" {
			return ErrMissingClean
		}
		if r.CleanPath == r.InPath {
			return ErrSameDiffInputs
		}
	default:
		return ErrUnknownAction
	}

	return nil
}

func (r *StreamRequest) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("StreamRequest %s %s -> %s", r.Action, r.InPath, r.OutPath)
}

// NoPTS marks a packet without a presentation timestamp, matching libav's
// AV_NOPTS_VALUE.
const NoPTS = int64(math.MinInt64)

type Rational struct {
	Num int
	Den int
}

func (r Rational) Usable() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// VideoDetails describes the video stream a reader selected. ExtraData
// holds out-of-band AV1 config OBUs (the av1C payload) when the container
// carries them; raw streams leave it nil.
type VideoDetails struct {
	Codec     Codec
	Width     int
	Height    int
	TimeBase  Rational
	FrameRate Rational
	ExtraData []byte
}

// Packet is one temporal unit worth of bitstream data with its container
// timing, in TimeBase units.
type Packet struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
	Keyframe bool
}

type Config struct {
	Workers             int     `required:"true" default:"0"`
	PatchQueueFactor    int     `required:"true" default:"8"`
	ProgressEveryFrames int64   `required:"true" default:"500"`
	ProbeSizeBytes      int     `required:"true" default:"5000000"`
	DiffBlockSize       int     `required:"true" default:"32"`
	DiffTolerance       float64 `required:"true" default:"0.1"`
	DiffFlatThreshold   float64 `required:"true" default:"25"`
	DefaultISO          int     `required:"true" default:"400"`
	Debug               bool    `required:"true" default:"false"`
}

// WorkerCount resolves the configured worker count, 0 meaning one worker
// per CPU.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
