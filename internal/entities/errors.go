package entities

import (
	"errors"
	"fmt"
)

var ErrMissingRequest = errors.New("StreamRequest must not be nil")
var ErrMissingInput = errors.New("input path must not be empty")
var ErrMissingOutput = errors.New("output path must not be empty")
var ErrMissingTable = errors.New("grain table path must not be empty")
var ErrMissingClean = errors.New("clean input path must not be empty")
var ErrMissingISO = errors.New("iso must be set")
var ErrUnknownAction = errors.New("unknown action")

var ErrInPlaceOutput = errors.New("output path must differ from every input path")
var ErrSameDiffInputs = errors.New("grainy and clean inputs must differ, their diff would be empty")
var ErrOutputExists = errors.New("output exists, pass overwrite to replace it")
var ErrUnsupportedInput = errors.New("unsupported input")

var ErrMissingReader = errors.New("there is no reader for the input")
var ErrMissingWriter = errors.New("there is no writer for the output")

// FFmpeg/LibAV
var ErrFFMpegLibAV = errors.New("ffmpeg/libav error")
var ErrFFmpegLibAVNotFound = fmt.Errorf("%w input not found", ErrFFMpegLibAV)
var ErrFFmpegLibAVFormatContextIsNil = fmt.Errorf("%w format context is nil", ErrFFMpegLibAV)
var ErrFFmpegLibAVFormatContextOpenInputFailed = fmt.Errorf("%w format context open input has failed", ErrFFMpegLibAV)
var ErrFFmpegLibAVFindStreamInfo = fmt.Errorf("%w could not find stream info", ErrFFMpegLibAV)
var ErrFFmpegLibAVNoVideoStream = fmt.Errorf("%w no usable video stream", ErrFFMpegLibAV)
var ErrFFmpegLibAVDecoderNotFound = fmt.Errorf("%w decoder not found", ErrFFMpegLibAV)
var ErrFFmpegLibAVCodecContextIsNil = fmt.Errorf("%w codec context is nil", ErrFFMpegLibAV)
