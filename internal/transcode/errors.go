package transcode

import "errors"

// Contract violations. The pipeline clamps these locally and only counts
// them; they are exported so the components can be used and tested alone.
var (
	ErrOverflow      = errors.New("transcode: ring buffer overflow")
	ErrUnderflow     = errors.New("transcode: ring buffer underflow")
	ErrEncode        = errors.New("transcode: encode failed")
	ErrDecode        = errors.New("transcode: decoder lost sync")
	ErrUnrecoverable = errors.New("transcode: codec could not be reset")

	ErrBitrateRejected = errors.New("transcode: codec rejected bitrate")
)

// Lifecycle errors. These are the only errors Process returns.
var (
	ErrNotRunning            = errors.New("transcode: pipeline not running")
	ErrUnsupportedSampleRate = errors.New("transcode: unsupported sample rate")
	ErrUnsupportedChannels   = errors.New("transcode: unsupported channel count")
	ErrInvalidState          = errors.New("transcode: invalid state transition")
	ErrBlockShape            = errors.New("transcode: block shape does not match session")
)
