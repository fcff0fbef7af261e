//go:build !opus
// +build !opus

package codec

// DefaultBackend is the backend used when none is configured. Without
// libopus it is the pure-Go Opus.
const DefaultBackend = "gopus"

// NewOpus reports ErrUnavailable in builds without libopus. Build with
// `-tags opus` for the real backend.
func NewOpus(cfg Config) (Codec, error) {
	return nil, ErrUnavailable
}
