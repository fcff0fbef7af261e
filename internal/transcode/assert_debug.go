//go:build debugassert

package transcode

import "github.com/codecrush-lab/internal/logging"

const debugAssertions = true

// assertViolation logs a contract violation with a stack trace. It runs on
// the audio goroutine, so it only exists in debugassert builds.
func assertViolation(msg string, err error, keysAndValues ...interface{}) {
	logging.Errorw("transcode: "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
