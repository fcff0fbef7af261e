package logging

import (
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar *zap.SugaredLogger
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	once  sync.Once
)

// Logger is the structured logging surface used across the project. It is
// the key/value subset of zap's SugaredLogger so tests can swap in a fake.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Sync() error
}

type noopLogger struct{}

func (noopLogger) Debugw(msg string, keysAndValues ...interface{}) {}
func (noopLogger) Infow(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Warnw(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Errorw(msg string, keysAndValues ...interface{}) {}
func (noopLogger) Sync() error                                     { return nil }

// current starts as a no-op so packages can log before Init runs (tests
// mostly never call it).
var current Logger = noopLogger{}

// Init builds the process-wide JSON logger. lvl is one of debug, info, warn
// or error; an empty value falls back to LOG_LEVEL. Later calls only adjust
// the level.
func Init(lvl string) *zap.SugaredLogger {
	if strings.TrimSpace(lvl) == "" {
		lvl = os.Getenv("LOG_LEVEL")
	}
	level.SetLevel(parseLevel(lvl))
	once.Do(func() {
		cfg := zap.Config{
			Level:            level,
			Encoding:         "json",
			EncoderConfig:    zap.NewProductionEncoderConfig(),
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"

		logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
		if err != nil {
			logger = zap.NewNop()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
		current = sugar
	})
	return sugar
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetLogger replaces the package-level logger. nil restores whatever Init
// configured, or the no-op logger.
func SetLogger(l Logger) {
	switch {
	case l != nil:
		current = l
	case sugar != nil:
		current = sugar
	default:
		current = noopLogger{}
	}
}

// GetLogger returns the current Logger.
func GetLogger() Logger { return current }

func Debugw(msg string, keysAndValues ...interface{}) { current.Debugw(msg, keysAndValues...) }
func Infow(msg string, keysAndValues ...interface{})  { current.Infow(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { current.Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { current.Errorw(msg, keysAndValues...) }

// Sync flushes any buffered logs.
func Sync() error { return current.Sync() }

// SessionFields tags an entry with the pipeline session it belongs to.
func SessionFields(sessionID string) []interface{} {
	return []interface{}{"session.id", sessionID}
}

// FrameFields describes the codec frame geometry of a session.
func FrameFields(sampleRate, channels, frameSize int) []interface{} {
	return []interface{}{
		"audio.sample_rate", sampleRate,
		"audio.channels", channels,
		"audio.frame_samples", frameSize,
		"audio.frame_ms", float64(frameSize) * 1000 / float64(sampleRate),
	}
}

// StatsFields turns named counters into "stats.<name>" fields in a stable
// order.
func StatsFields(counters map[string]uint64) []interface{} {
	out := make([]interface{}, 0, 2*len(counters))
	for _, name := range slices.Sorted(maps.Keys(counters)) {
		out = append(out, "stats."+name, counters[name])
	}
	return out
}

// With joins several field slices into one argument list.
func With(groups ...[]interface{}) []interface{} {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := make([]interface{}, 0, n)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
