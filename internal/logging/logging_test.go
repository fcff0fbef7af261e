package logging

import (
	"reflect"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingLogger) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, level+":"+msg)
}

func (r *recordingLogger) Debugw(msg string, kv ...interface{}) { r.add("debug", msg) }
func (r *recordingLogger) Infow(msg string, kv ...interface{})  { r.add("info", msg) }
func (r *recordingLogger) Warnw(msg string, kv ...interface{})  { r.add("warn", msg) }
func (r *recordingLogger) Errorw(msg string, kv ...interface{}) { r.add("error", msg) }
func (r *recordingLogger) Sync() error                          { return nil }

func TestSetLoggerRoutesPackageFunctions(t *testing.T) {
	rec := &recordingLogger{}
	SetLogger(rec)
	defer SetLogger(nil)

	Debugw("a")
	Infow("b")
	Warnw("c")
	Errorw("d")
	want := []string{"debug:a", "info:b", "warn:c", "error:d"}
	if !reflect.DeepEqual(rec.entries, want) {
		t.Fatalf("entries: want=%v got=%v", want, rec.entries)
	}
	if GetLogger() != Logger(rec) {
		t.Fatalf("GetLogger did not return the installed logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		" WARN ":  "warn",
		"warning": "warn",
		"error":   "error",
		"":        "info",
		"bogus":   "info",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q): want=%s got=%s", in, want, got)
		}
	}
}

func TestStatsFieldsSorted(t *testing.T) {
	got := StatsFields(map[string]uint64{"underflows": 2, "cycles": 7, "frames": 3})
	want := []interface{}{"stats.cycles", uint64(7), "stats.frames", uint64(3), "stats.underflows", uint64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want=%v got=%v", want, got)
	}
}

func TestFieldHelpers(t *testing.T) {
	f := FrameFields(48000, 2, 120)
	if len(f) != 8 || f[7] != 2.5 {
		t.Fatalf("FrameFields: %v", f)
	}
	all := With(SessionFields("s1"), []interface{}{"k", 1})
	want := []interface{}{"session.id", "s1", "k", 1}
	if !reflect.DeepEqual(all, want) {
		t.Fatalf("With: want=%v got=%v", want, all)
	}
}
