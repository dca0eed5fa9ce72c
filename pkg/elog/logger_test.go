package elog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	cases := []struct {
		log   func(string, ...interface{})
		label string
	}{
		{logger.Debug, "[DEBUG]"},
		{logger.Info, "[INFO]"},
		{logger.Warn, "[WARN]"},
		{logger.Error, "[ERROR]"},
	}
	for _, c := range cases {
		buf.Reset()
		c.log("probe message")
		if !strings.Contains(buf.String(), c.label) || !strings.Contains(buf.String(), "probe message") {
			t.Errorf("logging at %s produced: %s", c.label, buf.String())
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelError))

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("hidden")
	logger.Error("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("suppressed levels leaked: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("error level missing: %s", out)
	}

	if logger.GetLevel() != LevelError {
		t.Errorf("GetLevel = %v, want LevelError", logger.GetLevel())
	}
	logger.SetLevel(LevelInfo)
	buf.Reset()
	logger.Info("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("SetLevel did not take effect: %s", buf.String())
	}
}

func TestFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	logger.Info("built %d entries in %s", 42, "3ms")
	if !strings.Contains(buf.String(), "built 42 entries in 3ms") {
		t.Errorf("formatted message missing: %s", buf.String())
	}
}

func TestFieldsSortedAndInherited(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	derived := logger.WithFields(map[string]interface{}{
		"log":   "test.log",
		"index": "test.idx",
	}).WithField("entries", 7)

	derived.Info("flushed")
	out := buf.String()
	for _, want := range []string{"log=test.log", "index=test.idx", "entries=7", "flushed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}

	// Fields print in sorted key order, so output is stable across runs.
	if strings.Index(out, "entries=") > strings.Index(out, "index=") ||
		strings.Index(out, "index=") > strings.Index(out, "log=") {
		t.Errorf("fields not sorted: %s", out)
	}

	// The parent logger is unchanged.
	buf.Reset()
	logger.Info("bare")
	if strings.Contains(buf.String(), "entries=") {
		t.Errorf("fields leaked into parent logger: %s", buf.String())
	}
}

func TestFieldOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	logger.WithField("stage", "fill").WithField("stage", "scan").Info("progress")
	out := buf.String()
	if !strings.Contains(out, "stage=scan") || strings.Contains(out, "stage=fill") {
		t.Errorf("repeated key not replaced: %s", out)
	}
}

func TestDefaultLogger(t *testing.T) {
	original := defaultLogger
	defer SetDefaultLogger(original)

	var buf bytes.Buffer
	SetDefaultLogger(NewStandardLogger(WithOutput(&buf), WithLevel(LevelInfo)))

	Info("through the default logger")
	if !strings.Contains(buf.String(), "through the default logger") {
		t.Errorf("default logger output: %s", buf.String())
	}

	buf.Reset()
	WithField("global", true).Info("with field")
	if !strings.Contains(buf.String(), "global=true") {
		t.Errorf("default WithField output: %s", buf.String())
	}
}
