package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	tests := []struct {
		name string
		emit func(string, ...interface{})
		tag  string
	}{
		{"debug", logger.Debug, "[DEBUG]"},
		{"info", logger.Info, "[INFO]"},
		{"warn", logger.Warn, "[WARN]"},
		{"error", logger.Error, "[ERROR]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.emit("loaded %d columns", 3)
			out := buf.String()
			if !strings.Contains(out, tt.tag) || !strings.Contains(out, "loaded 3 columns") {
				t.Errorf("unexpected output: %s", out)
			}
		})
	}
}

func TestStandardLoggerFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below the level were written: %s", out)
	}
	if !strings.Contains(out, "visible warn") {
		t.Errorf("warn message missing: %s", out)
	}

	logger.SetLevel(LevelError)
	if logger.GetLevel() != LevelError {
		t.Errorf("expected level ERROR, got %s", logger.GetLevel())
	}
}

func TestStandardLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(
		WithOutput(&buf),
		WithInitialFields(map[string]interface{}{"component": "scanner"}),
	)

	child := logger.WithFields(map[string]interface{}{"bucket": "007", "cf": "index"})
	child.Info("page loaded")

	out := buf.String()
	// keys are sorted
	want := " bucket=007 cf=index component=scanner page loaded"
	if !strings.Contains(out, want) {
		t.Errorf("expected %q in %q", want, out)
	}

	// the parent must not see the child's fields
	buf.Reset()
	logger.Info("parent")
	if strings.Contains(buf.String(), "bucket=") {
		t.Errorf("child fields leaked into parent: %s", buf.String())
	}

	buf.Reset()
	logger.WithField("owner", "abc").Warn("single")
	if !strings.Contains(buf.String(), "owner=abc") {
		t.Errorf("WithField output missing field: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"Warning", LevelWarn, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("ignored")
	if logger.WithField("k", "v") == nil {
		t.Fatal("expected a logger from WithField")
	}
	if logger.GetLevel() != LevelFatal {
		t.Errorf("expected nop logger to report FATAL, got %s", logger.GetLevel())
	}
}

func TestLevelString(t *testing.T) {
	if got := Level(42).String(); got != "LEVEL(42)" {
		t.Errorf("unexpected string for unknown level: %s", got)
	}
}
