package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"debug", DebugConfig(), false},
		{"production", ProductionConfig(), false},
		{"bad level", &Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"bad output", &Config{Level: InfoLevel, Format: TextFormat, Output: "syslog"}, true},
		{"file without path", &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"file with path", &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput, File: "/tmp/x.log"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&Config{Level: InfoLevel, Format: JSONFormat, Output: StdoutOutput}, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}

	l.WithComponent("reconciler").
		WithFields(Fields{"rows": 3}).
		WithError(errors.New("boom")).
		Warn("batch finished")
	l.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1 (debug must be filtered)", len(lines))
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "reconciler" {
		t.Errorf("component = %v, want reconciler", entry["component"])
	}
	if entry["rows"] != float64(3) {
		t.Errorf("rows = %v, want 3", entry["rows"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if entry["level"] != "warning" {
		t.Errorf("level = %v, want warning", entry["level"])
	}
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	var buf bytes.Buffer
	l, err := NewWithWriter(&Config{Level: DebugLevel, Format: TextFormat, DisableTimestamp: true}, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}
	SetGlobalLogger(l)

	WithComponent("cli").Infof("loaded %d rules", 4)
	if !strings.Contains(buf.String(), "loaded 4 rules") || !strings.Contains(buf.String(), "component=cli") {
		t.Errorf("global log output = %q", buf.String())
	}
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	l, _ := NewWithWriter(&Config{Level: InfoLevel, Format: TextFormat, DisableTimestamp: true}, &buf)

	p := NewProgressTracker(ProgressConfig{Operation: "classify", Total: 10, LogInterval: time.Hour, Logger: l})
	for i := 0; i < 4; i++ {
		p.Increment()
	}
	p.Add(1)

	stats := p.GetStats()
	if stats.Current != 5 {
		t.Errorf("Current = %d, want 5", stats.Current)
	}
	if stats.Percentage != 50 {
		t.Errorf("Percentage = %v, want 50", stats.Percentage)
	}
	if strings.Contains(buf.String(), "Progress update") {
		t.Error("no progress update expected before the interval elapses")
	}

	p.Complete()
	if !strings.Contains(buf.String(), "Operation completed") {
		t.Errorf("output = %q, want completion line", buf.String())
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	l, _ := NewWithWriter(&Config{Level: InfoLevel, Format: TextFormat, DisableTimestamp: true}, &buf)

	want := errors.New("load failed")
	if err := TimedOperation("load reference", l, func() error { return want }); err != want {
		t.Errorf("TimedOperation() error = %v, want %v", err, want)
	}
	if !strings.Contains(buf.String(), "Operation failed") {
		t.Errorf("output = %q, want failure line", buf.String())
	}
}
