package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newJSONTestLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l, err := NewWithWriter(&Config{Level: level, Format: JSONFormat, Output: StdoutOutput}, buf)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return l, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestDerivedLoggersKeepFields(t *testing.T) {
	l, buf := newJSONTestLogger(t, InfoLevel)

	l.WithComponent("commit_executor").
		WithFields(Fields{"account_id": "acc-1", "upload_id": "up-1"}).
		WithError(errors.New("boom")).
		Info("batch finished")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	entry := lines[0]
	for key, want := range map[string]string{
		"component":  "commit_executor",
		"account_id": "acc-1",
		"upload_id":  "up-1",
		"error":      "boom",
		"msg":        "batch finished",
	} {
		if entry[key] != want {
			t.Errorf("expected %s=%q, got %v", key, want, entry[key])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newJSONTestLogger(t, WarnLevel)

	l.Info("hidden")
	l.Warn("shown")

	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "shown" {
		t.Errorf("expected only the warn line, got %v", lines)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"production", *ProductionConfig(), false},
		{"debug", *DebugConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProgressTrackerLogsEveryN(t *testing.T) {
	l, buf := newJSONTestLogger(t, InfoLevel)

	tracker := NewProgressTracker(ProgressConfig{
		Operation: "commit",
		Total:     5,
		LogEvery:  2,
		Logger:    l,
	})
	for i := 0; i < 5; i++ {
		tracker.Increment()
	}
	tracker.Complete()

	var updates, completions int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "Progress update":
			updates++
		case "Operation completed":
			completions++
			if line["processed"] != float64(5) || line["total"] != float64(5) {
				t.Errorf("unexpected completion fields: %v", line)
			}
		}
	}
	if updates != 2 {
		t.Errorf("expected 2 progress updates, got %d", updates)
	}
	if completions != 1 {
		t.Errorf("expected 1 completion line, got %d", completions)
	}
}

func TestProgressTrackerCompleteWithError(t *testing.T) {
	l, buf := newJSONTestLogger(t, InfoLevel)

	tracker := NewProgressTracker(ProgressConfig{Operation: "commit", Total: 2, Logger: l})
	tracker.Increment()
	tracker.Increment()
	tracker.CompleteWithError(errors.New("1 of 2 writes failed"))

	lines := decodeLines(t, buf)
	last := lines[len(lines)-1]
	if last["msg"] != "Operation completed with error" || last["level"] != "error" {
		t.Errorf("unexpected completion line: %v", last)
	}
	if last["error"] != "1 of 2 writes failed" || last["processed"] != float64(2) {
		t.Errorf("unexpected completion fields: %v", last)
	}
}
