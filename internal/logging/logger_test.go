// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// newTestLogger returns a logger writing to a buffer, bypassing the global.
func newTestLogger(minLevel LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Logger{out: &buf, minLevel: minLevel}, &buf
}

// TestInfoProducesJSON verifies entries are valid JSON with expected fields.
func TestInfoProducesJSON(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Info("queue drained", map[string]interface{}{"applied": 3})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("Level = %s, want INFO", entry.Level)
	}

	if entry.Message != "queue drained" {
		t.Errorf("Message = %q, want %q", entry.Message, "queue drained")
	}

	if entry.Context["applied"] != float64(3) {
		t.Errorf("Context[applied] = %v, want 3", entry.Context["applied"])
	}

	if entry.Timestamp == "" {
		t.Error("Timestamp is empty")
	}
}

// TestMinLevelFiltering verifies entries below the minimum level are dropped.
func TestMinLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(LevelWarn)

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	if !strings.Contains(lines[0], "kept") {
		t.Errorf("surviving line = %q, want the WARN entry", lines[0])
	}
}

// TestErrorIncludesError verifies the error string is attached.
func TestErrorIncludesError(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Error("push failed", &json.SyntaxError{})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}

	if entry.Error == "" {
		t.Error("Error field is empty")
	}
}

// TestErrorWithCode verifies the code field is emitted.
func TestErrorWithCode(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.ErrorWithCode("drain aborted", "SYNC_FAILED", nil)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}

	if entry.Code != "SYNC_FAILED" {
		t.Errorf("Code = %q, want SYNC_FAILED", entry.Code)
	}
}

// TestContextMerging verifies multiple context maps are merged.
func TestContextMerging(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Info("merged",
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}

	if len(entry.Context) != 2 {
		t.Errorf("Context has %d keys, want 2", len(entry.Context))
	}
}

// TestConcurrentWrites verifies concurrent logging does not interleave lines.
func TestConcurrentWrites(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Info("concurrent entry")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}

	for _, line := range lines {
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("line is not valid JSON: %q", line)
		}
	}
}

// TestGetDefaultsToStdout verifies Get initializes a usable global logger.
func TestGetDefaultsToStdout(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get() returned nil")
	}
}
