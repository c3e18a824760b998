package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"ERROR":   ERROR,
		"fatal":   FATAL,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("Expected ParseLevel(%q) = %v, got %v", in, want, got)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WARN, false)
	logger.SetOutput(&buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Expected sub-level messages to be dropped, got %q", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("Expected warn message in output, got %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, true)
	logger.SetOutput(&buf)

	logger.Info("triggered schedule", map[string]interface{}{"schedule": "daily"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON entry, got error %v", err)
	}
	if entry.Level != "INFO" {
		t.Errorf("Expected INFO level, got %q", entry.Level)
	}
	if entry.Message != "triggered schedule" {
		t.Errorf("Expected message to round-trip, got %q", entry.Message)
	}
	if entry.Fields["schedule"] != "daily" {
		t.Errorf("Expected schedule field, got %v", entry.Fields)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, true)
	parent.SetOutput(&buf)

	child := parent.WithField("namespace", "velero")
	child.Info("child")
	parent.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}

	var childEntry, parentEntry LogEntry
	if err := json.Unmarshal([]byte(lines[0]), &childEntry); err != nil {
		t.Fatalf("Failed to parse child entry: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &parentEntry); err != nil {
		t.Fatalf("Failed to parse parent entry: %v", err)
	}
	if childEntry.Fields["namespace"] != "velero" {
		t.Errorf("Expected namespace field on child, got %v", childEntry.Fields)
	}
	if _, ok := parentEntry.Fields["namespace"]; ok {
		t.Errorf("Expected parent fields untouched, got %v", parentEntry.Fields)
	}
}
