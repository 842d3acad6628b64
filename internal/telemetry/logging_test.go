package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "info", true, false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("vote scheduled", "proposal_id", 42)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected at least one log line")
	}
	var entry map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "vote scheduled" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatal("expected timestamp key")
	}
}

func TestLoggerRedactsSensitiveAttrs(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "info", true, false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("configured", "api_key", "super-secret-value-123456")
	_ = closer.Close()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "super-secret-value-123456") {
		t.Fatalf("secret leaked into log file: %s", data)
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Fatalf("expected redaction marker in log file: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG",
		"warn":  "WARN",
		"error": "ERROR",
		"":      "INFO",
		"junk":  "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
