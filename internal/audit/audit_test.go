package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("ok", ActionVoteCast, "cast adopt on proposal", "proposal:42")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var ev map[string]any
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("audit line not JSON: %v", err)
	}
	if ev["action"] != ActionVoteCast {
		t.Fatalf("unexpected action: %v", ev["action"])
	}
	if ev["subject"] != "proposal:42" {
		t.Fatalf("unexpected subject: %v", ev["subject"])
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("fail", ActionConfigWrite, "api_key=sk-verysecretvalue123456 rejected", "config:llm")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(data), "sk-verysecretvalue123456") {
		t.Fatalf("secret leaked into audit trail: %s", data)
	}
}

func TestFailCount(t *testing.T) {
	before := FailCount()
	Record("fail", ActionVoteCast, "not authorized", "proposal:999")
	if FailCount() != before+1 {
		t.Fatalf("expected fail count %d, got %d", before+1, FailCount())
	}
}
