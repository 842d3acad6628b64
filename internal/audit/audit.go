// Package audit records decisions with side effects outside the process:
// vote casts, schedule changes, analysis outcomes and config writes.
// Entries go to logs/audit.jsonl and, when a DB is attached, the audit_log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/neurovote/internal/shared"
)

// Well-known audit actions.
const (
	ActionVoteCast      = "vote.cast"
	ActionVoteSchedule  = "vote.schedule"
	ActionVoteCancel    = "vote.cancel"
	ActionAnalysisRun   = "analysis.run"
	ActionAnalysisReset = "analysis.reset"
	ActionConfigWrite   = "config.write"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Decision  string `json:"decision"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	Subject   string `json:"subject,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	db        *sql.DB
	failCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for audit_log table writes.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// FailCount returns the total number of failure decisions since startup.
func FailCount() int64 {
	return failCount.Load()
}

// Record writes one audit entry. decision is "ok" or "fail"; subject
// identifies the entity acted on (typically "proposal:<id>").
func Record(decision, action, reason, subject string) {
	if decision == "fail" {
		failCount.Add(1)
	}

	// Secrets never reach the audit trail.
	reason = shared.Redact(reason)
	subject = shared.Redact(subject)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		ev := entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Decision:  decision,
			Action:    action,
			Reason:    reason,
			Subject:   subject,
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO audit_log (trace_id, subject, action, decision, reason)
			VALUES (?, ?, ?, ?, ?);
		`, "", subject, action, decision, reason)
	}
}
