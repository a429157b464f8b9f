// Package audit maintains the append-only forensic log of vault mutations:
// imports, wipes, and schema migrations. The JSONL file sits beside the
// system log and is never rewritten.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/basket/chatvault/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Provider  string `json:"provider,omitempty"`
	RunID     int64  `json:"run_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu   sync.Mutex
	file *os.File
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

// Record appends one audit line. Detail passes through redaction so raw
// error strings cannot carry secrets or absolute paths into the log.
func Record(action, outcome, provider string, runID int64, traceID, detail string) {
	detail = shared.RedactPaths(shared.Redact(detail))

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Action:    action,
		Outcome:   outcome,
		Provider:  provider,
		RunID:     runID,
		TraceID:   traceID,
		Detail:    detail,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
