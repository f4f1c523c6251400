// Package runlog appends per-run state transitions to an audit sink.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Entry is one state transition of an ingestion run.
type Entry struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Status      string         `json:"status"`
	Family      string         `json:"family,omitempty"`
	DocumentRef string         `json:"document_ref,omitempty"`
	Processed   int            `json:"processed"`
	Written     int            `json:"written"`
	Skipped     int            `json:"skipped"`
	Detail      map[string]any `json:"detail,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Sink receives run-log entries. Callers treat failures as non-fatal.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Reader lists recent entries, newest first. An empty runID lists all runs.
type Reader interface {
	Recent(ctx context.Context, runID string, limit int) ([]Entry, error)
}

// Nop discards entries.
type Nop struct{}

// Append implements Sink.
func (Nop) Append(context.Context, Entry) error { return nil }

func prepare(e *Entry) ([]byte, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if len(e.Detail) == 0 {
		return nil, nil
	}
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: marshal detail")
	}
	return detail, nil
}

func decodeDetail(raw []byte, e *Entry) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &e.Detail)
	}
}
