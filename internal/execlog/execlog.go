// Package execlog records workflow execution outcomes as a best-effort audit
// trail. Failures to append are logged and swallowed; they never affect the
// pipeline result.
package execlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/workflow"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkflowRef identifies the workflow an execution belonged to.
type WorkflowRef struct {
	Source       string `json:"source"`
	Destination  string `json:"destination"`
	Instructions string `json:"instructions"`
}

// Record is one execution outcome. EventID and WorkflowID come from the
// request context when the trigger stamped them.
type Record struct {
	EventID    string      `json:"eventId,omitempty"`
	WorkflowID string      `json:"workflowId,omitempty"`
	Workflow   WorkflowRef `json:"workflow"`
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Ref builds a WorkflowRef from a workflow.
func Ref(wf workflow.Workflow) WorkflowRef {
	return WorkflowRef{
		Source:       string(wf.Source),
		Destination:  string(wf.Destination),
		Instructions: wf.Instructions,
	}
}

// Sink appends records somewhere durable-ish.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Recorder fans a record out to its sinks, absorbing every failure.
type Recorder struct {
	sinks  []Sink
	logger logging.Logger
}

// NewRecorder builds a recorder over zero or more sinks.
func NewRecorder(logger logging.Logger, sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, logger: logging.OrNop(logger)}
}

// Record appends the execution outcome to every sink, best effort.
func (r *Recorder) Record(ctx context.Context, wf workflow.Workflow, success bool, message string) {
	if r == nil {
		return
	}
	rec := Record{
		EventID:    observability.EventIDFromContext(ctx),
		WorkflowID: observability.WorkflowIDFromContext(ctx),
		Workflow:   Ref(wf),
		Success:    success,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
	for _, sink := range r.sinks {
		if err := sink.Append(ctx, rec); err != nil {
			r.logger.Warn("execution log append failed (non-critical): %v", err)
		}
	}
}

// FileSink appends records as JSON lines.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a JSONL sink at path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Append writes one JSON line.
func (s *FileSink) Append(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open execution log: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write execution log: %w", err)
	}
	return nil
}

const logTable = "workflow_logs"

// PostgresSink appends records to a workflow_logs table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink wraps an existing pool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// EnsureSchema creates the log table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    event_id TEXT NOT NULL DEFAULT '',
    workflow_id TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    destination TEXT NOT NULL,
    instructions TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`, logTable)
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Append inserts one record.
func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, workflow_id, source, destination, instructions, success, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, logTable)
	_, err := s.pool.Exec(ctx, query,
		rec.EventID, rec.WorkflowID,
		rec.Workflow.Source, rec.Workflow.Destination, rec.Workflow.Instructions,
		rec.Success, rec.Message, rec.Timestamp)
	return err
}
