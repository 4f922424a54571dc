package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventSyncStart    AuditEventType = "sync.start"
	AuditEventSyncComplete AuditEventType = "sync.complete"
	AuditEventSyncError    AuditEventType = "sync.error"
	AuditEventBodySkipped  AuditEventType = "aggregate.body_skipped"
	AuditEventCycles       AuditEventType = "sequence.cycles"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	ProjectID   string         `json:"project_id"`
	RunID       string         `json:"run_id,omitempty"`
	Success     bool           `json:"success"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditLogger appends JSON lines describing syncs so that a partial graph
// left by a failed sync can be traced to its run.
type AuditLogger struct {
	mu      sync.Mutex
	writer  io.Writer
	enabled bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // file path or "stdout"/"stderr"
}

// NewAuditLogger creates an audit logger. A nil or disabled config yields a
// logger that drops everything.
func NewAuditLogger(cfg *AuditConfig) (*AuditLogger, error) {
	if cfg == nil || !cfg.Enabled {
		return &AuditLogger{}, nil
	}

	var w io.Writer
	switch cfg.OutputPath {
	case "stdout", "":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		w = f
	}
	return NewAuditWriter(w), nil
}

// NewAuditWriter creates an enabled audit logger writing to w.
func NewAuditWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{writer: w, enabled: true}
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// SyncStart records the beginning of a sync.
func (l *AuditLogger) SyncStart(projectID, runID string, dryRun, clearFirst bool) {
	_ = l.Log(&AuditEvent{
		EventType: AuditEventSyncStart,
		ProjectID: projectID,
		RunID:     runID,
		Success:   true,
		Details: map[string]any{
			"dry_run":     dryRun,
			"clear_first": clearFirst,
		},
	})
}

// SyncComplete records a finished sync.
func (l *AuditLogger) SyncComplete(projectID, runID string, nodes, edges, placeholders int, d time.Duration) {
	_ = l.Log(&AuditEvent{
		EventType:  AuditEventSyncComplete,
		ProjectID:  projectID,
		RunID:      runID,
		Success:    true,
		DurationMS: d.Milliseconds(),
		Message:    fmt.Sprintf("synced %d nodes, %d edges", nodes, edges),
		Details: map[string]any{
			"nodes":        nodes,
			"edges":        edges,
			"placeholders": placeholders,
		},
	})
}

// SyncError records a failed sync. The store may hold a partial graph.
func (l *AuditLogger) SyncError(projectID, runID string, err error) {
	_ = l.Log(&AuditEvent{
		EventType:   AuditEventSyncError,
		ProjectID:   projectID,
		RunID:       runID,
		Message:     "sync failed; re-run sync to recover",
		ErrorDetail: err.Error(),
	})
}

// BodySkipped records a code body the aggregator could not decode.
func (l *AuditLogger) BodySkipped(projectID, artifactID, body string, err error) {
	_ = l.Log(&AuditEvent{
		EventType:   AuditEventBodySkipped,
		ProjectID:   projectID,
		Success:     false,
		Message:     fmt.Sprintf("%s: body %s skipped", artifactID, body),
		ErrorDetail: err.Error(),
	})
}

// Cycles records the nodes sequenced in best-effort order.
func (l *AuditLogger) Cycles(projectID, runID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	_ = l.Log(&AuditEvent{
		EventType: AuditEventCycles,
		ProjectID: projectID,
		RunID:     runID,
		Success:   true,
		Message:   fmt.Sprintf("%d nodes ordered inside cycles", len(keys)),
		Details:   map[string]any{"nodes": keys},
	})
}

// Close closes the underlying file, if any.
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
