package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEvents(t *testing.T, data string) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		if line == "" {
			continue
		}
		var ev AuditEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	return events
}

func TestAuditLogger_SyncLifecycle(t *testing.T) {
	var buf bytes.Buffer
	l := NewAuditWriter(&buf)

	l.SyncStart("p1", "run-1", false, true)
	l.BodySkipped("p1", "page:PAGE_Login", "OnLoad", errors.New("bad base64"))
	l.Cycles("p1", "run-1", []string{"proc:A", "proc:B"})
	l.Cycles("p1", "run-1", nil)
	l.SyncComplete("p1", "run-1", 10, 12, 2, 1500*time.Millisecond)
	l.SyncError("p1", "run-2", errors.New("insert failed at batch 3"))

	events := decodeEvents(t, buf.String())
	require.Len(t, events, 5)
	assert.Equal(t, AuditEventSyncStart, events[0].EventType)
	assert.Equal(t, AuditEventBodySkipped, events[1].EventType)
	assert.Equal(t, "bad base64", events[1].ErrorDetail)
	assert.Equal(t, AuditEventCycles, events[2].EventType)
	assert.Equal(t, AuditEventSyncComplete, events[3].EventType)
	assert.Equal(t, int64(1500), events[3].DurationMS)
	assert.Equal(t, AuditEventSyncError, events[4].EventType)
	assert.False(t, events[4].Success)
	for _, ev := range events {
		assert.Equal(t, "p1", ev.ProjectID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestAuditLogger_Disabled(t *testing.T) {
	l, err := NewAuditLogger(nil)
	require.NoError(t, err)
	l.SyncStart("p", "r", false, true)
	assert.NoError(t, l.Close())

	var nilLogger *AuditLogger
	assert.NoError(t, nilLogger.Log(&AuditEvent{}))
	assert.NoError(t, nilLogger.Close())
}

func TestAuditLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewAuditLogger(&AuditConfig{Enabled: true, OutputPath: path})
	require.NoError(t, err)
	l.SyncStart("p1", "run-1", true, false)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	events := decodeEvents(t, string(data))
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].Details["dry_run"])
}
