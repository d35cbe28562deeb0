package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWritesPrefixedJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	err := l.Record(EventStage, "2026-01", "aggregates_extracted", "receipts.ndjson",
		map[string]any{"accepted": 42})
	require.NoError(t, err)

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))
	require.True(t, strings.HasSuffix(line, "\n"))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "AUDIT: ")), &ev))
	assert.Equal(t, EventStage, ev.Type)
	assert.Equal(t, "2026-01", ev.Period)
	assert.Equal(t, "aggregates_extracted", ev.Action)
	assert.Equal(t, "receipts.ndjson", ev.Resource)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.EqualValues(t, 42, ev.Metadata["accepted"])
}

func TestRecordOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)
	require.NoError(t, l.Record(EventRun, "2026-01", "run_started", "", nil))
	require.NoError(t, l.Record(EventRun, "2026-01", "run_finished", "", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestNopDiscards(t *testing.T) {
	assert.NoError(t, Nop().Record(EventWarning, "2026-01", "x", "", nil))
}
