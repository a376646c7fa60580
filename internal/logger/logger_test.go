package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, opts Options) *Logger {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "events.jsonl")
	}
	l, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event), "line must be valid JSON: %s", scanner.Text())
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestLogEventEnrichesTimestamps(t *testing.T) {
	l := newTestLogger(t, Options{})
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.LogEvent(Event{"type": "thread.started", "thread_id": "abc"}))

	events := readLines(t, l.Path())
	require.Len(t, events, 1)
	assert.Equal(t, "thread.started", events[0]["type"])
	assert.Equal(t, "2026-03-14T09:26:53Z", events[0]["timestamp"])
	assert.Equal(t, float64(fixed.UnixMilli()), events[0]["timestamp_ms"])
}

func TestLogEventKeepsExistingTimestamps(t *testing.T) {
	l := newTestLogger(t, Options{})

	require.NoError(t, l.LogEvent(Event{
		"type":         "error",
		"timestamp":    "2020-01-01T00:00:00Z",
		"timestamp_ms": int64(1577836800000),
	}))

	events := readLines(t, l.Path())
	require.Len(t, events, 1)
	assert.Equal(t, "2020-01-01T00:00:00Z", events[0]["timestamp"])
	assert.Equal(t, float64(1577836800000), events[0]["timestamp_ms"])
}

func TestStreamSinkMirrorsFile(t *testing.T) {
	var stream bytes.Buffer
	l := newTestLogger(t, Options{Stream: &stream})

	require.NoError(t, l.LogEvent(Event{"type": "turn.started", "prompt": "hi"}))
	require.NoError(t, l.LogEvent(Event{"type": "turn.completed"}))

	fileEvents := readLines(t, l.Path())
	require.Len(t, fileEvents, 2)

	var streamed []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(stream.Bytes()), []byte("\n")) {
		var event map[string]any
		require.NoError(t, json.Unmarshal(line, &event))
		streamed = append(streamed, event)
	}
	assert.Equal(t, fileEvents, streamed)
}

func TestEmitBuffer(t *testing.T) {
	l := newTestLogger(t, Options{Buffered: true})

	require.NoError(t, l.LogEvent(Event{"type": "turn.started"}))
	require.NoError(t, l.LogEvent(Event{"type": "turn.completed"}))

	var out bytes.Buffer
	require.NoError(t, l.EmitBuffer(&out))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	for _, line := range lines {
		var event map[string]any
		require.NoError(t, json.Unmarshal(line, &event))
		assert.Contains(t, event, "timestamp")
		assert.Contains(t, event, "timestamp_ms")
	}
}

func TestEmitBufferEmptyWhenNotBuffered(t *testing.T) {
	l := newTestLogger(t, Options{})
	require.NoError(t, l.LogEvent(Event{"type": "error"}))

	var out bytes.Buffer
	require.NoError(t, l.EmitBuffer(&out))
	assert.Zero(t, out.Len())
}
