// Package logger writes the run's JSONL event stream. A logger fans a
// single event out to up to three sinks: the log file, stdout (stream
// mode), and an in-memory buffer emitted at the end of the run (json
// mode). Events are enriched with timestamps before the first write so
// every sink sees identical lines.
package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Event is one log entry. Payload shapes vary per event type, so
// entries stay schemaless maps all the way to the sink.
type Event = map[string]any

// Logger fans events out to the configured sinks.
type Logger struct {
	file     *os.File
	fileW    *bufio.Writer
	stream   io.Writer
	buffer   []Event
	buffered bool
	now      func() time.Time
}

// Options selects the sinks for a run.
type Options struct {
	// Path is the JSONL log file. Parent directories are created.
	Path string
	// Stream mirrors every event to this writer as it happens.
	// Typically os.Stdout, nil to disable.
	Stream io.Writer
	// Buffered retains events in memory for EmitBuffer.
	Buffered bool
}

// New opens the log file and returns a ready logger.
func New(opts Options) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{
		file:     f,
		fileW:    bufio.NewWriter(f),
		stream:   opts.Stream,
		buffered: opts.Buffered,
		now:      time.Now,
	}, nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.file.Name()
}

// LogEvent enriches the event with timestamp and timestamp_ms when
// absent, then writes one JSON line to every sink. The file sink is
// flushed per event so a crash loses at most the line being written.
func (l *Logger) LogEvent(event Event) error {
	now := l.now().UTC()
	if _, ok := event["timestamp"]; !ok {
		event["timestamp"] = now.Format(time.RFC3339)
	}
	if _, ok := event["timestamp_ms"]; !ok {
		event["timestamp_ms"] = now.UnixMilli()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := l.fileW.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := l.fileW.Flush(); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}

	if l.stream != nil {
		fmt.Fprintf(l.stream, "%s\n", line)
	}
	if l.buffered {
		l.buffer = append(l.buffer, event)
	}
	return nil
}

// EmitBuffer writes all buffered events to w as JSONL. Used by json
// mode to print the full event stream once the run is over.
func (l *Logger) EmitBuffer(w io.Writer) error {
	for _, event := range l.buffer {
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal buffered event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the file sink.
func (l *Logger) Close() error {
	if err := l.fileW.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
