package store

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"
)

// JobLog buffers line-oriented output for a single attempt's log file,
// flushing on a timer or explicit Flush/Close (spec.md §6.2: "buffered
// appends flushed every 100 ms or on shutdown"). Section markers frame each
// phase's output so a human tailing the file can find a phase's boundaries.
type JobLog struct {
	path string

	mu     sync.Mutex
	buf    bytes.Buffer
	timer  *time.Timer
	period time.Duration
	file   *os.File
}

// NewJobLog opens (creating if necessary) the log file at path, buffering
// writes and flushing every period.
func NewJobLog(path string, period time.Duration) (*JobLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}
	return &JobLog{path: path, period: period, file: f}, nil
}

// SectionStart writes the "========== <PHASE> SECTION START ==========" marker.
func (l *JobLog) SectionStart(phase string) {
	l.Writeln(fmt.Sprintf("========== %s SECTION START ==========", phase))
}

// SectionEnd writes the matching SECTION END marker.
func (l *JobLog) SectionEnd(phase string) {
	l.Writeln(fmt.Sprintf("========== %s SECTION END ==========", phase))
}

// Writeln appends one timestamped line with an empty phase tag (see
// WritelnPhase).
func (l *JobLog) Writeln(line string) {
	l.WritelnPhase("", line)
}

// WritelnPhase appends one line tagged with phase, formatted per spec.md
// §6.2: "[<ISO-8601 timestamp>] [<phase>] <content>".
func (l *JobLog) WritelnPhase(phase, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(&l.buf, "[%s] [%s] %s\n", time.Now().UTC().Format(time.RFC3339Nano), phase, content)
	if l.timer == nil {
		l.timer = time.AfterFunc(l.period, l.flushAsync)
	}
}

func (l *JobLog) flushAsync() {
	_ = l.Flush()
}

// Flush synchronously writes any buffered content to disk.
func (l *JobLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.buf.Len() == 0 {
		return nil
	}
	_, err := l.file.Write(l.buf.Bytes())
	l.buf.Reset()
	return err
}

// Close flushes and closes the underlying file.
func (l *JobLog) Close() error {
	if err := l.Flush(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
