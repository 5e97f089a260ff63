package logger

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// LogBufferWriter is an io.Writer that writes to the log buffer.
// It extracts the peer and level from lines of the form
// "[peer] [LEVEL] message"; both parts are optional.
type LogBufferWriter struct {
	buffer *LogBuffer
	buf    bytes.Buffer
	mu     sync.Mutex
}

var (
	peerRegex  = regexp.MustCompile(`^\[([^\]]+)\]\s*(.*)$`)
	levelRegex = regexp.MustCompile(`^\[(DEBUG|INFO|WARN|ERROR)\]\s*(.*)$`)
)

// NewLogBufferWriter creates a new writer that writes to the log buffer
func NewLogBufferWriter(buffer *LogBuffer) *LogBufferWriter {
	return &LogBufferWriter{
		buffer: buffer,
	}
}

// Write implements io.Writer
func (lw *LogBufferWriter) Write(p []byte) (n int, err error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	// Buffer until we get a newline
	lw.buf.Write(p)

	for {
		line, err := lw.buf.ReadString('\n')
		if err == io.EOF {
			// keep the partial line for the next Write
			lw.buf.WriteString(line)
			break
		}
		if err != nil {
			return len(p), err
		}

		line = strings.TrimSuffix(line, "\n")
		if len(line) == 0 {
			continue
		}
		lw.buffer.AddEntry(parseLine(line))
	}

	return len(p), nil
}

func parseLine(line string) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now(),
		PeerID:    "system",
		Level:     LevelInfo,
		Message:   line,
	}

	if m := levelRegex.FindStringSubmatch(entry.Message); len(m) == 3 {
		entry.Level, _ = ParseLevel(m[1])
		entry.Message = m[2]
		return entry
	}
	if m := peerRegex.FindStringSubmatch(entry.Message); len(m) == 3 {
		entry.PeerID = m[1]
		entry.Message = m[2]
	}
	if m := levelRegex.FindStringSubmatch(entry.Message); len(m) == 3 {
		entry.Level, _ = ParseLevel(m[1])
		entry.Message = m[2]
	}
	return entry
}
