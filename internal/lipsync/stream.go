package lipsync

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// maxCapture bounds how much of each stream is kept in memory. The most
	// recent output is kept, so a failing run's final traceback survives a
	// long progress log.
	maxCapture = 1 << 20

	// maxLine bounds an unterminated line. Longer runs are logged in pieces.
	maxLine = 64 << 10
)

// lineLogger is an io.Writer that logs each line of a subprocess stream at
// debug level and keeps the last maxCapture bytes. Lines end at \n or \r so
// progress bars that redraw with \r still log.
type lineLogger struct {
	stream string
	pid    func() int

	mu       sync.Mutex
	captured []byte
	dropped  int
	partial  []byte
}

func newLineLogger(stream string, pid func() int) *lineLogger {
	return &lineLogger{stream: stream, pid: pid}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.captured = append(l.captured, p...)
	if over := len(l.captured) - maxCapture; over > 0 {
		l.captured = append(l.captured[:0], l.captured[over:]...)
		l.dropped += over
	}

	for _, b := range p {
		if b == '\n' || b == '\r' {
			if len(l.partial) > 0 {
				l.emit(l.partial)
				l.partial = l.partial[:0]
			}
			continue
		}
		l.partial = append(l.partial, b)
		if len(l.partial) >= maxLine {
			l.emit(l.partial)
			l.partial = l.partial[:0]
		}
	}
	return len(p), nil
}

// flush logs a trailing line without a terminator.
func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.partial) > 0 {
		l.emit(l.partial)
		l.partial = nil
	}
}

// String returns the captured output.
func (l *lineLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.captured)
}

// Dropped is the number of leading bytes discarded to stay within maxCapture.
func (l *lineLogger) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *lineLogger) emit(line []byte) {
	log.Debug().Str("stream", l.stream).Int("pid", l.pid()).Msg(string(line))
}
