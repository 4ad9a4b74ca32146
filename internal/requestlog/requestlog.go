// Package requestlog appends one human-readable line per proxied request
// and response to requests.log, the quick grep-able record next to the
// structured JSON logs.
package requestlog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "2006-01-02 15:04:05"

// Logger serializes line writes. The zero-value-like NewDiscard logger
// swallows everything, which keeps tests and memory-only runs simple.
type Logger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// New returns a Logger writing to path with size-based rotation.
func New(path string) *Logger {
	return &Logger{
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		},
	}
}

// NewDiscard returns a Logger that drops all lines.
func NewDiscard() *Logger {
	return &Logger{}
}

// Request logs an incoming proxied request.
func (l *Logger) Request(method, url, userAgent string) {
	l.line(fmt.Sprintf("REQ %s %s UA:%s", method, url, userAgent))
}

// Response logs the upstream outcome for a proxied request.
func (l *Logger) Response(method, url string, status int, contentType string) {
	l.line(fmt.Sprintf("RES %s %s -> %d (%s)", method, url, status, contentType))
}

func (l *Logger) line(msg string) {
	if l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%s] %s\n", time.Now().Format(timeLayout), msg)
}

func (l *Logger) Close() error {
	if l.w == nil {
		return nil
	}
	return l.w.Close()
}
