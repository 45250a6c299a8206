package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type LogOptions struct {
	// Color enables ANSI colour codes. Disable for non-terminal output.
	Color bool
	// Verbose enables debug lines.
	Verbose bool
}

type colorLogger struct {
	label string
	out   io.Writer
	opts  LogOptions
	mu    sync.Mutex
}

func NewColorLogger(label string, out io.Writer, opts LogOptions) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &colorLogger{label: label, out: out, opts: opts}
}

// NopLogger discards everything. Tests use it.
func NopLogger() Logger {
	return NewColorLogger("", io.Discard, LogOptions{})
}

func (l *colorLogger) logf(level, format string, args ...interface{}) {
	if level == "debug" && !l.opts.Verbose {
		return
	}

	labelToUse := l.label
	if len(labelToUse) < 8 {
		labelToUse = fmt.Sprintf("%-8s", labelToUse)
	}
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	stamp := time.Now().Format("15:04:05")

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.opts.Color {
		fmt.Fprintf(l.out, "%s %s %-7s %s\n", stamp, labelToUse, level, msg)
		return
	}

	colorCode := ""
	switch level {
	case "debug":
		colorCode = "\033[90m" // Grey
	case "info":
		colorCode = "\033[36m" // Light blue
	case "warning":
		colorCode = "\033[33m" // Yellow
	case "error":
		colorCode = "\033[31m" // Red
	}
	fmt.Fprintf(l.out, "%s %s %s%s\033[0m\n", stamp, labelToUse, colorCode, msg)
}

func (l *colorLogger) Debugf(format string, args ...interface{}) {
	l.logf("debug", format, args...)
}

func (l *colorLogger) Infof(format string, args ...interface{}) {
	l.logf("info", format, args...)
}

func (l *colorLogger) Warningf(format string, args ...interface{}) {
	l.logf("warning", format, args...)
}

func (l *colorLogger) Errorf(format string, args ...interface{}) {
	l.logf("error", format, args...)
}
