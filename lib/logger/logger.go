// Package logger implements a standardized, level-based logger with
// pluggable callback handlers, shared by every package in this module.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelVerbose
	LevelInfo
	LevelOK
	LevelWarn
	LevelFatal
	numLevels
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelVerbose:
		return "VERBOSE"
	case LevelInfo:
		return "INFO"
	case LevelOK:
		return "OK"
	case LevelWarn:
		return "WARNING"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Handler is called with the log level and fully-formatted message text
// for every log call at or above the level it was registered for.
type Handler func(l Level, msg string)

// Logger is a leveled logger. The zero value is not usable; use New.
type Logger struct {
	out      *log.Logger
	handlers [numLevels][]Handler
	mut      sync.Mutex
}

// DefaultLogger logs to stdout with a time prefix and is shared by every
// package that does not construct its own Logger.
var DefaultLogger = New(os.Stdout)

// New creates a Logger writing to w. Set UPNPSDK_LOG_DISCARD to silence it
// entirely, e.g. while benchmarking.
func New(w io.Writer) *Logger {
	if os.Getenv("UPNPSDK_LOG_DISCARD") != "" {
		return &Logger{out: log.New(io.Discard, "", 0)}
	}
	return &Logger{out: log.New(w, "", log.Ltime)}
}

// AddHandler registers h to receive every message logged at level or above.
func (l *Logger) AddHandler(level Level, h Handler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

func (l *Logger) emit(level Level, s string) {
	l.out.Output(3, level.String()+": "+s)
	for lv := LevelDebug; lv <= level; lv++ {
		for _, h := range l.handlers[lv] {
			h(level, strings.TrimSpace(s))
		}
	}
}

func (l *Logger) Debugln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelDebug, fmt.Sprintln(vals...))
}

func (l *Logger) Debugf(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelDebug, fmt.Sprintf(format, vals...))
}

func (l *Logger) Verboseln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelVerbose, fmt.Sprintln(vals...))
}

func (l *Logger) Verbosef(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelVerbose, fmt.Sprintf(format, vals...))
}

func (l *Logger) Infoln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelInfo, fmt.Sprintln(vals...))
}

func (l *Logger) Infof(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelInfo, fmt.Sprintf(format, vals...))
}

func (l *Logger) Okln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelOK, fmt.Sprintln(vals...))
}

func (l *Logger) Warnln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelWarn, fmt.Sprintln(vals...))
}

func (l *Logger) Warnf(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.emit(LevelWarn, fmt.Sprintf(format, vals...))
}

// Fatalln logs at FATAL and terminates the process. Used only for the
// parser's hard-assertion failures described in spec.md §7: malformed
// internal state, not bad input.
func (l *Logger) Fatalln(vals ...interface{}) {
	l.mut.Lock()
	s := fmt.Sprintln(vals...)
	l.emit(LevelFatal, s)
	l.mut.Unlock()
	os.Exit(1)
}
