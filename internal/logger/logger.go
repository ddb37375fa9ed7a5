package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Logger is the logging interface shared by every package.
type Logger interface {
	Printf(format string, v ...any)
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
	// WithPrefix returns a Logger writing to the same destination with every
	// line prefixed by prefix.
	WithPrefix(prefix string) Logger
}

const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func levelPrefix(level int) string {
	return [...]string{"ERROR: ", "WARN:  ", "INFO:  ", "DEBUG: "}[level]
}

// ParseLevel maps a level name to its constant. Unknown names mean info.
func ParseLevel(name string) int {
	switch strings.ToLower(name) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	}
	return LevelInfo
}

var _ Logger = nopLogger{}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any)       {}
func (nopLogger) Debugf(string, ...any)       {}
func (nopLogger) Infof(string, ...any)        {}
func (nopLogger) Warnf(string, ...any)        {}
func (nopLogger) Errorf(string, ...any)       {}
func (n nopLogger) WithPrefix(string) Logger { return n }

// StderrLogger logs at info level to standard error.
var StderrLogger Logger = NewStandardLogger(os.Stderr, LevelInfo)

type standardLogger struct {
	logger    *log.Logger
	verbosity int
	prefix    string
	w         io.Writer
}

// utcWriter stamps every line in UTC with microsecond resolution.
type utcWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (u utcWriter) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return fmt.Fprintf(u.w, "%s %s", time.Now().UTC().Format(timeFormat), p)
}

// NewStandardLogger returns a Logger over the standard library log package
// writing lines at or below verbosity to w.
func NewStandardLogger(w io.Writer, verbosity int) Logger {
	return newStandardLogger(w, verbosity, "", &sync.Mutex{})
}

func newStandardLogger(w io.Writer, verbosity int, prefix string, mu *sync.Mutex) *standardLogger {
	return &standardLogger{
		logger:    log.New(utcWriter{mu: mu, w: w}, prefix, 0),
		verbosity: verbosity,
		prefix:    prefix,
		w:         w,
	}
}

func (s *standardLogger) printf(level int, format string, v ...any) {
	if level > s.verbosity {
		return
	}
	s.logger.Printf(levelPrefix(level)+format, v...)
}

func (s *standardLogger) Printf(format string, v ...any) { s.printf(LevelInfo, format, v...) }
func (s *standardLogger) Debugf(format string, v ...any) { s.printf(LevelDebug, format, v...) }
func (s *standardLogger) Infof(format string, v ...any)  { s.printf(LevelInfo, format, v...) }
func (s *standardLogger) Warnf(format string, v ...any)  { s.printf(LevelWarn, format, v...) }
func (s *standardLogger) Errorf(format string, v ...any) { s.printf(LevelError, format, v...) }

func (s *standardLogger) WithPrefix(prefix string) Logger {
	w := s.logger.Writer().(utcWriter)
	return newStandardLogger(s.w, s.verbosity, s.prefix+prefix, w.mu)
}

// Logfer is anything with a Logf method, such as *testing.T.
type Logfer interface {
	Logf(format string, v ...any)
}

// NewLogfLogger adapts a Logfer, typically a test, into a Logger.
func NewLogfLogger(l Logfer) Logger { return &logfLogger{wrapped: l} }

type logfLogger struct {
	wrapped Logfer
	prefix  string
}

func (l *logfLogger) Printf(format string, v ...any) { l.wrapped.Logf(l.prefix+format, v...) }
func (l *logfLogger) Debugf(format string, v ...any) { l.wrapped.Logf(l.prefix+format, v...) }
func (l *logfLogger) Infof(format string, v ...any)  { l.wrapped.Logf(l.prefix+format, v...) }
func (l *logfLogger) Warnf(format string, v ...any)  { l.wrapped.Logf(l.prefix+format, v...) }
func (l *logfLogger) Errorf(format string, v ...any) { l.wrapped.Logf(l.prefix+format, v...) }

func (l *logfLogger) WithPrefix(prefix string) Logger {
	return &logfLogger{wrapped: l.wrapped, prefix: l.prefix + prefix}
}

// BufferLogger records lines in memory. Tests use it to assert on logs.
type BufferLogger struct {
	mu    sync.Mutex
	lines []string
}

func NewBufferLogger() *BufferLogger { return &BufferLogger{} }

func (b *BufferLogger) add(level int, format string, v ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, levelPrefix(level)+fmt.Sprintf(format, v...))
}

func (b *BufferLogger) Printf(format string, v ...any) { b.add(LevelInfo, format, v...) }
func (b *BufferLogger) Debugf(format string, v ...any) { b.add(LevelDebug, format, v...) }
func (b *BufferLogger) Infof(format string, v ...any)  { b.add(LevelInfo, format, v...) }
func (b *BufferLogger) Warnf(format string, v ...any)  { b.add(LevelWarn, format, v...) }
func (b *BufferLogger) Errorf(format string, v ...any) { b.add(LevelError, format, v...) }
func (b *BufferLogger) WithPrefix(string) Logger      { return b }

// Lines returns a copy of the recorded lines.
func (b *BufferLogger) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}
