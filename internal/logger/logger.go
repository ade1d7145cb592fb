package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string such as "debug" or "WARN" to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// DefaultLogger writes [LEVEL] prefixed lines through the standard log package
type DefaultLogger struct {
	level  atomic.Int32
	logger *log.Logger
}

// NewDefaultLogger creates a logger writing to stdout
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stdout, level)
}

// NewLogger creates a logger writing to w
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	l := &DefaultLogger{logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
	l.level.Store(int32(level))
	return l
}

func (l *DefaultLogger) enabled(level Level) bool {
	return Level(l.level.Load()) <= level
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	if l.enabled(LevelDebug) {
		l.logger.Printf("[DEBUG] "+format, args...)
	}
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	if l.enabled(LevelInfo) {
		l.logger.Printf("[INFO] "+format, args...)
	}
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	if l.enabled(LevelWarn) {
		l.logger.Printf("[WARN] "+format, args...)
	}
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	if l.enabled(LevelError) {
		l.logger.Printf("[ERROR] "+format, args...)
	}
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(format string, args ...interface{}) {}
func (l *NoOpLogger) Info(format string, args ...interface{})  {}
func (l *NoOpLogger) Warn(format string, args ...interface{})  {}
func (l *NoOpLogger) Error(format string, args ...interface{}) {}
func (l *NoOpLogger) SetLevel(level Level)                     {}

// prefixLogger prepends a fixed prefix to every message
type prefixLogger struct {
	prefix string
	next   Logger
}

// WithPrefix returns a Logger that prepends prefix to every message of next
func WithPrefix(next Logger, prefix string) Logger {
	if next == nil {
		next = NewNoOpLogger()
	}
	return &prefixLogger{prefix: prefix + ": ", next: next}
}

func (p *prefixLogger) Debug(format string, args ...interface{}) {
	p.next.Debug(p.prefix+format, args...)
}

func (p *prefixLogger) Info(format string, args ...interface{}) {
	p.next.Info(p.prefix+format, args...)
}

func (p *prefixLogger) Warn(format string, args ...interface{}) {
	p.next.Warn(p.prefix+format, args...)
}

func (p *prefixLogger) Error(format string, args ...interface{}) {
	p.next.Error(p.prefix+format, args...)
}

func (p *prefixLogger) SetLevel(level Level) {
	p.next.SetLevel(level)
}

// Global default logger
var defaultLogger atomic.Value

func init() {
	defaultLogger.Store(loggerBox{NewDefaultLogger(LevelInfo)})
}

type loggerBox struct{ Logger }

// SetDefault sets the default logger
func SetDefault(l Logger) {
	if l == nil {
		l = NewNoOpLogger()
	}
	defaultLogger.Store(loggerBox{l})
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger.Load().(loggerBox).Logger
}

var frameDebug atomic.Bool

// SetFrameDebug enables hex dumps of every link frame sent and received
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebugEnabled reports whether frame hex dumps are enabled
func FrameDebugEnabled() bool {
	return frameDebug.Load()
}

// HexDump formats data as space separated hex bytes
func HexDump(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}
