// Package log provides a small leveled logger in the style of the
// homegrown logging layer rclone keeps over the standard log package
// rather than pulling in a structured logging library.
package log

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// LogLevel describes the severity of a log message.
type LogLevel int32

// Log levels, most severe first, matching the teacher's EMERGENCY..DEBUG ladder.
const (
	LogLevelEmergency LogLevel = iota
	LogLevelAlert
	LogLevelCritical
	LogLevelError
	LogLevelWarning
	LogLevelNotice
	LogLevelInfo
	LogLevelDebug
)

var logLevelToString = map[LogLevel]string{
	LogLevelEmergency: "EMERGENCY",
	LogLevelAlert:     "ALERT",
	LogLevelCritical:  "CRITICAL",
	LogLevelError:     "ERROR",
	LogLevelWarning:   "WARNING",
	LogLevelNotice:    "NOTICE",
	LogLevelInfo:      "INFO",
	LogLevelDebug:     "DEBUG",
}

var stringToLogLevel = func() map[string]LogLevel {
	m := make(map[string]LogLevel, len(logLevelToString))
	for k, v := range logLevelToString {
		m[v] = k
	}
	return m
}()

// String turns a LogLevel into a human-readable string.
func (l LogLevel) String() string {
	s, ok := logLevelToString[l]
	if !ok {
		return fmt.Sprintf("Unknown(%d)", int32(l))
	}
	return s
}

// Set a LogLevel from a string, so it can be used as a pflag.Value.
func (l *LogLevel) Set(s string) error {
	level, ok := stringToLogLevel[strings.ToUpper(s)]
	if !ok {
		return fmt.Errorf("unknown log level %q", s)
	}
	*l = level
	return nil
}

// Type returns the flag type name, satisfying pflag.Value.
func (l LogLevel) Type() string {
	return "LogLevel"
}

// current holds the process-wide log level, adjusted by -v/-q.
var current int32 = int32(LogLevelNotice)

// SetLevel sets the process-wide log level.
func SetLevel(l LogLevel) {
	atomic.StoreInt32(&current, int32(l))
}

// Level returns the current process-wide log level.
func Level() LogLevel {
	return LogLevel(atomic.LoadInt32(&current))
}

func logf(level LogLevel, format string, args ...interface{}) {
	if level > Level() {
		return
	}
	prefix := logLevelToString[level]
	if prefix == "" {
		prefix = strconv.Itoa(int(level))
	}
	log.Printf(prefix+": "+format, args...)
}

// Debugf logs a debug-level message.
func Debugf(format string, args ...interface{}) { logf(LogLevelDebug, format, args...) }

// Infof logs an info-level message.
func Infof(format string, args ...interface{}) { logf(LogLevelInfo, format, args...) }

// Noticef logs a notice-level message, the default visible level.
func Noticef(format string, args ...interface{}) { logf(LogLevelNotice, format, args...) }

// Errorf logs an error-level message.
func Errorf(format string, args ...interface{}) { logf(LogLevelError, format, args...) }

// Fatalf logs an error-level message then exits with status 1.
func Fatalf(format string, args ...interface{}) {
	logf(LogLevelError, format, args...)
	os.Exit(1)
}
