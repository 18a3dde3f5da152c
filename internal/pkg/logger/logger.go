package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string to a Level. Unknown values yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured JSON logging with optional PII redaction.
// A Logger derived with With shares its parent's output and settings.
type Logger struct {
	core   *core
	fields []interface{}
}

type core struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
	out       io.Writer
	now       func() time.Time
}

// New creates a logger writing JSON lines to out.
func New(out io.Writer, level Level, redactPII bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{core: &core{level: level, redactPII: redactPII, out: out, now: time.Now}}
}

var defaultLogger = New(os.Stderr, INFO, true)

// Default returns the process-wide logger used by the package-level helpers.
func Default() *Logger { return defaultLogger }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.core.mu.Lock()
	defaultLogger.core.level = l
	defaultLogger.core.mu.Unlock()
}

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.core.mu.Lock()
	defaultLogger.core.redactPII = r
	defaultLogger.core.mu.Unlock()
}

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.core.mu.Lock()
	defaultLogger.core.out = w
	defaultLogger.core.mu.Unlock()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

// With returns a child logger that adds the given key-value pairs to every
// entry. Typical use is a component tag: logger.With("component", "sweep").
func (l *Logger) With(fields ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{core: l.core, fields: merged}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(INFO, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WARN, msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	c := l.core
	c.mu.Lock()
	defer c.mu.Unlock()
	if level < c.level {
		return
	}

	entry := map[string]interface{}{
		"time":  c.now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	all := fields
	if len(l.fields) > 0 {
		all = append(append([]interface{}{}, l.fields...), fields...)
	}

	// Parse key-value pairs from fields
	for i := 0; i < len(all)-1; i += 2 {
		key := fmt.Sprintf("%v", all[i])
		var val string
		if err, ok := all[i+1].(error); ok && err != nil {
			val = err.Error()
		} else {
			val = fmt.Sprintf("%v", all[i+1])
		}
		if c.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	fmt.Fprintln(c.out, string(data))
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || key == "to" || key == "recipient" {
		return RedactEmail(val)
	}
	// Redact any embedded emails in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
