package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// JSONLogEntry is one structured log line as emitted by the JSON logger.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type jsonLogger struct {
	out       io.Writer
	component string
	metadata  map[string]interface{}
	logLevel  LogLevel
	now       func() time.Time // overridable for tests
}

var _ Logger = (*jsonLogger)(nil)

func (c *jsonLogger) clone() *jsonLogger {
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &jsonLogger{out: c.out, component: c.component, metadata: metadata, logLevel: c.logLevel, now: c.now}
}

func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	if clone.component == "" {
		clone.component = prefix
	} else if !strings.Contains(clone.component, prefix) {
		clone.component += " " + prefix
	}
	return clone
}

func (c *jsonLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	if comp, ok := clone.metadata["component"].(string); ok {
		clone.component = comp
		delete(clone.metadata, "component")
	}
	return clone
}

func (c *jsonLogger) logAt(level LogLevel, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	entry := JSONLogEntry{
		Timestamp: c.now(),
		Severity:  level.String(),
		Message:   fmt.Sprintf(msg, args...),
		Component: c.component,
	}
	if len(c.metadata) > 0 {
		entry.Metadata = c.metadata
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: json.Marshal: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, string(buf))
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) {
	c.logAt(LevelTrace, msg, args...)
}

func (c *jsonLogger) Debug(msg string, args ...interface{}) {
	c.logAt(LevelDebug, msg, args...)
}

func (c *jsonLogger) Info(msg string, args ...interface{}) {
	c.logAt(LevelInfo, msg, args...)
}

func (c *jsonLogger) Warn(msg string, args ...interface{}) {
	c.logAt(LevelWarn, msg, args...)
}

func (c *jsonLogger) Error(msg string, args ...interface{}) {
	c.logAt(LevelError, msg, args...)
}

// NewJSONLogger returns a Logger which writes one JSON object per line to
// out, suitable for log aggregation in deployment.
func NewJSONLogger(out io.Writer, levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	if out == nil {
		out = os.Stdout
	}
	return &jsonLogger{out: out, metadata: map[string]interface{}{}, logLevel: level, now: time.Now}
}
