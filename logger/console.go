package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	reset       = "\033[0m"
	red         = "\033[31m"
	green       = "\033[32m"
	magenta     = "\033[35m"
	gray        = "\033[1;90m"
	blueBold    = "\033[34;1m"
	magentaBold = "\033[35;1m"
	redBold     = "\033[31;1m"
	yellowBold  = "\033[33;1m"
	whiteBold   = "\033[37;1m"
	cyanBold    = "\033[36;1m"
)

var levelColors = map[LogLevel][2]string{
	LevelTrace: {cyanBold, gray},
	LevelDebug: {blueBold, green},
	LevelInfo:  {yellowBold, whiteBold},
	LevelWarn:  {magentaBold, magenta},
	LevelError: {redBold, red},
}

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
}

var _ Logger = (*consoleLogger)(nil)

func (c *consoleLogger) clone() *consoleLogger {
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &consoleLogger{prefixes: prefixes, metadata: metadata, logLevel: c.logLevel}
}

func (c *consoleLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	if !slices.Contains(clone.prefixes, prefix) {
		clone.prefixes = append(clone.prefixes, prefix)
	}
	return clone
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	return clone
}

func (c *consoleLogger) logAt(level LogLevel, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	rendered := fmt.Sprintf(msg, args...)
	var prefix string
	if len(c.prefixes) > 0 {
		prefix = color(magentaBold) + strings.Join(c.prefixes, " ") + color(reset) + " "
	}
	var suffix string
	if len(c.metadata) > 0 {
		if buf, err := json.Marshal(c.metadata); err == nil && string(buf) != "{}" {
			suffix = " " + color(gray) + string(buf) + color(reset)
		}
	}
	colors := levelColors[level]
	levelText := fmt.Sprintf("%s[%s]%s%s", color(colors[0]), level, strings.Repeat(" ", 5-len(level.String())), color(reset))
	log.Printf("%s %s%s%s%s%s\n", levelText, prefix, color(colors[1]), rendered, color(reset), suffix)
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.logAt(LevelTrace, msg, args...)
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.logAt(LevelDebug, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.logAt(LevelInfo, msg, args...)
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.logAt(LevelWarn, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.logAt(LevelError, msg, args...)
}

// NewConsoleLogger returns a Logger which writes human-readable, colorized
// lines to the console. With no explicit level it uses TABLETOP_LOG_LEVEL.
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &consoleLogger{logLevel: level, metadata: map[string]interface{}{}}
}
