package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/tabletopforge/realtime/client"
	"github.com/tabletopforge/realtime/logger"
)

// Config carries the server settings. Every field has a TABLETOP_* environment
// variable and most have a matching cobra flag; flags win over the environment.
type Config struct {
	// Addr is the listen address for the websocket endpoint.
	Addr string

	// RedisURL, when set, enables cross-node broadcast mirroring.
	RedisURL string

	// SQLitePath is the entity database file. Empty means in-memory storage.
	SQLitePath string

	// CacheDuration is advertised to clients as the collection staleness window.
	CacheDuration time.Duration

	// CommandTimeout bounds how long a single command may run server side.
	CommandTimeout time.Duration

	LogLevel  logger.LogLevel
	LogFormat string
}

const (
	DefaultAddr           = ":8787"
	DefaultCommandTimeout = 10 * time.Second
)

// FromEnv builds a Config from TABLETOP_* environment variables, falling back
// to defaults for anything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:           getenv("TABLETOP_ADDR", DefaultAddr),
		RedisURL:       os.Getenv("TABLETOP_REDIS_URL"),
		SQLitePath:     os.Getenv("TABLETOP_SQLITE_PATH"),
		CacheDuration:  client.DefaultCacheDuration,
		CommandTimeout: DefaultCommandTimeout,
		LogLevel:       logger.GetLevelFromEnv(),
		LogFormat:      getenv("TABLETOP_LOG_FORMAT", "console"),
	}
	if v := os.Getenv("TABLETOP_CACHE_DURATION"); v != "" {
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TABLETOP_CACHE_DURATION: %w", err)
		}
		cfg.CacheDuration = d
	}
	if v := os.Getenv("TABLETOP_COMMAND_TIMEOUT"); v != "" {
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TABLETOP_COMMAND_TIMEOUT: %w", err)
		}
		cfg.CommandTimeout = d
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return nil, fmt.Errorf("invalid TABLETOP_LOG_FORMAT: %q", cfg.LogFormat)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// FlagOrEnv returns the cobra flag value if set, otherwise the environment
// variable, otherwise the default.
func FlagOrEnv(cmd *cobra.Command, flagName, envName, defaultValue string) string {
	if v, _ := cmd.Flags().GetString(flagName); v != "" {
		return v
	}
	if v, ok := os.LookupEnv(envName); ok {
		return v
	}
	return defaultValue
}

// NewLogger builds the process logger from the resolved format and level.
func NewLogger(format string, level logger.LogLevel) logger.Logger {
	if format == "json" {
		return logger.NewJSONLogger(os.Stdout, level)
	}
	return logger.NewConsoleLogger(level)
}

// Line is one key/value pair from an environment file.
type Line struct {
	Key string
	Val string
}

// LoadEnvFile reads a dotenv-style file and sets every variable that is not
// already present in the process environment. A missing file is not an error.
func LoadEnvFile(filename string) error {
	lines, err := ParseEnvFile(filename)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, ok := os.LookupEnv(line.Key); !ok {
			if err := os.Setenv(line.Key, line.Val); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParseEnvFile parses an environment file and returns its lines in order.
func ParseEnvFile(filename string) ([]Line, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []Line{}, nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseEnvBuffer(buf)
}

// ParseEnvBuffer parses dotenv content. Blank lines and # comments are
// skipped, values may be single or double quoted, and ${VAR} or
// ${VAR:-default} references resolve against earlier lines in the same file.
func ParseEnvBuffer(buf []byte) ([]Line, error) {
	var lines []Line
	resolved := make(map[string]string)
	for _, raw := range strings.Split(string(buf), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		key, val, found := strings.Cut(raw, "=")
		if !found || key == "" {
			continue
		}
		val = interpolate(dequote(val), resolved)
		resolved[key] = val
		lines = append(lines, Line{Key: key, Val: val})
	}
	return lines, nil
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// interpolate expands ${VAR} and ${VAR:-default} references. Unknown
// variables without a default keep the literal reference so a later tool can
// still see what was intended.
func interpolate(input string, vars map[string]string) string {
	var out strings.Builder
	for {
		start := strings.Index(input, "${")
		if start == -1 {
			out.WriteString(input)
			return out.String()
		}
		end := strings.Index(input[start:], "}")
		if end == -1 {
			out.WriteString(input)
			return out.String()
		}
		end += start
		out.WriteString(input[:start])
		name, def, hasDefault := strings.Cut(input[start+2:end], ":-")
		if val, ok := vars[name]; ok && val != "" {
			out.WriteString(val)
		} else if hasDefault {
			out.WriteString(def)
		} else {
			out.WriteString(input[start : end+1])
		}
		input = input[end+1:]
	}
}
