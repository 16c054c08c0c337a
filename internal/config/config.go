// Package config loads process settings from a .env file, the environment
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// LoadEnv reads .env files into the environment. Variables already set win,
// and missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

type Logging struct {
	Level  string
	Format string
}

func (l *Logging) bind(fl *flag.FlagSet, env *environ) {
	fl.StringVar(&l.Level, "log-level", env.str("LOG_LEVEL", "info"), "debug, info, warn or error")
	fl.StringVar(&l.Format, "log-format", env.str("LOG_FORMAT", "console"), "json or console")
}

func (l Logging) validate() error {
	var err error
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown log level %q", l.Level))
	}
	switch l.Format {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown log format %q", l.Format))
	}
	return err
}

// environ reads typed variables and remembers every one that failed to parse.
type environ struct {
	lookup func(string) (string, bool)
	err    error
}

func newEnviron() *environ { return &environ{lookup: os.LookupEnv} }

func (e *environ) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e *environ) number(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = multierr.Append(e.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *environ) number64(key string, def int64) int64 {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.err = multierr.Append(e.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *environ) decimal(key string, def float64) float64 {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.err = multierr.Append(e.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *environ) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = multierr.Append(e.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
