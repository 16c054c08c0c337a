package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/world"
	"go.uber.org/multierr"
)

type Host struct {
	Server      string
	PlayerLimit int
	Storage     string
	// DatabaseURL selects the SQL store over files in Storage.
	DatabaseURL      string
	WorldSeed        int64
	WorldSize        int
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	HostName         string
	// MetricsAddr serves /metrics when set.
	MetricsAddr string
	Logging

	// File names the world in storage.
	File string
	// CopyFrom is a game URL to copy the world from before hosting.
	CopyFrom string
}

// LoadHost reads the host settings. Positional arguments are [file] [url].
func LoadHost(args []string) (Host, error) {
	return loadHost(newEnviron(), args)
}

func loadHost(env *environ, args []string) (Host, error) {
	var c Host
	fl := flag.NewFlagSet("host", flag.ContinueOnError)
	fl.StringVar(&c.Server, "server", env.str("SERVER", "http://localhost:9876"), "address of the server used to find peers")
	fl.IntVar(&c.PlayerLimit, "player-limit", env.number("PLAYER_LIMIT", 10), "maximum number of players at a time")
	fl.StringVar(&c.Storage, "storage", env.str("STORAGE", "./worlds"), "directory to store world data in")
	fl.StringVar(&c.DatabaseURL, "database-url", env.str("DATABASE_URL", ""), "postgres DSN; stores worlds in SQL instead of files")
	fl.Int64Var(&c.WorldSeed, "seed", env.number64("WORLD_SEED", time.Now().UnixNano()), "seed for a new world")
	fl.IntVar(&c.WorldSize, "size", env.number("WORLD_SIZE", 128), "edge length of a new world")
	fl.DurationVar(&c.TickInterval, "tick", env.duration("TICK_INTERVAL", 50*time.Millisecond), "player state broadcast interval")
	fl.DurationVar(&c.AutosaveInterval, "autosave", env.duration("AUTOSAVE_INTERVAL", 30*time.Second), "autosave interval, 0 disables")
	fl.StringVar(&c.HostName, "name", env.str("HOST_NAME", "host"), "name shown to players")
	fl.StringVar(&c.MetricsAddr, "metrics-addr", env.str("METRICS_ADDR", "localhost:9877"), "address serving /metrics, empty disables")
	c.Logging.bind(fl, env)

	if err := multierr.Append(env.err, fl.Parse(args)); err != nil {
		return c, err
	}
	c.File = "world"
	switch rest := fl.Args(); len(rest) {
	case 2:
		c.CopyFrom = rest[1]
		fallthrough
	case 1:
		c.File = rest[0]
	case 0:
	default:
		return c, fmt.Errorf("unexpected arguments %v", rest[2:])
	}
	return c, c.Validate()
}

func (c Host) Validate() error {
	var err error
	if u, perr := url.Parse(c.Server); perr != nil || u.Host == "" {
		err = multierr.Append(err, fmt.Errorf("invalid server address %q", c.Server))
	}
	if c.PlayerLimit < 0 {
		err = multierr.Append(err, errors.New("player limit must not be negative"))
	}
	if c.DatabaseURL == "" && c.Storage == "" {
		err = multierr.Append(err, errors.New("storage directory must not be empty"))
	}
	if c.WorldSize <= 0 || c.WorldSize > world.MaxSize {
		err = multierr.Append(err, fmt.Errorf("world size must be between 1 and %d", world.MaxSize))
	}
	if c.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("tick interval must be positive"))
	}
	if c.AutosaveInterval < 0 {
		err = multierr.Append(err, errors.New("autosave interval must not be negative"))
	}
	if c.File == "" {
		err = multierr.Append(err, errors.New("world file name must not be empty"))
	}
	return multierr.Append(err, c.Logging.validate())
}
