package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

type Server struct {
	Port          int
	URL           string
	ICEServer     string
	RoomTTL       time.Duration
	SweepInterval time.Duration
	// RelayRate caps signaling frames per second on one relay socket.
	RelayRate float64
	Logging
}

// LoadServer reads the relay server settings. args excludes the program name.
func LoadServer(args []string) (Server, error) {
	return loadServer(newEnviron(), args)
}

func loadServer(env *environ, args []string) (Server, error) {
	var c Server
	fl := flag.NewFlagSet("server", flag.ContinueOnError)
	fl.IntVar(&c.Port, "port", env.number("PORT", 9876), "port to listen on")
	fl.StringVar(&c.URL, "url", env.str("URL", "localhost"), "public host name of the server")
	fl.StringVar(&c.ICEServer, "ice-server", env.str("ICE_SERVER", "stun:stun.l.google.com:19302"), "ICE server offered to peers")
	fl.DurationVar(&c.RoomTTL, "room-ttl", env.duration("ROOM_TTL", 2*time.Minute), "idle time before a room is reclaimed")
	fl.DurationVar(&c.SweepInterval, "sweep-interval", env.duration("SWEEP_INTERVAL", 30*time.Second), "how often idle rooms are swept")
	fl.Float64Var(&c.RelayRate, "relay-rate", env.decimal("RELAY_RATE", 50), "signaling frames per second per socket")
	c.Logging.bind(fl, env)

	if err := multierr.Append(env.err, fl.Parse(args)); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c Server) Validate() error {
	var err error
	if c.Port <= 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.URL == "" {
		err = multierr.Append(err, errors.New("url must not be empty"))
	}
	if c.RoomTTL <= 0 {
		err = multierr.Append(err, errors.New("room ttl must be positive"))
	}
	if c.SweepInterval <= 0 {
		err = multierr.Append(err, errors.New("sweep interval must be positive"))
	}
	if c.RelayRate <= 0 {
		err = multierr.Append(err, errors.New("relay rate must be positive"))
	}
	return multierr.Append(err, c.Logging.validate())
}

func (c Server) Addr() string { return ":" + strconv.Itoa(c.Port) }

// SignalingHost is the websocket base clients dial. Only localhost is served
// without TLS.
func (c Server) SignalingHost() string {
	if c.URL == "localhost" {
		return fmt.Sprintf("ws://%s:%d", c.URL, c.Port)
	}
	return "wss://" + c.URL
}
