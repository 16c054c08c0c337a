// Package peer abstracts the direct host<->player transport. A link is
// established by exchanging opaque signal payloads through the relay and is
// unreliable until it reports connect.
package peer

import "errors"

var (
	ErrClosed     = errors.New("peer link closed")
	ErrNotOpen    = errors.New("peer link not open")
	ErrBadSignal  = errors.New("invalid signal payload")
	ErrNoSuchPeer = errors.New("no pending offer for signal")
)

// Handler receives link events. Callbacks run on transport goroutines and must
// not block for long; nil callbacks are skipped.
type Handler struct {
	OnSignal  func(signal string)
	OnConnect func()
	OnData    func(data []byte)
	OnClose   func()
	OnError   func(err error)
}

func (h Handler) signal(s string) {
	if h.OnSignal != nil {
		h.OnSignal(s)
	}
}

func (h Handler) connect() {
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

func (h Handler) data(d []byte) {
	if h.OnData != nil {
		h.OnData(d)
	}
}

func (h Handler) close() {
	if h.OnClose != nil {
		h.OnClose()
	}
}

func (h Handler) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

type Link interface {
	// Signal feeds a payload received from the remote side through the relay.
	Signal(payload string) error
	Send(data []byte) error
	Close() error
}

type Config struct {
	// Initiator links produce the first signal (the offer).
	Initiator  bool
	ICEServers []string
}

type Factory interface {
	NewLink(cfg Config, h Handler) (Link, error)
}
