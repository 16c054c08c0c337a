package peer

import (
	"fmt"
	"strings"
	"sync"
)

const (
	pipeOffer  = "pipe-offer:"
	pipeAnswer = "pipe-answer:"
)

// PipeNetwork is an in-process Factory. Links created from the same network
// pair up through the usual offer/answer signal exchange, so it can stand in
// for WebRTC wherever both ends live in one process.
type PipeNetwork struct {
	mu      sync.Mutex
	next    int
	pending map[string]*pipeLink
}

func NewPipeNetwork() *PipeNetwork {
	return &PipeNetwork{pending: make(map[string]*pipeLink)}
}

func (n *PipeNetwork) NewLink(cfg Config, h Handler) (Link, error) {
	l := &pipeLink{
		net:   n,
		h:     h,
		inbox: make(chan []byte, 1024),
		done:  make(chan struct{}),
	}
	if cfg.Initiator {
		n.mu.Lock()
		n.next++
		id := fmt.Sprint(n.next)
		n.pending[id] = l
		n.mu.Unlock()
		go h.signal(pipeOffer + id)
	}
	return l, nil
}

type pipeLink struct {
	net *PipeNetwork
	h   Handler

	mu       sync.Mutex
	remote   *pipeLink
	opened   bool
	isClosed bool

	inbox chan []byte
	done  chan struct{}
}

func (l *pipeLink) Signal(payload string) error {
	switch {
	case strings.HasPrefix(payload, pipeOffer):
		id := strings.TrimPrefix(payload, pipeOffer)
		l.net.mu.Lock()
		remote := l.net.pending[id]
		delete(l.net.pending, id)
		l.net.mu.Unlock()
		if remote == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchPeer, id)
		}
		l.pair(remote)
		go l.h.signal(pipeAnswer + id)
		return nil

	case strings.HasPrefix(payload, pipeAnswer):
		l.mu.Lock()
		remote := l.remote
		l.mu.Unlock()
		if remote == nil {
			return fmt.Errorf("%w: answer before offer", ErrBadSignal)
		}
		// the answering side learns about the connection first
		remote.open()
		l.open()
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrBadSignal, payload)
	}
}

func (l *pipeLink) pair(remote *pipeLink) {
	l.mu.Lock()
	l.remote = remote
	l.mu.Unlock()
	remote.mu.Lock()
	remote.remote = l
	remote.mu.Unlock()
}

func (l *pipeLink) open() {
	l.mu.Lock()
	if l.opened || l.isClosed {
		l.mu.Unlock()
		return
	}
	l.opened = true
	l.mu.Unlock()

	l.h.connect()
	go l.pump()
}

// pump delivers frames in order. Frames queued before a close are still
// delivered, and OnClose comes after the last of them.
func (l *pipeLink) pump() {
	defer l.h.close()
	for {
		select {
		case d := <-l.inbox:
			l.h.data(d)
		case <-l.done:
			for {
				select {
				case d := <-l.inbox:
					l.h.data(d)
				default:
					return
				}
			}
		}
	}
}

func (l *pipeLink) Send(data []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	l.mu.Lock()
	remote := l.remote
	l.mu.Unlock()
	if remote == nil {
		return ErrNotOpen
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case remote.inbox <- buf:
		return nil
	case <-remote.done:
		return ErrClosed
	}
}

// Close tears down both ends.
func (l *pipeLink) Close() error {
	l.shutdown()
	l.mu.Lock()
	remote := l.remote
	l.mu.Unlock()
	if remote != nil {
		remote.shutdown()
	}
	return nil
}

func (l *pipeLink) shutdown() {
	l.mu.Lock()
	if l.isClosed {
		l.mu.Unlock()
		return
	}
	l.isClosed = true
	opened := l.opened
	close(l.done)
	l.mu.Unlock()

	if !opened {
		go l.h.close()
	}
}
