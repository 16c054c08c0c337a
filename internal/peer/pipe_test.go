package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	signals   chan string
	connected chan struct{}
	data      chan []byte
	closed    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		signals:   make(chan string, 4),
		connected: make(chan struct{}, 1),
		data:      make(chan []byte, 16),
		closed:    make(chan struct{}, 1),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnSignal:  func(s string) { r.signals <- s },
		OnConnect: func() { r.connected <- struct{}{} },
		OnData:    func(d []byte) { r.data <- d },
		OnClose:   func() { r.closed <- struct{}{} },
	}
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func connectPair(t *testing.T) (Link, *recorder, Link, *recorder) {
	t.Helper()
	net := NewPipeNetwork()
	ra, rb := newRecorder(), newRecorder()

	a, err := net.NewLink(Config{Initiator: true}, ra.handler())
	require.NoError(t, err)
	b, err := net.NewLink(Config{}, rb.handler())
	require.NoError(t, err)

	require.NoError(t, b.Signal(wait(t, ra.signals)))
	require.NoError(t, a.Signal(wait(t, rb.signals)))
	wait(t, ra.connected)
	wait(t, rb.connected)
	return a, ra, b, rb
}

func TestPipe_DeliversInOrder(t *testing.T) {
	a, _, b, rb := connectPair(t)
	defer b.Close()

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, a.Send([]byte(msg)))
	}
	assert.Equal(t, "one", string(wait(t, rb.data)))
	assert.Equal(t, "two", string(wait(t, rb.data)))
	assert.Equal(t, "three", string(wait(t, rb.data)))
}

func TestPipe_CloseReachesBothEnds(t *testing.T) {
	a, ra, b, rb := connectPair(t)
	require.NoError(t, b.Close())

	wait(t, ra.closed)
	wait(t, rb.closed)
	assert.ErrorIs(t, a.Send([]byte("late")), ErrClosed)
}

func TestPipe_BadSignals(t *testing.T) {
	net := NewPipeNetwork()
	l, err := net.NewLink(Config{}, Handler{})
	require.NoError(t, err)

	assert.ErrorIs(t, l.Signal("garbage"), ErrBadSignal)
	assert.ErrorIs(t, l.Signal(pipeOffer+"99"), ErrNoSuchPeer)
	assert.ErrorIs(t, l.Signal(pipeAnswer+"1"), ErrBadSignal)
	assert.ErrorIs(t, l.Send([]byte("x")), ErrNotOpen)
}

func TestWebRTC_RejectsMalformedSignal(t *testing.T) {
	l, err := WebRTC{}.NewLink(Config{}, Handler{})
	require.NoError(t, err)
	defer l.Close()

	assert.ErrorIs(t, l.Signal("{not json"), ErrBadSignal)
	assert.ErrorIs(t, l.Send([]byte("x")), ErrNotOpen)
}
