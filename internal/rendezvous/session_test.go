package rendezvous

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubRelay struct {
	srv      *httptest.Server
	enabled  string
	iceURLs  string
	iceHits  atomic.Int32
	channels atomic.Int32
	sockets  chan *websocket.Conn
	stop     chan struct{}

	// iceStatus replaces the ICE lookup with a bare error status when set.
	iceStatus int
}

func newStubRelay(t *testing.T, configure ...func(*stubRelay)) *stubRelay {
	t.Helper()
	s := &stubRelay{
		enabled: `"true"`,
		iceURLs: `"stun:stun.example.org:3478"`,
		sockets: make(chan *websocket.Conn, 1),
		stop:    make(chan struct{}),
	}
	for _, c := range configure {
		c(s)
	}

	r := chi.NewRouter()
	writeJSON := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
	r.Get("/game/multiplayer-enabled", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"multiplayerEnabled":`+s.enabled+`}`)
	})
	r.Get("/game/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"code":"mcmp_test"}`)
	})
	r.Get("/game/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "mcmp_test" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, `{"error":"No game"}`)
			return
		}
		writeJSON(w, `{"code":"mcmp_test"}`)
	})
	r.Put("/game/{id}/heartbeat", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{}`)
	})
	r.Get("/create-channel/{id}", func(w http.ResponseWriter, _ *http.Request) {
		s.channels.Add(1)
		writeJSON(w, `{}`)
	})
	r.Get("/get-signaling-token/{id}/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"v":"`+chi.URLParam(r, "id")+"/"+chi.URLParam(r, "name")+`"}`)
	})
	r.Get("/get-signaling-host/{id}/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"v":"ws://`+r.Host+`"}`)
	})
	r.Get("/get-ice-candidates/{id}", func(w http.ResponseWriter, _ *http.Request) {
		s.iceHits.Add(1)
		if s.iceStatus != 0 {
			w.WriteHeader(s.iceStatus)
			return
		}
		writeJSON(w, `{"v":{"iceServers":{"urls":`+s.iceURLs+`}}}`)
	})
	r.Get("/v2/{id}/{name}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.sockets <- conn
		<-s.stop
	})

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	t.Cleanup(func() { close(s.stop) })
	return s
}

func newTestSession(t *testing.T, relay *stubRelay, opts ...Option) *Session {
	t.Helper()
	s, err := New(relay.srv.URL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func acceptSocket(t *testing.T, relay *stubRelay) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-relay.sockets:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("relay socket was never opened")
		return nil
	}
}

func TestConnect_AsHost(t *testing.T) {
	relay := newStubRelay(t)
	core, logs := observer.New(zap.WarnLevel)
	s := newTestSession(t, relay, WithLogger(zap.New(core)))
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, HostName))
	assert.True(t, s.Connected())
	assert.Equal(t, "mcmp_test", s.Code())
	assert.Equal(t, HostName, s.Name())
	assert.EqualValues(t, 1, relay.channels.Load())

	server := acceptSocket(t, relay)

	require.NoError(t, s.Send(ctx, "abc12345", "offer"))
	_, frame, err := server.Read(ctx)
	require.NoError(t, err)
	env, err := types.ParseEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, types.NewSignalEnvelope("mcmp_test/host", "abc12345", "offer"), env)

	// Only the last frame is addressed to us.
	other, _ := json.Marshal(types.NewSignalEnvelope("mcmp_test/x", "someone", "nope"))
	mine, _ := json.Marshal(types.NewSignalEnvelope("mcmp_test/abc12345", HostName, "answer"))
	require.NoError(t, server.Write(ctx, websocket.MessageText, []byte("{broken")))
	require.NoError(t, server.Write(ctx, websocket.MessageText, other))
	require.NoError(t, server.Write(ctx, websocket.MessageText, mine))

	select {
	case got := <-s.Messages():
		assert.Equal(t, "answer", got.Payload.Signal)
		assert.Equal(t, "mcmp_test/abc12345", got.Meta.From)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
	assert.Equal(t, 2, logs.Len())

	require.NoError(t, s.Heartbeat(ctx))
}

func TestConnect_AsPlayer(t *testing.T) {
	relay := newStubRelay(t)
	s := newTestSession(t, relay)

	require.NoError(t, s.Connect(context.Background(), "mcmp_test"))
	assert.Len(t, s.Name(), nameLength)
	assert.NotEqual(t, HostName, s.Name())
	assert.Zero(t, relay.channels.Load())
	acceptSocket(t, relay)
}

func TestConnect_Failures(t *testing.T) {
	relay := newStubRelay(t)

	err := newTestSession(t, relay).Connect(context.Background(), "mcmp_missing")
	require.ErrorIs(t, err, ErrRoomNotFound)

	disabled := newStubRelay(t, func(r *stubRelay) { r.enabled = "false" })
	s := newTestSession(t, disabled)
	err = s.Connect(context.Background(), HostName)
	require.ErrorIs(t, err, ErrMultiplayerDisabled)
	assert.False(t, s.Connected())
	require.ErrorIs(t, s.Send(context.Background(), HostName, "x"), ErrNotConnected)
}

func TestKeepalive(t *testing.T) {
	relay := newStubRelay(t)
	mock := clock.NewMock()
	s := newTestSession(t, relay, WithClock(mock))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, HostName))
	server := acceptSocket(t, relay)

	frames := make(chan string, 8)
	go func() {
		for {
			_, data, err := server.Read(ctx)
			if err != nil {
				return
			}
			frames <- string(data)
		}
	}()

	// The ticker is registered asynchronously, so keep advancing until it fires.
	deadline := time.After(2 * time.Second)
	for {
		mock.Add(pingInterval)
		select {
		case f := <-frames:
			assert.Equal(t, types.PingFrame, f)
			return
		case <-deadline:
			t.Fatal("no keepalive frame")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClose_EndsSession(t *testing.T) {
	relay := newStubRelay(t)
	s := newTestSession(t, relay)
	require.NoError(t, s.Connect(context.Background(), HostName))
	acceptSocket(t, relay)

	require.NoError(t, s.Close())
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never reported close")
	}
	_, ok := <-s.Messages()
	assert.False(t, ok)
	assert.False(t, s.Connected())
}

func TestIceServers(t *testing.T) {
	cases := []struct {
		name string
		urls string
		want []string
	}{
		{name: "single url", urls: `"stun:stun.example.org:3478"`, want: []string{"stun:stun.example.org:3478"}},
		{name: "list with junk", urls: `["turn:turn.example.org","http://nope"]`, want: []string{"turn:turn.example.org"}},
		{name: "nothing usable", urls: `["ftp://x"]`, want: []string{DefaultICEServer}},
		{name: "missing", urls: `null`, want: []string{DefaultICEServer}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			relay := newStubRelay(t, func(r *stubRelay) { r.iceURLs = tc.urls })
			s := newTestSession(t, relay)

			got, err := s.IceServersFor(context.Background(), "mcmp_test")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			again, err := s.IceServersFor(context.Background(), "mcmp_test")
			require.NoError(t, err)
			assert.Equal(t, got, again)
			assert.EqualValues(t, 1, relay.iceHits.Load())
		})
	}
}

func TestIceServers_LookupFailureFallsBack(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			relay := newStubRelay(t, func(r *stubRelay) { r.iceStatus = status })
			s := newTestSession(t, relay)

			got, err := s.IceServersFor(context.Background(), "mcmp_test")
			require.NoError(t, err)
			assert.Equal(t, []string{DefaultICEServer}, got)

			// Failures are retried rather than cached.
			_, err = s.IceServersFor(context.Background(), "mcmp_test")
			require.NoError(t, err)
			assert.EqualValues(t, 2, relay.iceHits.Load())
		})
	}

	relay := newStubRelay(t)
	s := newTestSession(t, relay)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.IceServersFor(ctx, "mcmp_other")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("http://bad host/")
	require.Error(t, err)
}
