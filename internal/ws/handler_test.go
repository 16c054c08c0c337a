package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/registry"
	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

func newRelay(t *testing.T, reg *registry.Registry, opts ...Option) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/v2/{id}/{name}", Handler(reg, append([]Option{WithLogger(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))}, opts...)...))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, room, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v2/" + room + "/" + name
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	return data, err
}

func signal(t *testing.T, room, from, to, payload string) []byte {
	t.Helper()
	data, err := json.Marshal(types.NewSignalEnvelope(room+"/"+from, to, payload))
	require.NoError(t, err)
	return data
}

// joined waits until the registry lists n members in the room.
func joined(t *testing.T, reg *registry.Registry, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := reg.Status(context.Background())
		return err == nil && st[room[5:13]].Players == n
	}, 2*time.Second, 10*time.Millisecond)
}

func newRegistry(t *testing.T, opts ...registry.Option) *registry.Registry {
	t.Helper()
	reg := registry.New(context.Background(), append([]registry.Option{registry.WithLogger(zaptest.NewLogger(t))}, opts...)...)
	t.Cleanup(reg.Shutdown)
	return reg
}

func TestRelay_RoutesBetweenMembers(t *testing.T) {
	reg := newRegistry(t)
	info, err := reg.Create(context.Background())
	require.NoError(t, err)
	srv := newRelay(t, reg)

	host := dial(t, srv, info.ID, "host")
	player := dial(t, srv, info.ID, "abc12345")
	joined(t, reg, info.ID, 2)

	offer := signal(t, info.ID, "abc12345", "host", "offer")
	require.NoError(t, player.Write(context.Background(), websocket.MessageText, offer))
	got, err := read(t, host)
	require.NoError(t, err)
	assert.Equal(t, offer, got)

	answer := signal(t, info.ID, "host", "abc12345", "answer")
	require.NoError(t, host.Write(context.Background(), websocket.MessageText, answer))
	got, err = read(t, player)
	require.NoError(t, err)
	assert.Equal(t, answer, got)
}

func TestRelay_UnknownRoom(t *testing.T) {
	srv := newRelay(t, newRegistry(t))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v2/mcmp_missing/host"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRelay_DuplicateNameRefused(t *testing.T) {
	reg := newRegistry(t)
	info, err := reg.Create(context.Background())
	require.NoError(t, err)
	srv := newRelay(t, reg)

	first := dial(t, srv, info.ID, "host")
	joined(t, reg, info.ID, 1)
	second := dial(t, srv, info.ID, "host")

	_, err = read(t, second)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	// The first socket still receives traffic.
	player := dial(t, srv, info.ID, "p")
	joined(t, reg, info.ID, 2)
	frame := signal(t, info.ID, "p", "host", "hello")
	require.NoError(t, player.Write(context.Background(), websocket.MessageText, frame))
	got, err := read(t, first)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestRelay_PingTouchesRoom(t *testing.T) {
	mock := clock.NewMock()
	reg := newRegistry(t, registry.WithClock(mock))
	info, err := reg.Create(context.Background())
	require.NoError(t, err)
	srv := newRelay(t, reg)

	conn := dial(t, srv, info.ID, "host")
	joined(t, reg, info.ID, 1)
	mock.Add(time.Minute)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(types.PingFrame)))

	require.Eventually(t, func() bool {
		got, err := reg.Get(context.Background(), info.ID)
		return err == nil && got.UpdatedAt == mock.Now().UnixMilli()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_ExpiredRoomClosesSockets(t *testing.T) {
	mock := clock.NewMock()
	reg := newRegistry(t, registry.WithClock(mock))
	info, err := reg.Create(context.Background())
	require.NoError(t, err)
	srv := newRelay(t, reg)

	conn := dial(t, srv, info.ID, "host")
	joined(t, reg, info.ID, 1)

	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(context.Background())
		readErr <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		mock.Add(registry.DefaultSweepInterval)
		select {
		case err := <-readErr:
			assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
			return
		case <-deadline:
			t.Fatal("socket never closed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRelay_RateLimit(t *testing.T) {
	reg := newRegistry(t)
	info, err := reg.Create(context.Background())
	require.NoError(t, err)
	srv := newRelay(t, reg, WithRate(rate.Every(time.Hour), 1))

	host := dial(t, srv, info.ID, "host")
	player := dial(t, srv, info.ID, "p")
	joined(t, reg, info.ID, 2)

	ctx := context.Background()
	first := signal(t, info.ID, "p", "host", "one")
	require.NoError(t, player.Write(ctx, websocket.MessageText, first))
	require.NoError(t, player.Write(ctx, websocket.MessageText, signal(t, info.ID, "p", "host", "two")))

	got, err := read(t, host)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, _, err = host.Read(short)
	assert.Error(t, err, "second frame should have been dropped")
}
