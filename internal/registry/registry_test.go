package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/metrics"
	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeHandle struct {
	frames chan []byte
	closed atomic.Bool
}

func newFakeHandle(buf int) *fakeHandle {
	return &fakeHandle{frames: make(chan []byte, buf)}
}

func (h *fakeHandle) Send(frame []byte) bool {
	select {
	case h.frames <- frame:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) Close() { h.closed.Store(true) }

func recvFrame(t *testing.T, h *fakeHandle) []byte {
	t.Helper()
	select {
	case f := <-h.frames:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *metrics.Relay) {
	t.Helper()
	m := metrics.NewRelay(nil)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithMetrics(m)}, opts...)
	r := New(context.Background(), opts...)
	t.Cleanup(r.Shutdown)
	return r, m
}

func frameTo(t *testing.T, room, from, to, signal string) []byte {
	t.Helper()
	data, err := json.Marshal(types.NewSignalEnvelope(room+"/"+from, to, signal))
	require.NoError(t, err)
	return data
}

func TestRegistry_CreateGetHeartbeat(t *testing.T) {
	r, m := newTestRegistry(t)
	ctx := context.Background()

	info, err := r.Create(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.ID, "mcmp_"))
	assert.Len(t, info.ID, len("mcmp_")+16)
	assert.Equal(t, info.CreatedAt, info.UpdatedAt)

	got, err := r.Get(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	require.NoError(t, r.Heartbeat(ctx, info.ID))

	_, err = r.Get(ctx, "mcmp_nope")
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.ErrorIs(t, r.Heartbeat(ctx, "mcmp_nope"), ErrRoomNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoomsCreated))
}

func TestRegistry_DuplicateMemberRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	info, err := r.Create(ctx)
	require.NoError(t, err)

	first, second := newFakeHandle(4), newFakeHandle(4)
	require.NoError(t, r.Join(ctx, info.ID, "host", first))
	require.ErrorIs(t, r.Join(ctx, info.ID, "host", second), ErrDuplicateMember)
	require.ErrorIs(t, r.Join(ctx, "mcmp_nope", "host", second), ErrRoomNotFound)

	// A stale leave from the rejected handle must not evict the first one.
	require.NoError(t, r.Leave(ctx, info.ID, "host", second))

	frame := frameTo(t, info.ID, "abc", "host", "offer")
	require.NoError(t, r.Route(ctx, info.ID, frame))
	assert.Equal(t, frame, recvFrame(t, first))
	assert.False(t, first.closed.Load())
	assert.Empty(t, second.frames)
}

func TestRegistry_Route(t *testing.T) {
	r, m := newTestRegistry(t)
	ctx := context.Background()
	info, err := r.Create(ctx)
	require.NoError(t, err)

	host, player := newFakeHandle(4), newFakeHandle(4)
	require.NoError(t, r.Join(ctx, info.ID, "host", host))
	require.NoError(t, r.Join(ctx, info.ID, "abc", player))

	require.NoError(t, r.Route(ctx, info.ID, []byte("{nope")))
	require.NoError(t, r.Route(ctx, info.ID, frameTo(t, info.ID, "abc", "ghost", "x")))
	require.NoError(t, r.Route(ctx, info.ID, frameTo(t, info.ID, "host", "abc", "answer")))

	env, err := types.ParseEnvelope(recvFrame(t, player))
	require.NoError(t, err)
	assert.Equal(t, "answer", env.Payload.Signal)
	assert.Empty(t, host.frames)

	// Status is a round trip through the loop, so every Route above is done.
	_, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Frames.WithLabelValues("routed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Frames.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Frames.WithLabelValues("dropped")))
}

func TestRegistry_DropsSlowMember(t *testing.T) {
	r, m := newTestRegistry(t)
	ctx := context.Background()
	info, err := r.Create(ctx)
	require.NoError(t, err)

	slow := newFakeHandle(0)
	require.NoError(t, r.Join(ctx, info.ID, "host", slow))
	require.NoError(t, r.Route(ctx, info.ID, frameTo(t, info.ID, "abc", "host", "x")))

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status[info.ID[5:13]].Players)
	assert.True(t, slow.closed.Load())
	assert.Zero(t, testutil.ToFloat64(m.Members))
}

func TestRegistry_Status(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	info, err := r.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Join(ctx, info.ID, "host", newFakeHandle(1)))

	status, err := r.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	entry, ok := status[info.ID[5:13]]
	require.True(t, ok)
	assert.Equal(t, 1, entry.Players)
	assert.Equal(t, info.UpdatedAt, entry.UpdatedAt)
}

func TestRegistry_SweepExpiresIdleRooms(t *testing.T) {
	mock := clock.NewMock()
	r, m := newTestRegistry(t, WithClock(mock))
	ctx := context.Background()

	info, err := r.Create(ctx)
	require.NoError(t, err)
	h := newFakeHandle(1)
	require.NoError(t, r.Join(ctx, info.ID, "host", h))

	for i := 0; i < 3; i++ {
		mock.Add(DefaultSweepInterval)
	}
	_, err = r.Get(ctx, info.ID)
	require.NoError(t, err, "room must survive while younger than the ttl")

	require.Eventually(t, func() bool {
		mock.Add(DefaultSweepInterval)
		_, err := r.Get(ctx, info.ID)
		return err != nil
	}, time.Second, 10*time.Millisecond)

	assert.True(t, h.closed.Load())
	assert.Zero(t, testutil.ToFloat64(m.Rooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoomsExpired))
}

func TestRegistry_HeartbeatKeepsRoomAlive(t *testing.T) {
	mock := clock.NewMock()
	r, _ := newTestRegistry(t, WithClock(mock))
	ctx := context.Background()

	info, err := r.Create(ctx)
	require.NoError(t, err)
	h := newFakeHandle(1)
	require.NoError(t, r.Join(ctx, info.ID, "host", h))

	for i := 1; i <= 20; i++ {
		mock.Add(DefaultSweepInterval)
		if i%2 == 0 {
			require.NoError(t, r.Heartbeat(ctx, info.ID))
		} else {
			require.NoError(t, r.Touch(ctx, info.ID))
		}
	}

	_, err = r.Get(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, h.closed.Load())
}

func TestRegistry_Shutdown(t *testing.T) {
	r := New(context.Background(), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	info, err := r.Create(ctx)
	require.NoError(t, err)
	h := newFakeHandle(1)
	require.NoError(t, r.Join(ctx, info.ID, "host", h))

	r.Shutdown()
	assert.True(t, h.closed.Load())
	_, err = r.Create(ctx)
	require.ErrorIs(t, err, ErrClosed)

	// A second shutdown is a no-op.
	r.Shutdown()
}

func TestRegistry_DoneWaitsForRoomsToClose(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	r := New(parent, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	info, err := r.Create(ctx)
	require.NoError(t, err)
	h := newFakeHandle(1)
	require.NoError(t, r.Join(ctx, info.ID, "host", h))

	cancel()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("registry did not stop after its context was cancelled")
	}
	assert.True(t, h.closed.Load(), "members must be closed before Done fires")

	// Shutdown after the loop has exited returns immediately.
	r.Shutdown()
}
