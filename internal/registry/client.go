package registry

import "context"

// The methods below wrap the inbox for callers that want a plain call.

func (r *Registry) send(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, r *Registry, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (r *Registry) Create(ctx context.Context) (RoomInfo, error) {
	reply := make(chan RoomResult, 1)
	if err := r.send(ctx, CreateRoom{Reply: reply}); err != nil {
		return RoomInfo{}, err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return RoomInfo{}, err
	}
	return res.Info, res.Err
}

func (r *Registry) Get(ctx context.Context, id string) (RoomInfo, error) {
	reply := make(chan RoomResult, 1)
	if err := r.send(ctx, GetRoom{ID: id, Reply: reply}); err != nil {
		return RoomInfo{}, err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return RoomInfo{}, err
	}
	return res.Info, res.Err
}

func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, Heartbeat{ID: id, Reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return err
	}
	return res
}

func (r *Registry) Join(ctx context.Context, room, member string, h Handle) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, Join{Room: room, Member: member, Handle: h, Reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return err
	}
	return res
}

func (r *Registry) Leave(ctx context.Context, room, member string, h Handle) error {
	return r.send(ctx, Leave{Room: room, Member: member, Handle: h})
}

func (r *Registry) Touch(ctx context.Context, room string) error {
	return r.send(ctx, Touch{Room: room})
}

func (r *Registry) Route(ctx context.Context, room string, frame []byte) error {
	return r.send(ctx, Route{Room: room, Frame: frame})
}

func (r *Registry) Status(ctx context.Context) (map[string]StatusEntry, error) {
	reply := make(chan map[string]StatusEntry, 1)
	if err := r.send(ctx, GetStatus{Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, r, reply)
}

// Shutdown closes every room and stops the loop.
func (r *Registry) Shutdown() {
	select {
	case r.inbox <- Shutdown{}:
	case <-r.done:
	}
	<-r.done
}
