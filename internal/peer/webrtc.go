package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const dataChannelLabel = "data"

// WebRTC builds links on a single data channel. Signals carry a complete
// session description; candidates are gathered before the description is
// handed to OnSignal.
type WebRTC struct {
	Logger *zap.Logger
}

func (f WebRTC) NewLink(cfg Config, h Handler) (Link, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var rtcCfg webrtc.Configuration
	if len(cfg.ICEServers) > 0 {
		rtcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	l := &rtcLink{pc: pc, h: h, logger: logger}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", zap.String("state", s.String()))
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.closed()
		}
	})

	if !cfg.Initiator {
		pc.OnDataChannel(l.attach)
		return l, nil
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	l.attach(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	if err := l.describe(offer); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return l, nil
}

type rtcLink struct {
	pc     *webrtc.PeerConnection
	h      Handler
	logger *zap.Logger

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	closeOnce sync.Once
}

func (l *rtcLink) attach(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(l.h.connect)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { l.h.data(msg.Data) })
	dc.OnError(l.h.error)
	dc.OnClose(l.closed)
}

// describe applies the local description and emits it once gathering is done.
func (l *rtcLink) describe(sd webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	go func() {
		<-gathered
		local := l.pc.LocalDescription()
		if local == nil {
			return
		}
		raw, err := json.Marshal(local)
		if err != nil {
			l.h.error(fmt.Errorf("encoding description: %w", err))
			return
		}
		l.h.signal(string(raw))
	}()
	return nil
}

func (l *rtcLink) Signal(payload string) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &sd); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignal, err)
	}
	if err := l.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	if sd.Type != webrtc.SDPTypeOffer {
		return nil
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	return l.describe(answer)
}

func (l *rtcLink) Send(data []byte) error {
	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	return dc.Send(data)
}

func (l *rtcLink) Close() error {
	err := l.pc.Close()
	l.closed()
	return err
}

func (l *rtcLink) closed() {
	l.closeOnce.Do(l.h.close)
}
