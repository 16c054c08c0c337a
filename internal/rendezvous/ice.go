package rendezvous

import (
	"context"
	"encoding/json"

	"github.com/pion/stun/v3"
	"go.uber.org/zap"
)

// DefaultICEServer is used whenever the relay offers nothing usable.
const DefaultICEServer = "stun:stun.l.google.com:19302"

// GetIceServers returns the NAT traversal servers for the session's room.
func (s *Session) GetIceServers(ctx context.Context) ([]string, error) {
	return s.IceServersFor(ctx, s.Code())
}

// IceServersFor looks up the servers for any room code. Results, including the
// fallback, are cached per code. A failed lookup also falls back but is not
// cached; only a cancelled ctx is returned as an error.
func (s *Session) IceServersFor(ctx context.Context, code string) ([]string, error) {
	if urls, ok := s.ice.Get(code); ok {
		return urls, nil
	}

	var body struct {
		V struct {
			IceServers struct {
				URLs json.RawMessage `json:"urls"`
			} `json:"iceServers"`
		} `json:"v"`
	}
	if err := s.getJSON(ctx, "/get-ice-candidates/"+code, &body); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("ice server lookup failed, using the default", zap.String("room", code), zap.Error(err))
		return []string{DefaultICEServer}, nil
	}

	urls := s.usableURLs(body.V.IceServers.URLs)
	if len(urls) == 0 {
		urls = []string{DefaultICEServer}
	}
	s.ice.Add(code, urls)
	return urls, nil
}

// usableURLs accepts a single URL or a list and keeps the ones that parse as
// STUN/TURN URIs.
func (s *Session) usableURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var candidates []string
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		candidates = []string{single}
	} else if err := json.Unmarshal(raw, &candidates); err != nil {
		s.logger.Warn("unreadable ice server list", zap.ByteString("urls", raw))
		return nil
	}

	var out []string
	for _, c := range candidates {
		if _, err := stun.ParseURI(c); err != nil {
			s.logger.Warn("ignoring ice server", zap.String("url", c), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}
