package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

func (s *Session) resolve(path string) string {
	return s.server.ResolveReference(&url.URL{Path: path}).String()
}

func (s *Session) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.resolve(path), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrRoomNotFound, path)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s returned %s", ErrBadResponse, path, resp.Status)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrBadResponse, path, err)
	}
	return nil
}

func (s *Session) getJSON(ctx context.Context, path string, out any) error {
	return s.do(ctx, http.MethodGet, path, out)
}

// value fetches one of the relay's {"v": "..."} lookups.
func (s *Session) value(ctx context.Context, path string) (string, error) {
	var body struct {
		V string `json:"v"`
	}
	if err := s.getJSON(ctx, path, &body); err != nil {
		return "", err
	}
	if body.V == "" {
		return "", fmt.Errorf("%w: empty value from %s", ErrBadResponse, path)
	}
	return body.V, nil
}

// checkEnabled accepts both a boolean and the string "true".
func (s *Session) checkEnabled(ctx context.Context) (bool, error) {
	var body struct {
		Enabled json.RawMessage `json:"multiplayerEnabled"`
	}
	if err := s.getJSON(ctx, "/game/multiplayer-enabled", &body); err != nil {
		return false, err
	}
	raw := bytes.TrimSpace(body.Enabled)
	return bytes.Equal(raw, []byte("true")) || bytes.Equal(raw, []byte(`"true"`)), nil
}

// gameCode creates a room when id is empty and looks it up otherwise.
func (s *Session) gameCode(ctx context.Context, id string) (string, error) {
	var body struct {
		Code string `json:"code"`
	}
	if err := s.getJSON(ctx, "/game/"+id, &body); err != nil {
		return "", err
	}
	if body.Code == "" {
		return "", fmt.Errorf("%w: no code for game %q", ErrBadResponse, id)
	}
	return body.Code, nil
}
