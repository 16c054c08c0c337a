package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/DoyleJ11/classic-multiplayer/internal/registry"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Rooms never advertise an expiry to clients; the server sweeps them.
const advertisedTTL = 1<<53 - 1

type api struct {
	reg    *registry.Registry
	cfg    Config
	logger *zap.Logger
}

type gameInfo struct {
	Code      string `json:"code"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	TTL       int64  `json:"ttl"`
}

type value struct {
	V any `json:"v"`
}

type empty struct{}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func unknownRoute(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Unknown route "+r.URL.RequestURI())
}

// registryError maps a registry failure for room id onto a response.
func (a *api) registryError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "No game with ID "+id)
	case errors.Is(err, registry.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		a.logger.Error("registry request failed", zap.String("room", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *api) multiplayerEnabled(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Enabled bool `json:"multiplayerEnabled"`
	}{Enabled: true})
}

func (a *api) createGame(w http.ResponseWriter, r *http.Request) {
	info, err := a.reg.Create(r.Context())
	if err != nil {
		a.registryError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, toGameInfo(info))
}

func (a *api) getGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := a.reg.Get(r.Context(), id)
	if err != nil {
		a.registryError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Code string `json:"code"`
	}{Code: info.ID})
}

func (a *api) heartbeatInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := a.reg.Get(r.Context(), id)
	if err != nil {
		a.registryError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, toGameInfo(info))
}

func (a *api) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.reg.Heartbeat(r.Context(), id); err != nil {
		a.registryError(w, id, err)
		return
	}
	a.logger.Debug("received heartbeat", zap.String("room", id))
	writeJSON(w, http.StatusOK, empty{})
}

// Channels are created lazily when the first socket joins.
func (a *api) createChannel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, empty{})
}

func (a *api) signalingHost(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, value{V: a.cfg.SignalingHost})
}

func (a *api) signalingToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, value{V: fmt.Sprintf("%s/%s", chi.URLParam(r, "id"), chi.URLParam(r, "name"))})
}

func (a *api) iceCandidates(w http.ResponseWriter, _ *http.Request) {
	var urls any = a.cfg.ICEServers
	if len(a.cfg.ICEServers) == 1 {
		urls = a.cfg.ICEServers[0]
	}
	type iceServers struct {
		URLs any `json:"urls"`
	}
	writeJSON(w, http.StatusOK, value{V: struct {
		IceServers iceServers `json:"iceServers"`
	}{IceServers: iceServers{URLs: urls}}})
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	games, err := a.reg.Status(r.Context())
	if err != nil {
		a.registryError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Games map[string]registry.StatusEntry `json:"games"`
	}{Games: games})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func toGameInfo(info registry.RoomInfo) gameInfo {
	return gameInfo{
		Code:      info.ID,
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
		TTL:       advertisedTTL,
	}
}
