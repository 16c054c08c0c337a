package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedEnvelope = errors.New("malformed relay envelope")

// PingFrame is the bare keepalive frame. It carries no envelope.
const PingFrame = "ping"

const (
	envelopeType = "u"
	opMessage    = "message"
)

type EnvelopeMeta struct {
	From string `json:"f"`
	To   string `json:"t"`
	Op   string `json:"o"`
}

type SignalPayload struct {
	Signal string `json:"signal"`
}

// Envelope is a signaling frame routed by the relay between two named
// endpoints of one room.
type Envelope struct {
	Type    string        `json:"type"`
	Meta    EnvelopeMeta  `json:"m"`
	Payload SignalPayload `json:"p"`
}

func NewSignalEnvelope(from, to, signal string) Envelope {
	return Envelope{
		Type:    envelopeType,
		Meta:    EnvelopeMeta{From: from, To: to, Op: opMessage},
		Payload: SignalPayload{Signal: signal},
	}
}

// ParseEnvelope decodes a relay frame. Frames without a recipient are
// rejected since the relay could never route them.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Meta.To == "" {
		return Envelope{}, fmt.Errorf("%w: missing recipient", ErrMalformedEnvelope)
	}
	return env, nil
}

// SenderName extracts the endpoint name from a "<room>/<name>" address.
func SenderName(from string) (string, bool) {
	_, name, ok := strings.Cut(from, "/")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
