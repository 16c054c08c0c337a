// Package metrics holds the Prometheus collectors of the relay and the host.
// Passing a nil registerer yields working but unregistered collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mcmp"

type Relay struct {
	Rooms        prometheus.Gauge
	Members      prometheus.Gauge
	RoomsCreated prometheus.Counter
	RoomsExpired prometheus.Counter
	Frames       *prometheus.CounterVec
}

func NewRelay(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "rooms",
			Help: "Rooms currently registered.",
		}),
		Members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "members",
			Help: "Relay sockets currently joined to a room.",
		}),
		RoomsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "rooms_created_total",
			Help: "Rooms created.",
		}),
		RoomsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "rooms_expired_total",
			Help: "Rooms reclaimed by the idle sweep.",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "frames_total",
			Help: "Relay frames by outcome.",
		}, []string{"result"}),
	}
}

type Host struct {
	Players    prometheus.Gauge
	Messages   *prometheus.CounterVec
	BlockEdits prometheus.Counter
	Chunks     prometheus.Counter
	Saves      *prometheus.CounterVec
}

func NewHost(reg prometheus.Registerer) *Host {
	f := promauto.With(reg)
	return &Host{
		Players: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "host", Name: "players",
			Help: "Players with a live link.",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "host", Name: "messages_total",
			Help: "Player messages handled, by type.",
		}, []string{"type"}),
		BlockEdits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "host", Name: "block_edits_total",
			Help: "Block edits applied to the world.",
		}),
		Chunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "host", Name: "change_chunks_total",
			Help: "changedBlocks chunks sent.",
		}),
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "host", Name: "saves_total",
			Help: "World saves, by result.",
		}, []string{"result"}),
	}
}
