package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSignalConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshcall_active_signal_connections",
		Help: "Number of active signaling websocket connections",
	}, []string{"binding"}) // "relay" | "presence"

	ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshcall_active_rooms",
		Help: "Number of rooms with at least one member",
	}, []string{"binding"})

	RoomJoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshcall_room_joins_total",
		Help: "Total number of room joins",
	}, []string{"binding"})

	RoomLeavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshcall_room_leaves_total",
		Help: "Total number of room leaves",
	}, []string{"binding"})

	SignalsRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshcall_signals_relayed_total",
		Help: "Total number of directed negotiation messages relayed",
	}, []string{"type"})

	DeliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshcall_delivery_failures_total",
		Help: "Total number of directed messages dropped because the target was absent",
	}, []string{"binding"})

	BackpressureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshcall_backpressure_total",
		Help: "Total number of frames not queued for slow members",
	}, []string{"action"})

	JoinsRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshcall_joins_rate_limited_total",
		Help: "Total number of joins rejected by the rate limiter",
	})

	// Client side.
	PeerLinksCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshcall_peer_links_created_total",
		Help: "Total number of peer links created",
	}, []string{"role"}) // "initiator" | "responder"

	ActivePeerLinks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshcall_active_peer_links",
		Help: "Number of peer links not yet closed",
	}, []string{"role"})

	NegotiationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshcall_negotiation_failures_total",
		Help: "Total number of peer links closed by a negotiation failure",
	})
)
