package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connections_open", Help: "Currently open websocket connections"})
	AuthFailures    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "auth_failures_total", Help: "Handshakes rejected by the identity resolver"})

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Inbound connection events by outcome"},
		[]string{"event", "outcome"},
	)
	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Inbound event handling latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	BookingsRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_requested_total", Help: "Bookings created"})
	AcceptConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_conflicts_total", Help: "Accepts that lost the conditional write"})
	MatchedDrivers    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "matched_drivers", Help: "Drivers within radius per request", Buckets: []float64{0, 1, 2, 5, 10, 20, 50}})
	NotesPosted       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notes_posted_total", Help: "Notes appended to booking buffers"})

	RoomDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "room_deliveries_total", Help: "Room publish deliveries by result"},
		[]string{"result"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Latency of outbound calls to collaborator services",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)

	LifecycleEventErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "lifecycle_event_errors_total", Help: "Booking lifecycle events that failed to publish"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
