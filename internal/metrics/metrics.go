package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpenRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dueli_broadcast_open_rooms",
		Help: "Number of open signaling rooms",
	})

	RoomsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_rooms_created_total",
		Help: "Total number of signaling rooms created",
	})

	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dueli_broadcast_signals_total",
		Help: "Total signaling messages accepted into room logs",
	}, []string{"kind", "sender"}) // kind: "offer" | "answer" | "ice"

	NegotiationRoundsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_negotiation_rounds_superseded_total",
		Help: "Total negotiation rounds abandoned by a superseding offer",
	})

	SignalSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dueli_broadcast_signal_subscribers",
		Help: "Number of connected websocket signal subscribers",
	})

	PeerConnectionStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dueli_broadcast_peer_connection_state_changes_total",
		Help: "Participant session state machine transitions",
	}, []string{"role", "state"})

	SegmentsCutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_segments_cut_total",
		Help: "Total composited segments cut",
	})

	SegmentBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dueli_broadcast_segment_bytes",
		Help:    "Size of composited segments",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
	})

	ChunksUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_chunks_uploaded_total",
		Help: "Total chunks delivered to the transcoding endpoint",
	})

	ChunksFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_chunks_failed_total",
		Help: "Total chunks dropped after exhausting the retry budget",
	})

	ChunkUploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dueli_broadcast_chunk_upload_seconds",
		Help:    "Time to deliver one chunk including retries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	SessionsLiveTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_sessions_live_total",
		Help: "Total sessions taken live",
	})

	SessionsEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_sessions_ended_total",
		Help: "Total sessions ended and finalized",
	})

	FinalizeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_finalize_failures_total",
		Help: "Total finalize attempts that failed and were flagged for follow-up",
	})

	ConfigReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dueli_broadcast_config_reloads_total",
		Help: "Number of configuration reloads",
	})
)
