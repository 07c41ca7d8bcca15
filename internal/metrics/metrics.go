package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream metrics
	StreamSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempest_stream_sessions_total",
		Help: "Total number of websocket sessions opened",
	})

	StreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_stream_reconnects_total",
		Help: "Total number of reconnects, by cause",
	}, []string{"cause"})

	StreamState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempest_stream_state",
		Help: "Current connection state (0 disconnected, 1 connecting, 2 subscribed, 3 closing)",
	})

	// Dispatch metrics
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_frames_received_total",
		Help: "Total number of frames received, by message type",
	}, []string{"type"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_decode_errors_total",
		Help: "Total number of frames or rows that failed to decode",
	}, []string{"type"})

	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_records_written_total",
		Help: "Total number of record writes, by table and outcome",
	}, []string{"table", "outcome"})

	// Polling metrics
	PollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_poll_runs_total",
		Help: "Total number of polling cycles, by result",
	}, []string{"result"})

	// DB metrics
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_active_connections",
		Help: "Number of active database connections",
	})

	DBIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle database connections",
	})

	// Dead letter metrics
	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_dead_letters_total",
		Help: "Total number of frames published to the dead letter topic",
	}, []string{"reason"})
)
