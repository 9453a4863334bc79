package internal

import "github.com/prometheus/client_golang/prometheus"

var (
	socketFrameReceivedCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "profilepage_socket_frames_received_total",
			Help: "Frames received from the presence push channel",
		},
	)

	socketFrameSentCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "profilepage_socket_frames_sent_total",
			Help: "Frames sent to the presence push channel",
		},
	)

	socketHeartbeatCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "profilepage_socket_heartbeats_total",
			Help: "Heartbeat frames sent",
		},
	)

	socketStatusGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "profilepage_socket_status",
			Help: "Push channel state machine position",
		},
	)

	presenceRenderCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "profilepage_renders_total",
			Help: "Successful presence renders",
		},
	)

	presenceRenderErrorCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "profilepage_render_errors_total",
			Help: "Error overlays rendered",
		},
	)

	reviewPageCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "profilepage_review_pages_total",
			Help: "Review pages fetched",
		},
	)

	iconCacheHitCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "profilepage_icon_cache_hits_total",
			Help: "Fallback icon lookups served from cache",
		},
	)

	iconCacheMissCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "profilepage_icon_cache_misses_total",
			Help: "Fallback icon lookups that missed the cache",
		},
	)
)
