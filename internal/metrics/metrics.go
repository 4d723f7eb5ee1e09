package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playdeck_active_sessions",
		Help: "Playback sessions currently alive.",
	})

	TelemetryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playdeck_telemetry_failures_total",
		Help: "Progress reports that could not reach the server, by kind.",
	}, []string{"kind"})

	DownloadsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playdeck_downloads_started_total",
		Help: "Download jobs accepted.",
	})

	DownloadsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playdeck_downloads_finished_total",
		Help: "Download jobs reaching a terminal state, by outcome.",
	}, []string{"status"})

	TrickplayTiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playdeck_trickplay_tiles_total",
		Help: "Trickplay tile lookups, by where the tile came from.",
	}, []string{"origin"})
)
