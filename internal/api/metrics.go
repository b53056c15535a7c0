package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for the proxy sessions. Registered on a private registry so the
// endpoint exposes only our series.
var (
	registry = prometheus.NewRegistry()

	ActiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "immis2tcp",
		Name:      "active_clients",
		Help:      "Number of connected local clients",
	})
	VideoBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "immis2tcp",
		Name:      "video_bytes_total",
		Help:      "Total MPEG-TS bytes forwarded to clients",
	})
	VideoFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "immis2tcp",
		Name:      "video_frames_total",
		Help:      "Total validated video frames forwarded to clients",
	})
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "immis2tcp",
		Name:      "reconnects_total",
		Help:      "Total upstream reconnect attempts",
	})
)

func initMetrics() {
	registry.MustRegister(ActiveClients, VideoBytesTotal, VideoFramesTotal, ReconnectsTotal)

	HandleFunc("metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)
}
