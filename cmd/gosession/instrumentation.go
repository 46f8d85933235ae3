package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newPromMiddleware instruments handlers with request counters and latencies
// labelled with name.
func newPromMiddleware(reg prometheus.Registerer, name string) func(http.Handler) http.Handler {
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"handler": name}, reg)

	requestsTotal := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Tracks the number of HTTP requests.",
		}, []string{"method", "code"},
	)
	requestDuration := promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Tracks the latencies for HTTP requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"method", "code"},
	)
	inFlight := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "A gauge of requests currently being served by the wrapped handler.",
	})

	return func(next http.Handler) http.Handler {
		base := promhttp.InstrumentHandlerInFlight(inFlight, next)
		base = promhttp.InstrumentHandlerDuration(requestDuration, base)

		return promhttp.InstrumentHandlerCounter(requestsTotal, base)
	}
}
