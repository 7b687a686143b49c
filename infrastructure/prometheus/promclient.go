package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var BookSynchronized = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "depthbridge_book_synchronized",
		Help: "1 when the venue's local order book is sequence-consistent",
	},
	[]string{"venue"},
)

var ReconnectAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_reconnect_attempts_total",
		Help: "scheduled reconnect attempts per venue",
	},
	[]string{"venue"},
)

var AppliedDeltas = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_applied_deltas_total",
		Help: "deltas applied to the local order book",
	},
	[]string{"venue"},
)

var DroppedDeltas = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_dropped_deltas_total",
		Help: "deltas dropped as stale or while unsynchronized",
	},
	[]string{"venue"},
)

var Resyncs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_resyncs_total",
		Help: "forced resynchronizations after a sequence gap",
	},
	[]string{"venue"},
)

// StartPromClientServer serves /metrics on addr. Blocks.
func StartPromClientServer(addr string) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(BookSynchronized)
	reg.MustRegister(ReconnectAttempts)
	reg.MustRegister(AppliedDeltas)
	reg.MustRegister(DroppedDeltas)
	reg.MustRegister(Resyncs)
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	logrus.WithField("component", "promclient").Infof("prometheus server listening at %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithField("component", "promclient").Fatalf("failed to serve: %v", err)
	}
}
