package room

import "github.com/prometheus/client_golang/prometheus"

var RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "canvas",
	Subsystem: "room",
	Name:      "active",
})

var AttachCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "canvas",
	Subsystem: "room",
	Name:      "attaches",
}, []string{"result"})

var OpCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "canvas",
	Subsystem: "room",
	Name:      "ops",
}, []string{"op", "result"})

var BroadcastFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "canvas",
	Subsystem: "room",
	Name:      "broadcast_fanout",
	Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
})

// Collectors returns every metric this package exposes, for registration
// by the embedding server.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{RoomsActive, AttachCount, OpCount, BroadcastFanout}
}
