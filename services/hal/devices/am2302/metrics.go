package am2302dev

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "am2302",
		Name:      "reads_total",
		Help:      "Read attempts by device and outcome code.",
	}, []string{"device", "code"})

	readDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "am2302",
		Name:      "read_duration_seconds",
		Help:      "Wall time of one handshake and decode.",
		Buckets:   []float64{.001, .002, .004, .006, .008, .010, .020, .050},
	}, []string{"device"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "am2302",
		Name:      "events_dropped_total",
		Help:      "Events not accepted by the HAL queue.",
	}, []string{"device"})
)
