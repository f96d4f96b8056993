package divide

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the run counters exported on the metrics endpoint.
type Metrics struct {
	Windows      *prometheus.CounterVec
	TilesWritten prometheus.Counter
	RunDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiledivide_windows_total",
			Help: "Windows examined, by outcome.",
		}, []string{"outcome"}),
		TilesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tiledivide_tiles_written_total",
			Help: "Tiles handed to the tile store.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiledivide_run_duration_seconds",
			Help:    "Time spent dividing one raster.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Windows, m.TilesWritten, m.RunDuration)
	}
	return m
}
