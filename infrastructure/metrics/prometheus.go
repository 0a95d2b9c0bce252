// Package metrics exports driver counters in Prometheus format. Batch runs have no
// scrape endpoint, so the registry is written to a node_exporter textfile at exit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
)

// Prometheus implements ports.Metrics on a private registry
type Prometheus struct {
	registry *prometheus.Registry

	// chunkInferences labels: device (cpu|gpu), status (success|failed|passthrough)
	chunkInferences *prometheus.CounterVec
	// chunkDuration buckets span a few seconds up to a 10-minute chunk on CPU
	chunkDuration *prometheus.HistogramVec
	fallbacks     prometheus.Counter
	// files labels: status (written|skipped|failed)
	files *prometheus.CounterVec
}

var _ ports.Metrics = (*Prometheus)(nil)

// New creates and registers the driver metrics
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		chunkInferences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "se_chunk_inferences_total",
				Help: "Chunk inference attempts by device and outcome",
			},
			[]string{"device", "status"},
		),
		chunkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "se_chunk_inference_seconds",
				Help:    "Wall time of chunk inference attempts",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"device"},
		),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "se_cpu_fallbacks_total",
			Help: "Chunks retried on CPU after a failed first attempt",
		}),
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "se_files_total",
				Help: "Input files by terminal state",
			},
			[]string{"status"},
		),
	}
	p.registry.MustRegister(p.chunkInferences, p.chunkDuration, p.fallbacks, p.files)
	return p
}

// ChunkInferred records one inference attempt
func (p *Prometheus) ChunkInferred(device model.Device, status string, elapsed time.Duration) {
	p.chunkInferences.WithLabelValues(string(device.Kind), status).Inc()
	p.chunkDuration.WithLabelValues(string(device.Kind)).Observe(elapsed.Seconds())
}

// Fallback records a CPU retry
func (p *Prometheus) Fallback() {
	p.fallbacks.Inc()
}

// FileFinished records a file reaching a terminal state
func (p *Prometheus) FileFinished(status string) {
	p.files.WithLabelValues(status).Inc()
}

// Registry exposes the underlying registry
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// WriteTextfile writes all metrics to path atomically
func (p *Prometheus) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.registry)
}

// Noop discards all events
type Noop struct{}

func (Noop) ChunkInferred(model.Device, string, time.Duration) {}
func (Noop) Fallback()                                           {}
func (Noop) FileFinished(string)                                 {}
