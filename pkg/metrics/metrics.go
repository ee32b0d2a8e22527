// Package metrics exposes station counters in Prometheus format.
//
// Counters are read from their owners at scrape time (CounterFunc and
// GaugeFunc), so the hot path never touches Prometheus except for the frame
// timing histogram.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-inspect/pkg/bridge"
)

const namespace = "inspect"

// Sources are read on every scrape. Nil entries are skipped.
type Sources struct {
	Bridge  func() bridge.Stats
	Frames  func() uint64         // Camera frames handled
	Sampled func() uint64         // Frames picked by the sampler
	Viewers func() map[string]int // Dashboard clients per stream
}

// Metrics owns a registry with the station collectors.
type Metrics struct {
	reg *prometheus.Registry

	// FrameSeconds times one camera callback: crop, display and submit.
	FrameSeconds prometheus.Histogram
}

// New builds the registry.
func New(src Sources) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		FrameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_handle_seconds",
			Help:      "Time spent handling one camera frame.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
	}
	reg.MustRegister(m.FrameSeconds)

	if src.Frames != nil {
		reg.MustRegister(counter("frames_total", "Camera frames handled.", src.Frames))
	}
	if src.Sampled != nil {
		reg.MustRegister(counter("frames_sampled_total", "Frames selected for inference.", src.Sampled))
	}
	if src.Bridge != nil {
		registerBridge(reg, src.Bridge)
	}
	if src.Viewers != nil {
		for _, stream := range []string{"live", "overlay", "logs", "status"} {
			stream := stream
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "dashboard_viewers",
				Help:        "Connected dashboard clients.",
				ConstLabels: prometheus.Labels{"stream": stream},
			}, func() float64 { return float64(src.Viewers()[stream]) }))
		}
	}

	return m
}

func counter(name, help string, fn func() uint64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) })
}

func registerBridge(reg *prometheus.Registry, stats func() bridge.Stats) {
	fields := []struct {
		name, help string
		get        func(bridge.Stats) uint64
	}{
		{"bridge_starts_total", "Inference process starts.", func(s bridge.Stats) uint64 { return s.Starts }},
		{"bridge_submitted_total", "Frames written to the inference process.", func(s bridge.Stats) uint64 { return s.Submitted }},
		{"bridge_dropped_total", "Sampled frames that were not delivered.", func(s bridge.Stats) uint64 { return s.Dropped }},
		{"bridge_write_failures_total", "Failed request writes.", func(s bridge.Stats) uint64 { return s.WriteFailures }},
		{"bridge_results_total", "Result lines received.", func(s bridge.Stats) uint64 { return s.Results }},
		{"bridge_overlays_total", "Overlays decoded and shown.", func(s bridge.Stats) uint64 { return s.Overlays }},
		{"bridge_malformed_total", "Stdout lines that were not results.", func(s bridge.Stats) uint64 { return s.Malformed }},
		{"bridge_decode_failures_total", "Overlays that failed to decode.", func(s bridge.Stats) uint64 { return s.DecodeFailures }},
		{"bridge_worker_errors_total", "Error results reported by the worker.", func(s bridge.Stats) uint64 { return s.WorkerErrors }},
		{"bridge_stderr_lines_total", "Diagnostic lines from the worker.", func(s bridge.Stats) uint64 { return s.StderrLines }},
	}
	for _, f := range fields {
		get := f.get
		reg.MustRegister(counter(f.name, f.help, func() uint64 { return get(stats()) }))
	}

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bridge_running",
		Help:      "1 while the inference process is running.",
	}, func() float64 {
		if stats().State == bridge.StateRunning.String() {
			return 1
		}
		return 0
	}))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
