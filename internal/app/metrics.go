package app

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/worklets/internal/native"
)

// Collector records runtime metrics in its own Prometheus registry. It
// implements native.Recorder.
type Collector struct {
	registry  *prometheus.Registry
	namespace string

	frames        prometheus.Counter
	frameDuration prometheus.Histogram
	events        *prometheus.CounterVec
	eventHandlers *prometheus.CounterVec
	mapperRuns    prometheus.Counter
	mappersRun    prometheus.Counter
	mapperLatency prometheus.Histogram
	workletErrors *prometheus.CounterVec
	reloads       *prometheus.CounterVec
	uptime        prometheus.GaugeFunc

	startTime time.Time

	mu      sync.Mutex
	watched bool
}

// NewCollector creates a collector. An empty namespace becomes "worklets".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "worklets"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		namespace: namespace,
		startTime: time.Now(),
	}

	c.frames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frame",
		Name:      "rendered_total",
		Help:      "Frames that ran frame callbacks or mappers",
	})
	c.frameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "frame",
		Name:      "duration_seconds",
		Help:      "Time spent rendering a frame on the UI thread",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
	})
	c.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "dispatched_total",
		Help:      "Events dispatched to at least one handler",
	}, []string{"event"})
	c.eventHandlers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "handler_calls_total",
		Help:      "Event handler invocations",
	}, []string{"event"})
	c.mapperRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "passes_total",
		Help:      "Mapper execution passes",
	})
	c.mappersRun = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "runs_total",
		Help:      "Individual mapper invocations",
	})
	c.mapperLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "pass_duration_seconds",
		Help:      "Time spent in one mapper execution pass",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
	c.workletErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worklet",
		Name:      "errors_total",
		Help:      "Worklet failures reported to the error handler",
	}, []string{"source"})
	c.reloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "config",
		Name:      "reloads_total",
		Help:      "Configuration reloads by result",
	}, []string{"result"})
	c.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the collector was created",
	}, func() float64 { return time.Since(c.startTime).Seconds() })

	c.registry.MustRegister(
		c.frames,
		c.frameDuration,
		c.events,
		c.eventHandlers,
		c.mapperRuns,
		c.mappersRun,
		c.mapperLatency,
		c.workletErrors,
		c.reloads,
		c.uptime,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WatchStats registers gauges sampled from stats at scrape time. Only the
// first call has an effect.
func (c *Collector) WatchStats(stats func() native.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watched {
		return
	}
	c.watched = true

	gauge := func(subsystem, name, help string, value func(native.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}
	c.registry.MustRegister(
		gauge("event", "handlers", "Registered event handlers", func(s native.Stats) float64 { return float64(s.Handlers) }),
		gauge("mapper", "active", "Registered mappers", func(s native.Stats) float64 { return float64(s.Mappers) }),
		gauge("frame", "pending_callbacks", "Frame callbacks waiting for the next frame", func(s native.Stats) float64 { return float64(s.FrameCallbacks) }),
		gauge("shared", "values", "Values in the shared store", func(s native.Stats) float64 { return float64(s.SharedValues) }),
		gauge("thread", "ui_pending", "Tasks queued on the UI thread", func(s native.Stats) float64 { return float64(s.UIPending) }),
		gauge("thread", "js_pending", "Tasks queued on the JS thread", func(s native.Stats) float64 { return float64(s.JSPending) }),
	)
}

// RecordFrame records one rendered frame.
func (c *Collector) RecordFrame(d time.Duration) {
	c.frames.Inc()
	c.frameDuration.Observe(d.Seconds())
}

// RecordEvent records an event dispatched to handlers.
func (c *Collector) RecordEvent(name string, handlers int) {
	c.events.WithLabelValues(name).Inc()
	c.eventHandlers.WithLabelValues(name).Add(float64(handlers))
}

// RecordMapperRun records one mapper execution pass.
func (c *Collector) RecordMapperRun(ran int, d time.Duration) {
	c.mapperRuns.Inc()
	c.mappersRun.Add(float64(ran))
	c.mapperLatency.Observe(d.Seconds())
}

// RecordWorkletError records a reported worklet failure.
func (c *Collector) RecordWorkletError(source string) {
	if source == "" {
		source = "unknown"
	}
	c.workletErrors.WithLabelValues(source).Inc()
}

// RecordReload records a configuration reload attempt.
func (c *Collector) RecordReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.reloads.WithLabelValues(result).Inc()
}

var _ native.Recorder = (*Collector)(nil)
