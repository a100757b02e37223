// Package metrics exposes engine and HTTP measurements to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"touristguard/internal/domain"
)

// Collector bundles the service metrics. It satisfies engine.Recorder.
type Collector struct {
	gatherer prometheus.Gatherer

	SamplesIngested    prometheus.Counter
	SamplesRejected    *prometheus.CounterVec
	AlertsEmitted      *prometheus.CounterVec
	AlertsDropped      *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	Tourists           prometheus.Gauge
	Zones              *prometheus.GaugeVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDurations      *prometheus.HistogramVec
}

// New registers the metrics against reg, defaulting to the global registry
// when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ingested, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "touristguard_samples_ingested_total",
		Help: "Location samples accepted by the engine.",
	}), "touristguard_samples_ingested_total")
	if err != nil {
		return nil, err
	}

	rejected, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "touristguard_samples_rejected_total",
		Help: "Location samples rejected by the engine, labeled by reason.",
	}, []string{"reason"}), "touristguard_samples_rejected_total")
	if err != nil {
		return nil, err
	}

	emitted, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "touristguard_alerts_emitted_total",
		Help: "Alerts emitted, labeled by type and severity.",
	}, []string{"type", "severity"}), "touristguard_alerts_emitted_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "touristguard_alerts_dropped_total",
		Help: "Alerts dropped because a sink queue was full, labeled by sink.",
	}, []string{"sink"}), "touristguard_alerts_dropped_total")
	if err != nil {
		return nil, err
	}

	evaluation, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "touristguard_evaluation_duration_seconds",
		Help:    "Time spent processing one location sample.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
	}), "touristguard_evaluation_duration_seconds")
	if err != nil {
		return nil, err
	}

	tourists, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "touristguard_tourists",
		Help: "Tourists currently tracked by the engine.",
	}), "touristguard_tourists")
	if err != nil {
		return nil, err
	}

	zones, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "touristguard_zones",
		Help: "Registered zones, labeled by kind.",
	}, []string{"kind"}), "touristguard_zones")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "touristguard_http_requests_total",
		Help: "HTTP requests, labeled by method, route pattern and status code.",
	}, []string{"method", "route", "code"}), "touristguard_http_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "touristguard_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"}), "touristguard_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:           gatherer,
		SamplesIngested:    ingested,
		SamplesRejected:    rejected,
		AlertsEmitted:      emitted,
		AlertsDropped:      dropped,
		EvaluationDuration: evaluation,
		Tourists:           tourists,
		Zones:              zones,
		HTTPRequests:       requests,
		HTTPDurations:      durations,
	}, nil
}

func (c *Collector) SampleIngested() { c.SamplesIngested.Inc() }

func (c *Collector) SampleRejected(reason string) {
	c.SamplesRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) AlertEmitted(a domain.Alert) {
	c.AlertsEmitted.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}

func (c *Collector) ObserveEvaluation(d time.Duration) {
	c.EvaluationDuration.Observe(d.Seconds())
}

func (c *Collector) SetTourists(n int) { c.Tourists.Set(float64(n)) }

// AlertDropped returns a callback counting drops for the named sink.
func (c *Collector) AlertDropped(sink string) func(domain.Alert) {
	counter := c.AlertsDropped.WithLabelValues(sink)
	return func(domain.Alert) { counter.Inc() }
}

func (c *Collector) SetZoneCounts(counts map[domain.ZoneKind]int) {
	for _, kind := range []domain.ZoneKind{domain.ZoneSafe, domain.ZoneWarning, domain.ZoneDanger} {
		c.Zones.WithLabelValues(string(kind)).Set(float64(counts[kind]))
	}
}

// Middleware records request counts and durations keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
