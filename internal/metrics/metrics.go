// Package metrics exports the driver's runtime counters in the Prometheus
// text format.
//
// A [Recorder] owns its own registry so tests and multiple instances never
// collide on the global default registerer. All Recorder methods are safe on
// a nil receiver, which is how metrics are disabled.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "driver"

// ///////////////////////////////////////////////
// Recorder
// ///////////////////////////////////////////////

// Recorder holds the driver's collectors.
type Recorder struct {
	registry *prometheus.Registry

	works        prometheus.Counter
	workErrors   prometheus.Counter
	workDuration prometheus.Histogram
	events       *prometheus.CounterVec
	state        *prometheus.GaugeVec
}

// States lists the label values of the state gauge, in lifecycle order.
var States = []string{"starting", "running", "stopping", "stopped"}

// New registers the driver collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.works = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "loop",
		Name:      "works_total",
		Help:      "Units of periodic work performed.",
	})
	r.workErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "loop",
		Name:      "work_errors_total",
		Help:      "Units of periodic work that returned an error.",
	})
	r.workDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "loop",
		Name:      "work_duration_seconds",
		Help:      "Duration of one unit of periodic work.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	r.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "control",
		Name:      "events_total",
		Help:      "Control events received, by kind and whether they were handled.",
	}, []string{"event", "handled"})
	r.state = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "loop",
		Name:      "state",
		Help:      "1 for the service loop's current state, 0 otherwise.",
	}, []string{"state"})

	r.registry.MustRegister(
		r.works,
		r.workErrors,
		r.workDuration,
		r.events,
		r.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range States {
		r.state.WithLabelValues(s).Set(0)
	}
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveWork records one unit of work that took d and returned err.
func (r *Recorder) ObserveWork(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.works.Inc()
	r.workDuration.Observe(d.Seconds())
	if err != nil {
		r.workErrors.Inc()
	}
}

// ObserveState marks state as the loop's current state.
func (r *Recorder) ObserveState(state string) {
	if r == nil {
		return
	}
	for _, s := range States {
		if s != state {
			r.state.WithLabelValues(s).Set(0)
		}
	}
	r.state.WithLabelValues(state).Set(1)
}

// ObserveEvent counts one control event.
func (r *Recorder) ObserveEvent(event string, handled bool) {
	if r == nil {
		return
	}
	h := "false"
	if handled {
		h = "true"
	}
	r.events.WithLabelValues(event, h).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// Server exposes a Recorder on /metrics.
type Server struct {
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// Listen binds addr and starts serving r in the background. Use port 0 to
// pick a free port; [Server.Addr] reports the bound address.
func Listen(addr string, r *Recorder, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
	log.Debug("metrics listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close shuts the server down, waiting up to timeout for in-flight scrapes.
func (s *Server) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	if err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
