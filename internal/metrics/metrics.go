// Package metrics exposes simulator counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "offline_sns"

// Recorder owns a private registry so several simulators can live in one
// process. A nil Recorder records nothing.
type Recorder struct {
	reg       *prometheus.Registry
	published *prometheus.CounterVec
	rejected  prometheus.Counter
	dropped   *prometheus.CounterVec
	invoked   *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Accepted publish requests by topic.",
		}, []string{"topic"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Publish requests rejected as malformed.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Acknowledged publishes whose dispatch could not be queued, by topic.",
		}, []string{"topic"}),
		invoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Subscriber invocations by function and result.",
		}, []string{"function", "result"}),
	}
	r.reg.MustRegister(
		r.published,
		r.rejected,
		r.dropped,
		r.invoked,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) Published(topic string) {
	if r == nil {
		return
	}
	r.published.WithLabelValues(topic).Inc()
}

func (r *Recorder) Rejected() {
	if r == nil {
		return
	}
	r.rejected.Inc()
}

func (r *Recorder) Dropped(topic string) {
	if r == nil {
		return
	}
	r.dropped.WithLabelValues(topic).Inc()
}

// Invoked counts one subscriber invocation; a non-nil err marks it failed.
func (r *Recorder) Invoked(function string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.invoked.WithLabelValues(function, result).Inc()
}

// Handler serves the exposition. A nil Recorder serves 404.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}
