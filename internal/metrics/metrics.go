// Package metrics exports optimizer progress as prometheus metrics.
package metrics

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lcfit"

// Recorder collects fit metrics in its own registry.
type Recorder struct {
	registry *prometheus.Registry

	iterations  *prometheus.CounterVec
	bestCost    *prometheus.GaugeVec
	fits        *prometheus.CounterVec
	fitDuration prometheus.Histogram
	finalCost   prometheus.Gauge
}

// NewRecorder creates a recorder with every collector registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimizer_iterations_total",
			Help:      "Optimizer iterations reported, by stage.",
		}, []string{"stage"}),
		bestCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "optimizer_best_cost",
			Help:      "Best cost reported by the most recent iteration, by stage.",
		}, []string{"stage"}),
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fits_total",
			Help:      "Completed fits, by outcome.",
		}, []string{"outcome"}),
		fitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_duration_seconds",
			Help:      "Wall time of completed fits.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		finalCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fit_final_cost",
			Help:      "Unregularized cost of the most recent successful fit.",
		}),
	}
	r.registry.MustRegister(r.iterations, r.bestCost, r.fits, r.fitDuration, r.finalCost)
	return r
}

// Registry returns the registry holding the recorder's collectors
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe has the opt.ProgressFunc signature. Non-finite costs only count the iteration.
func (r *Recorder) Observe(stage string, iteration int, best float64) {
	r.iterations.WithLabelValues(stage).Inc()
	if math.IsNaN(best) || math.IsInf(best, 0) {
		return
	}
	r.bestCost.WithLabelValues(stage).Set(best)
}

// ObserveFit records the outcome of one fit.
func (r *Recorder) ObserveFit(duration time.Duration, cost float64, err error) {
	if err != nil {
		r.fits.WithLabelValues("error").Inc()
		return
	}
	r.fits.WithLabelValues("success").Inc()
	r.fitDuration.Observe(duration.Seconds())
	r.finalCost.Set(cost)
}

// Handler serves the registry in the prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
