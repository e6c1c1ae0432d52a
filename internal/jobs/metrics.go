// Package jobmetrics instruments background jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	lifted    prometheus.Counter
	repaired  prometheus.Counter
	failedAcc prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddSweep records the outcome counts of one expiry sweep.
func (m *Metrics) AddSweep(lifted, repaired, failed int) {
	if m == nil {
		return
	}
	if lifted > 0 {
		m.lifted.Add(float64(lifted))
	}
	if repaired > 0 {
		m.repaired.Add(float64(repaired))
	}
	if failed > 0 {
		m.failedAcc.Add(float64(failed))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agora_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	lifted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agora_ban_sweep_lifted_total",
		Help: "Ban records lifted by the expiry sweep.",
	})
	repaired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agora_ban_sweep_repaired_total",
		Help: "Accounts whose status drift was repaired by the sweep.",
	})
	failedAcc := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agora_ban_sweep_accounts_failed_total",
		Help: "Accounts the sweep could not settle.",
	})
	registerer.MustRegister(runs, failures, duration, lifted, repaired, failedAcc)
	return &Metrics{runs: runs, failures: failures, duration: duration, lifted: lifted, repaired: repaired, failedAcc: failedAcc}
}
