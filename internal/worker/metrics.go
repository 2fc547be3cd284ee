package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusCompleted = "completed"
	statusPanicked  = "panicked"
)

// poolMetrics はプールのPrometheusメトリクス
// nil の場合は何も記録しない
type poolMetrics struct {
	submitted prometheus.Counter
	dropped   prometheus.Counter
	jobs      *prometheus.HistogramVec
}

func newPoolMetrics(p *Pool) (*poolMetrics, error) {
	labels := prometheus.Labels{"pool": p.name}

	m := &poolMetrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "hello_tcp",
			Subsystem:   "pool",
			Name:        "submitted_total",
			Help:        "Total jobs accepted into the queue",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "hello_tcp",
			Subsystem:   "pool",
			Name:        "dropped_total",
			Help:        "Total jobs discarded because the pool was shutting down",
			ConstLabels: labels,
		}),
		jobs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "hello_tcp",
			Subsystem:   "pool",
			Name:        "job_duration_seconds",
			Help:        "Time spent running jobs, by outcome",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"status"}),
	}

	queued := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "hello_tcp",
		Subsystem:   "pool",
		Name:        "queue_depth",
		Help:        "Jobs waiting for a worker",
		ConstLabels: labels,
	}, func() float64 { return float64(p.QueueLen()) })

	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "hello_tcp",
		Subsystem:   "pool",
		Name:        "active_jobs",
		Help:        "Jobs currently running",
		ConstLabels: labels,
	}, func() float64 { return float64(p.Active()) })

	size := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "hello_tcp",
		Subsystem:   "pool",
		Name:        "workers",
		Help:        "Number of workers in the pool",
		ConstLabels: labels,
	}, func() float64 { return float64(p.Size()) })

	collectors := []prometheus.Collector{m.submitted, m.dropped, m.jobs, queued, active, size}
	for i, c := range collectors {
		if err := p.registerer.Register(c); err != nil {
			// 途中まで登録したものを戻す
			for _, registered := range collectors[:i] {
				p.registerer.Unregister(registered)
			}
			return nil, err
		}
	}

	return m, nil
}

func (m *poolMetrics) submit() {
	if m == nil {
		return
	}
	m.submitted.Inc()
}

func (m *poolMetrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *poolMetrics) observe(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Observe(d.Seconds())
}
