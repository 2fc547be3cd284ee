package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultMaxLatencySamples = 1000

// Metrics は接続ごとのリクエストメトリクスを収集する
type Metrics struct {
	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	failedRequests  atomic.Uint64
	totalLatencyNs  atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowRequests    uint64
	latencies         []time.Duration
	maxLatencySamples int
	routes            map[string]uint64

	prom *promMetrics
}

// promMetrics はPrometheusへのミラー
type promMetrics struct {
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, defaultMaxLatencySamples),
		maxLatencySamples: defaultMaxLatencySamples,
		routes:            make(map[string]uint64),
	}
}

// Register はPrometheusのレジストリにカウンタを登録する
// name は hello_tcp_<name>_requests_total などの接頭辞になる
func (m *Metrics) Register(reg prometheus.Registerer, name string) error {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hello_tcp",
		Subsystem: name,
		Name:      "requests_total",
		Help:      "Handled connections by outcome",
	}, []string{"outcome"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hello_tcp",
		Subsystem: name,
		Name:      "request_duration_seconds",
		Help:      "Time from dequeue to connection close",
		Buckets:   prometheus.DefBuckets,
	})

	if err := reg.Register(requests); err != nil {
		return err
	}
	if err := reg.Register(latency); err != nil {
		reg.Unregister(requests)
		return err
	}

	m.mu.Lock()
	m.prom = &promMetrics{requests: requests, latency: latency}
	m.mu.Unlock()
	return nil
}

// Record はリクエストの結果を記録する
// err が nil なら成功、そうでなければ失敗として扱う
func (m *Metrics) Record(route string, latency time.Duration, err error) {
	if err != nil {
		m.RecordFailure(latency)
	} else {
		m.RecordSuccess(latency)
	}

	if route == "" {
		return
	}
	m.mu.Lock()
	m.routes[route]++
	m.mu.Unlock()
}

// RecordSuccess は成功したリクエストを記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.totalRequests.Add(1)
	m.successRequests.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	prom := m.prom
	m.mu.Unlock()

	prom.observe("success", latency)
}

// RecordFailure は失敗したリクエストを記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.totalRequests.Add(1)
	m.failedRequests.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	prom := m.prom
	m.mu.Unlock()

	prom.observe("failure", latency)
}

func (p *promMetrics) observe(outcome string, latency time.Duration) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(outcome).Inc()
	p.latency.Observe(latency.Seconds())
}

// TotalRequests は総リクエスト数を返す
func (m *Metrics) TotalRequests() uint64 {
	return m.totalRequests.Load()
}

// SuccessRequests は成功リクエスト数を返す
func (m *Metrics) SuccessRequests() uint64 {
	return m.successRequests.Load()
}

// FailedRequests は失敗リクエスト数を返す
func (m *Metrics) FailedRequests() uint64 {
	return m.failedRequests.Load()
}

// RPS は直近ウィンドウのRequests Per Secondを返す
func (m *Metrics) RPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowRequests) / elapsed
}

// OverallRPS は開始からの平均RPSを返す
func (m *Metrics) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalRequests.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency は成功リクエストのP99レイテンシを返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedRequests.Load()) / float64(total)
}

// Routes はルートごとのリクエスト数のコピーを返す
func (m *Metrics) Routes() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]uint64, len(m.routes))
	for k, v := range m.routes {
		out[k] = v
	}
	return out
}

// Reset はRPSのウィンドウを新しく始める
// 累計値とレイテンシのサンプルはそのまま残す
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests = 0
	m.lastResetTime = time.Now()
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalRequests   uint64            `json:"total_requests"`
	SuccessRequests uint64            `json:"success_requests"`
	FailedRequests  uint64            `json:"failed_requests"`
	RPS             float64           `json:"rps"`
	OverallRPS      float64           `json:"overall_rps"`
	AverageLatency  time.Duration     `json:"average_latency_ns"`
	P99Latency      time.Duration     `json:"p99_latency_ns"`
	ErrorRate       float64           `json:"error_rate"`
	Elapsed         time.Duration     `json:"elapsed_ns"`
	Routes          map[string]uint64 `json:"routes,omitempty"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:   m.TotalRequests(),
		SuccessRequests: m.SuccessRequests(),
		FailedRequests:  m.FailedRequests(),
		RPS:             m.RPS(),
		OverallRPS:      m.OverallRPS(),
		AverageLatency:  m.AverageLatency(),
		P99Latency:      m.P99Latency(),
		ErrorRate:       m.ErrorRate(),
		Elapsed:         time.Since(m.startTime),
		Routes:          m.Routes(),
	}
}
