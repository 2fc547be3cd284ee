package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()

	if m.TotalRequests() != 0 {
		t.Errorf("expected 0 total requests, got %d", m.TotalRequests())
	}
	if m.AverageLatency() != 0 || m.P99Latency() != 0 || m.ErrorRate() != 0 {
		t.Error("expected zero derived values on empty metrics")
	}
}

func TestRecord(t *testing.T) {
	m := New()

	m.Record("GET /", 10*time.Millisecond, nil)
	m.Record("GET /", 20*time.Millisecond, nil)
	m.Record("GET /error", 5*time.Millisecond, errors.New("oh no"))
	m.Record("", time.Millisecond, nil)

	if m.TotalRequests() != 4 {
		t.Errorf("expected 4 total requests, got %d", m.TotalRequests())
	}
	if m.SuccessRequests() != 3 {
		t.Errorf("expected 3 success requests, got %d", m.SuccessRequests())
	}
	if m.FailedRequests() != 1 {
		t.Errorf("expected 1 failed request, got %d", m.FailedRequests())
	}

	routes := m.Routes()
	if routes["GET /"] != 2 || routes["GET /error"] != 1 {
		t.Errorf("unexpected routes: %v", routes)
	}
	if _, ok := routes[""]; ok {
		t.Error("empty route should not be tracked")
	}
}

func TestAverageLatency(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)

	if avg := m.AverageLatency(); avg != 20*time.Millisecond {
		t.Errorf("expected average latency 20ms, got %v", avg)
	}
}

func TestErrorRate(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(10 * time.Millisecond)

	if rate := m.ErrorRate(); rate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", rate)
	}
}

func TestP99Latency(t *testing.T) {
	m := New()

	for i := 1; i <= 100; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	p99 := m.P99Latency()
	if p99 < 99*time.Millisecond || p99 > 100*time.Millisecond {
		t.Errorf("expected P99 around 99-100ms, got %v", p99)
	}
}

func TestReset(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	p99 := m.P99Latency()
	m.Reset()

	if m.RPS() != 0 {
		t.Errorf("expected RPS 0 after reset, got %f", m.RPS())
	}
	if m.TotalRequests() != 2 {
		t.Errorf("expected total 2 after reset, got %d", m.TotalRequests())
	}
	if m.P99Latency() != p99 {
		t.Errorf("expected latency samples to survive reset, got %v want %v", m.P99Latency(), p99)
	}

	// リセット後のリクエストだけが新しいウィンドウに数えられる
	m.RecordSuccess(time.Millisecond)
	if m.RPS() <= 0 {
		t.Error("expected positive RPS for the new window")
	}
	if m.OverallRPS() <= 0 {
		t.Error("expected positive overall RPS")
	}
}

func TestConcurrentRecord(t *testing.T) {
	m := New()
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.Record("GET /", time.Millisecond, nil)
			}
		}()
	}
	wg.Wait()

	if m.TotalRequests() != 10000 {
		t.Errorf("expected 10000 requests, got %d", m.TotalRequests())
	}
	if m.Routes()["GET /"] != 10000 {
		t.Errorf("expected 10000 route hits, got %d", m.Routes()["GET /"])
	}
}

func TestSnapshot(t *testing.T) {
	m := New()

	m.Record("GET /", 10*time.Millisecond, nil)
	m.Record("GET /error", 20*time.Millisecond, errors.New("fail"))

	snap := m.Snapshot()

	if snap.TotalRequests != 2 || snap.SuccessRequests != 1 || snap.FailedRequests != 1 {
		t.Errorf("unexpected snapshot counts: %+v", snap)
	}
	if len(snap.Routes) != 2 {
		t.Errorf("expected 2 routes, got %v", snap.Routes)
	}
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()

	if err := m.Register(reg, "server"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	m.Record("GET /", time.Millisecond, nil)
	m.Record("GET /", time.Millisecond, nil)
	m.Record("GET /error", time.Millisecond, errors.New("fail"))

	if got := testutil.ToFloat64(m.prom.requests.WithLabelValues("success")); got != 2 {
		t.Errorf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.prom.requests.WithLabelValues("failure")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}

	// 二重登録はエラー
	if err := New().Register(reg, "server"); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
