package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hello-tcp/internal/events"
	"hello-tcp/internal/metrics"
	"hello-tcp/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("127.0.0.1:0", deps)
	h, err := s.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestStatusEndpoint(t *testing.T) {
	pool, err := worker.Build(3)
	require.NoError(t, err)
	defer pool.Shutdown()

	pool.Execute(func() {})

	_, ts := newTestServer(t, Deps{Pool: pool})

	require.Eventually(t, func() bool { return pool.Stats().Completed == 1 }, time.Second, time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 3, status.Pool.Size)
	assert.Equal(t, uint64(1), status.Pool.Submitted)
	assert.Equal(t, uint64(1), status.Pool.Completed)
}

func TestStatusMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, Deps{})

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Record("GET /", 10*time.Millisecond, nil)

	_, ts := newTestServer(t, Deps{Metrics: m})

	resp, err := http.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.Routes["GET /"])
}

func TestMetricsEndpointUnavailable(t *testing.T) {
	_, ts := newTestServer(t, Deps{})

	resp, err := http.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	pool, err := worker.Build(1, WithTestName(), worker.WithMetrics(reg))
	require.NoError(t, err)
	defer pool.Shutdown()

	_, ts := newTestServer(t, Deps{Pool: pool, Gatherer: reg})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello_tcp_pool_workers")
}

func TestIndexPage(t *testing.T) {
	_, ts := newTestServer(t, Deps{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "hello-tcp admin"))
}

func TestWebSocketForwardsEvents(t *testing.T) {
	bus := events.NewBus()
	s, ts := newTestServer(t, Deps{Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.forwardEvents(ctx)
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, err := websocket.Dial(wsURL, "", ts.URL)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, time.Millisecond)

	bus.Publish(events.NewWorkerStoppedEvent(2))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw string
	require.NoError(t, websocket.Message.Receive(ws, &raw))

	var msg struct {
		Type  string       `json:"type"`
		Event events.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, events.EventWorkerStopped, msg.Event.Type)
	require.NotNil(t, msg.Event.Data.WorkerID)
	assert.Equal(t, 2, *msg.Event.Data.WorkerID)
}

func TestTickBroadcastsWindowedRPS(t *testing.T) {
	m := metrics.New()
	for range 5 {
		m.Record("GET /", time.Millisecond, nil)
	}
	s, ts := newTestServer(t, Deps{Metrics: m})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, err := websocket.Dial(wsURL, "", ts.URL)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, time.Millisecond)

	s.tick()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw string
	require.NoError(t, websocket.Message.Receive(ws, &raw))

	var msg struct {
		Type string  `json:"type"`
		RPS  float64 `json:"rps"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "status", msg.Type)
	assert.Greater(t, msg.RPS, 0.0)

	// 配信後は新しいウィンドウが始まり、累計は残る
	assert.Equal(t, 0.0, m.RPS())
	assert.Equal(t, uint64(5), m.TotalRequests())
}

func TestStatusReportsDroppedEvents(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// 購読者のバッファを溢れさせる
	for range 150 {
		bus.Publish(events.NewWorkerStoppedEvent(0))
	}

	_, ts := newTestServer(t, Deps{Bus: bus})

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, uint64(50), status.EventsDropped)
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("admin server did not stop")
	}
}

// WithTestName はテスト用のプール名を付ける
func WithTestName() worker.Option {
	return worker.WithName("api_test")
}
