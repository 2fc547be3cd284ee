package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"hello-tcp/internal/logger"
	"hello-tcp/internal/metrics"
	"hello-tcp/internal/worker"

	"golang.org/x/sync/semaphore"
)

// ErrNoResponse はサーバーがステータス行を返さずに切断したことを表す
var ErrNoResponse = errors.New("server closed connection without a response")

// Config はClientの設定
type Config struct {
	Addr          string        // 接続先アドレス
	Concurrency   int           // 同時接続数（0でCPU数）
	Paths         []string      // 順番に送るリクエストパス
	RequestsLimit uint64        // リクエスト上限（0で無制限）
	Timeout       time.Duration // 1リクエストあたりのタイムアウト
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:7878",
		Concurrency: 0, // CPU数
		Paths:       []string{"/"},
		Timeout:     10 * time.Second,
	}
}

// Client は負荷生成器
type Client struct {
	config  Config
	metrics *metrics.Metrics
	dialer  net.Dialer

	next    atomic.Uint64
	running atomic.Bool
}

// New は新しいClientを作成する
func New(config Config) *Client {
	if config.Concurrency <= 0 {
		config.Concurrency = runtime.NumCPU()
	}
	if len(config.Paths) == 0 {
		config.Paths = []string{"/"}
	}
	return &Client{
		config:  config,
		metrics: metrics.New(),
		dialer:  net.Dialer{Timeout: config.Timeout},
	}
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// RunRequests は指定数のリクエストを実行する
// count は今回の実行にだけ使い、Config.RequestsLimit は変更しない
func (c *Client) RunRequests(ctx context.Context, count uint64) (*metrics.Snapshot, error) {
	return c.run(ctx, count)
}

// RunFor は指定時間だけ負荷生成を実行する
func (c *Client) RunFor(ctx context.Context, duration time.Duration) (*metrics.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	return c.run(ctx, c.config.RequestsLimit)
}

// run は ctx が終わるか limit 件に達するまでリクエストを投入する（0で無制限）
func (c *Client) run(ctx context.Context, limit uint64) (*metrics.Snapshot, error) {
	if c.running.Swap(true) {
		return nil, errors.New("client already running")
	}
	defer c.running.Store(false)

	pool, err := worker.Build(c.config.Concurrency, worker.WithName("client"))
	if err != nil {
		return nil, err
	}

	logger.Info("", "Client started (addr: %s, concurrency: %d, paths: %s)",
		c.config.Addr, c.config.Concurrency, strings.Join(c.config.Paths, ","))

	// キューが無制限に伸びないよう同時実行数で投入を絞る
	sem := semaphore.NewWeighted(int64(c.config.Concurrency))
	var submitted uint64
	for limit == 0 || submitted < limit {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		path := c.nextPath()
		if !pool.Execute(func() {
			defer sem.Release(1)
			c.request(ctx, path)
		}) {
			sem.Release(1)
			break
		}
		submitted++
	}

	pool.Shutdown()
	logger.Info("", "Client stopped (%d requests)", c.metrics.TotalRequests())

	snapshot := c.metrics.Snapshot()
	return &snapshot, nil
}

func (c *Client) nextPath() string {
	i := c.next.Add(1) - 1
	return c.config.Paths[i%uint64(len(c.config.Paths))]
}

// request は1接続で1リクエストを送り、結果を記録する
func (c *Client) request(ctx context.Context, path string) {
	start := time.Now()
	status, err := c.roundTrip(ctx, path)
	if err != nil {
		logger.Debug("client", "GET %s failed: %v", path, err)
	}
	c.metrics.Record(statusLabel(status), time.Since(start), err)
}

func (c *Client) roundTrip(ctx context.Context, path string) (string, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.config.Addr)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if c.config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
	}

	if _, err := fmt.Fprintf(conn, "GET %s HTTP/1.1\r\n\r\n", path); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err == nil {
			return "", ErrNoResponse
		}
		return "", fmt.Errorf("read status: %w", errors.Join(ErrNoResponse, err))
	}
	return line, nil
}

// statusLabel は "HTTP/1.1 200 OK" から "200" を取り出す
func statusLabel(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "no_response"
	}
	return fields[1]
}
