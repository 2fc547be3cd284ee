package handler

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"hello-tcp/internal/logger"
	"hello-tcp/internal/metrics"
)

//go:embed static/*
var staticFiles embed.FS

const (
	statusOK       = "HTTP/1.1 200 OK"
	statusNotFound = "HTTP/1.1 404 NOT FOUND"

	pageHello    = "hello.html"
	pageNotFound = "404.html"

	// maxRequestLine はリクエスト行の最大長
	maxRequestLine = 8 * 1024
)

var (
	// ErrEmptyRequest はリクエスト行が読めなかった場合に返される
	ErrEmptyRequest = errors.New("request empty")

	// ErrRequestedFailure は /error ルートが返すエラー
	ErrRequestedFailure = errors.New("oh no")

	// ErrRequestTooLong はリクエスト行が長すぎる場合に返される
	ErrRequestTooLong = errors.New("request line too long")
)

// Func は接続を一つ受け取って処理する
// 接続の所有権を持ち、必ずクローズする
// nil を返した場合はレスポンスを書き終えている
type Func func(scope string, conn net.Conn) error

var _ Func = (*Handler)(nil).Handle

// Config はハンドラの設定
type Config struct {
	StaticDir  string        // ページを読むディレクトリ（空なら組み込み）
	SleepDelay time.Duration // /sleep の待機時間
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		SleepDelay: 5 * time.Second,
	}
}

// route はリクエスト行に対する応答
type route struct {
	status string
	page   string
	sleep  bool
	fail   bool
}

var routes = map[string]route{
	"GET / HTTP/1.1":      {status: statusOK, page: pageHello},
	"GET /sleep HTTP/1.1": {status: statusOK, page: pageHello, sleep: true},
	"GET /error HTTP/1.1": {fail: true},
}

var notFound = route{status: statusNotFound, page: pageNotFound}

// Handler はリクエスト行を解釈してページを返す
type Handler struct {
	config  Config
	pages   fs.FS
	metrics *metrics.Metrics
}

// New は新しいハンドラを作成する
func New(config Config, m *metrics.Metrics) (*Handler, error) {
	pages, err := pageFS(config.StaticDir)
	if err != nil {
		return nil, err
	}
	return &Handler{
		config:  config,
		pages:   pages,
		metrics: m,
	}, nil
}

// pageFS はページの読み込み元を決める
func pageFS(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(staticFiles, "static")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("static dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static dir %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// Handle は一つの接続を処理する
// scope はログに付ける接続ID
func (h *Handler) Handle(scope string, conn net.Conn) (err error) {
	defer func() { _ = conn.Close() }()

	start := time.Now()
	line := ""
	defer func() {
		if h.metrics != nil {
			h.metrics.Record(routeLabel(line), time.Since(start), err)
		}
	}()

	line, err = readRequestLine(conn)
	if err != nil {
		return err
	}
	logger.Info(scope, "Incoming request: %s", line)

	r, ok := routes[line]
	if !ok {
		r = notFound
	}
	if r.fail {
		return ErrRequestedFailure
	}
	if r.sleep && h.config.SleepDelay > 0 {
		time.Sleep(h.config.SleepDelay)
	}

	logger.Info(scope, "Response: %s", r.status)

	contents, err := fs.ReadFile(h.pages, r.page)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", r.page, err)
	}

	if _, err := io.WriteString(conn, formatResponse(r.status, contents)); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// readRequestLine は最初の一行を読み、改行を取り除いて返す
func readRequestLine(conn net.Conn) (string, error) {
	reader := bufio.NewReaderSize(conn, 1024)

	var sb strings.Builder
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() == 0 {
				return "", ErrEmptyRequest
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("failed to read request: %w", err)
		}
		sb.Write(chunk)
		if sb.Len() > maxRequestLine {
			return "", ErrRequestTooLong
		}
		if !isPrefix {
			break
		}
	}

	return sb.String(), nil
}

// formatResponse はステータス行、Content-Length、本文を組み立てる
func formatResponse(status string, body []byte) string {
	return fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n%s", status, len(body), body)
}

// routeLabel はメトリクス用のルート名を返す
// 未知のリクエストは一つのラベルにまとめる
func routeLabel(line string) string {
	if line == "" {
		return ""
	}
	if _, ok := routes[line]; ok {
		return strings.TrimSuffix(line, " HTTP/1.1")
	}
	return "not_found"
}
