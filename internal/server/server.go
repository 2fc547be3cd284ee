package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"hello-tcp/internal/events"
	"hello-tcp/internal/handler"
	"hello-tcp/internal/logger"
	"hello-tcp/internal/worker"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Config はアクセプタの設定
type Config struct {
	Addr         string        // 待ち受けアドレス
	PollInterval time.Duration // Accept のデッドライン（0で無効）
	ConnTimeout  time.Duration // 接続ごとの読み書きデッドライン（0で無効）
	MaxConns     int           // 同時接続数の上限（0で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:7878",
		PollInterval: 0,
		ConnTimeout:  30 * time.Second,
		MaxConns:     0,
	}
}

// Option はサーバーの設定オプション
type Option func(*Server)

// WithEventBus はイベントバスを設定する
func WithEventBus(bus *events.Bus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// Server は接続を受け付けてワーカープールに渡す
type Server struct {
	config Config
	pool   *worker.Pool
	handle handler.Func
	bus    *events.Bus

	mu       sync.RWMutex
	listener net.Listener

	accepted atomic.Uint64
}

// New は新しいサーバーを作成する
func New(config Config, pool *worker.Pool, handle handler.Func, opts ...Option) *Server {
	s := &Server{
		config: config,
		pool:   pool,
		handle: handle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve は config.Addr で待ち受け、ctx がキャンセルされるまで接続を受け付ける
// 戻る前に必ずプールをシャットダウンする
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.pool.Shutdown()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener は既存のリスナーで接続を受け付ける
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	defer s.pool.Shutdown()

	base := ln
	if s.config.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConns)
	}
	defer func() { _ = ln.Close() }()

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// キャンセルされたらリスナーを閉じて Accept を解除する
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	logger.Info("", "Listening on %s (workers: %d)", ln.Addr(), s.pool.Size())

	var backoff time.Duration
	for {
		s.setAcceptDeadline(base)

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("", "Shutdown requested, acceptor stopping")
				return nil
			}
			if isTimeout(err) {
				backoff = 0
				continue
			}
			if isTransient(err) {
				backoff = nextBackoff(backoff)
				logger.Warn("", "Accept error: %v; retrying in %v", err, backoff)
				if !sleepCtx(ctx, backoff) {
					logger.Info("", "Shutdown requested, acceptor stopping")
					return nil
				}
				continue
			}
			logger.Error("", "Listener failed: %v", err)
			return fmt.Errorf("accept: %w", err)
		}

		backoff = 0
		s.dispatch(conn)
	}
}

// dispatch は接続をジョブに包んでプールに送る
func (s *Server) dispatch(conn net.Conn) {
	s.accepted.Add(1)

	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	logger.Debug(id, "Accepted connection from %s", remote)
	s.bus.Publish(events.NewConnectionAcceptedEvent(id, remote))

	job := func() {
		if s.config.ConnTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(s.config.ConnTimeout))
		}
		if err := s.handle(id, conn); err != nil {
			logger.Warn(id, "Failed to handle connection: %v", err)
			s.bus.Publish(events.NewHandlerFailedEvent(id, err))
		}
	}

	if !s.pool.Execute(job) {
		_ = conn.Close()
	}
}

// setAcceptDeadline は PollInterval が設定されていれば Accept にデッドラインを付ける
func (s *Server) setAcceptDeadline(ln net.Listener) {
	if s.config.PollInterval <= 0 {
		return
	}
	if d, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		_ = d.SetDeadline(time.Now().Add(s.config.PollInterval))
	}
}

// Addr は待ち受け中のアドレスを返す（未起動なら nil）
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Accepted は受け付けた接続数を返す
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Pool はサーバーが使うワーカープールを返す
func (s *Server) Pool() *worker.Pool {
	return s.pool
}

// isTimeout は Accept のデッドライン超過かどうかを判定する
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isTransient は再試行すれば回復しうるエラーかどうかを判定する
func isTransient(err error) bool {
	for _, errno := range []syscall.Errno{
		syscall.ECONNABORTED,
		syscall.ECONNRESET,
		syscall.EINTR,
		syscall.EAGAIN,
		syscall.EMFILE,
		syscall.ENFILE,
		syscall.ENOBUFS,
		syscall.ENOMEM,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

// sleepCtx は d だけ待つ。ctx がキャンセルされたら false を返す
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
