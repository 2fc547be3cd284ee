// Package main is the entry point for hello-tcp.
package main

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"hello-tcp/internal/api"
	"hello-tcp/internal/client"
	"hello-tcp/internal/config"
	"hello-tcp/internal/events"
	"hello-tcp/internal/handler"
	"hello-tcp/internal/logger"
	"hello-tcp/internal/metrics"
	"hello-tcp/internal/server"
	"hello-tcp/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
)

// flagValues はコマンドラインで受け取った値
type flagValues struct {
	addr      string
	workers   int
	poll      time.Duration
	staticDir string
	logLevel  string
	admin     bool
	adminAddr string
}

// loadOptions は負荷生成モードの設定
type loadOptions struct {
	requests    uint64
	duration    time.Duration
	concurrency int
	paths       string
}

func main() {
	var (
		fv   flagValues
		load loadOptions
	)

	// フラグ定義
	configFile := flag.String("config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&fv.addr, "addr", "", "待ち受けアドレス (デフォルト 127.0.0.1:7878)")
	flag.IntVar(&fv.workers, "workers", 0, "ワーカー数 (デフォルト 4)")
	flag.DurationVar(&fv.poll, "poll", 0, "Accept のポーリング間隔 (0で無効)")
	flag.StringVar(&fv.staticDir, "static", "", "ページを読み込むディレクトリ (空なら組み込み)")
	flag.StringVar(&fv.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	flag.BoolVar(&fv.admin, "admin", false, "管理APIを有効化")
	flag.StringVar(&fv.adminAddr, "admin-addr", "", "管理APIのアドレス (デフォルト 127.0.0.1:9090)")
	loadMode := flag.Bool("load", false, "負荷生成モードで起動 (-addr のサーバーに接続)")
	flag.Uint64Var(&load.requests, "load-requests", 1000, "負荷生成のリクエスト数")
	flag.DurationVar(&load.duration, "load-duration", 0, "負荷生成の実行時間 (指定時は -load-requests より優先)")
	flag.IntVar(&load.concurrency, "load-concurrency", 0, "負荷生成の同時接続数 (0でCPU数)")
	flag.StringVar(&load.paths, "load-paths", "/", "負荷生成で送るパス (カンマ区切り)")
	showVersion := flag.Bool("version", false, "バージョンを表示")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `hello-tcp - Multithreaded TCP Hello Server

Usage:
  hello-tcp [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment:
  %[1]s_ADDR, %[1]s_POOL_SIZE, %[1]s_LOG_LEVEL, ... override the config file.
  Command line flags override the environment.

Examples:
  # デフォルト設定で起動
  hello-tcp

  # ワーカー数とアドレスを指定
  hello-tcp -workers 8 -addr 0.0.0.0:7878

  # 管理APIとPrometheusエンドポイントを有効化
  hello-tcp -admin -admin-addr :9090

  # 起動中のサーバーに負荷をかける
  hello-tcp -load -load-duration 10s -load-paths /,/sleep
`, config.EnvPrefix)
	}

	flag.Parse()

	// バージョン表示
	if *showVersion {
		fmt.Printf("hello-tcp version %s\n", version)
		return
	}

	// 明示的に指定されたフラグだけを上書きに使う
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	cfg, err := buildConfig(*configFile, fv, set)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Default.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *loadMode {
		if err := runLoad(ctx, cfg, load); err != nil {
			logger.Error("", "負荷生成エラー: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(ctx, cfg); err != nil {
		logger.Error("", "サーバーエラー: %v", err)
		os.Exit(1)
	}
}

// buildConfig は デフォルト → 設定ファイル → 環境変数 → フラグ の順に設定を解決する
func buildConfig(configFile string, fv flagValues, set map[string]bool) (config.Config, error) {
	cfg := config.Default()

	// 1. 設定ファイルから読み込み
	if configFile != "" {
		fileConfig, err := config.LoadFile(configFile)
		if err != nil {
			return cfg, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return cfg, fmt.Errorf("設定検証エラー: %w", err)
		}
		if err := fileConfig.Apply(&cfg); err != nil {
			return cfg, fmt.Errorf("設定変換エラー: %w", err)
		}
	}

	// 2. 環境変数でオーバーライド
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("環境変数エラー: %w", err)
	}

	// 3. フラグでオーバーライド
	if set["addr"] {
		cfg.Server.Addr = fv.addr
	}
	if set["workers"] {
		cfg.PoolSize = fv.workers
	}
	if set["poll"] {
		cfg.Server.PollInterval = fv.poll
	}
	if set["static"] {
		cfg.Handler.StaticDir = fv.staticDir
	}
	if set["log-level"] {
		cfg.LogLevel = fv.logLevel
	}
	if set["admin"] {
		cfg.Admin.Enabled = fv.admin
	}
	if set["admin-addr"] {
		cfg.Admin.Addr = fv.adminAddr
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runServer はプールとアクセプタを組み立て、シグナルを受けるまで接続を処理する
func runServer(ctx context.Context, cfg config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := events.NewBus()
	defer bus.Close()

	m := metrics.New()
	if err := m.Register(reg, "server"); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	pool, err := worker.Build(cfg.PoolSize,
		worker.WithName("conn"),
		worker.WithEventBus(bus),
		worker.WithMetrics(reg),
	)
	if err != nil {
		return err
	}

	h, err := handler.New(cfg.Handler, m)
	if err != nil {
		pool.Shutdown()
		return err
	}

	srv := server.New(cfg.Server, pool, h.Handle, server.WithEventBus(bus))

	fmt.Println("hello-tcp - Multithreaded TCP Hello Server")
	fmt.Println("==========================================")
	fmt.Printf("Listening: %s\n", cfg.Server.Addr)
	fmt.Printf("Workers: %d\n", cfg.PoolSize)
	if cfg.Admin.Enabled {
		fmt.Printf("Admin: http://%s\n", cfg.Admin.Addr)
	}
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	context.AfterFunc(ctx, func() {
		logger.Info("", "中断シグナルを受信、サーバーを終了中...")
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if cfg.Admin.Enabled {
		admin := api.NewServer(cfg.Admin.Addr, api.Deps{
			Pool:     pool,
			Acceptor: srv,
			Metrics:  m,
			Bus:      bus,
			Gatherer: reg,
		})
		g.Go(func() error {
			return admin.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Println(report("Served", m.Snapshot()))
	return nil
}

// runLoad は -addr のサーバーに負荷をかけて結果を表示する
func runLoad(ctx context.Context, cfg config.Config, opts loadOptions) error {
	clientConfig := client.DefaultConfig()
	clientConfig.Addr = cfg.Server.Addr
	clientConfig.Concurrency = opts.concurrency
	clientConfig.Paths = splitPaths(opts.paths)
	if cfg.Server.ConnTimeout > 0 {
		clientConfig.Timeout = cfg.Server.ConnTimeout
	}

	cl := client.New(clientConfig)

	var (
		snap *metrics.Snapshot
		err  error
	)
	if opts.duration > 0 {
		snap, err = cl.RunFor(ctx, opts.duration)
	} else {
		snap, err = cl.RunRequests(ctx, opts.requests)
	}
	if err != nil {
		return err
	}

	fmt.Println(report("Load", *snap))
	return nil
}

func splitPaths(s string) []string {
	var paths []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// report はスナップショットを表示用に整形する
func report(title string, snap metrics.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Report\n", title)
	sb.WriteString("====================================================\n")
	fmt.Fprintf(&sb, "Elapsed: %v\n", snap.Elapsed.Truncate(time.Millisecond))
	fmt.Fprintf(&sb, "Requests: %d (success: %d, failed: %d)\n",
		snap.TotalRequests, snap.SuccessRequests, snap.FailedRequests)
	fmt.Fprintf(&sb, "Overall RPS: %.2f\n", snap.OverallRPS)
	fmt.Fprintf(&sb, "Avg Latency: %v, P99 Latency: %v\n", snap.AverageLatency, snap.P99Latency)
	fmt.Fprintf(&sb, "Error Rate: %.2f%%\n", snap.ErrorRate*100)
	for _, route := range slices.Sorted(maps.Keys(snap.Routes)) {
		fmt.Fprintf(&sb, "  %-16s %d\n", route, snap.Routes[route])
	}
	return sb.String()
}
