package worker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hello-tcp/internal/events"
	"hello-tcp/internal/logger"
	"hello-tcp/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
)

// Job はワーカーが実行するジョブを表す
// 必要な状態はクロージャに閉じ込め、一度だけ実行される
type Job func()

// Option はプールの設定オプション
type Option func(*Pool)

// WithName はログやメトリクスに使うプール名を設定する
func WithName(name string) Option {
	return func(p *Pool) {
		if name != "" {
			p.name = name
		}
	}
}

// WithEventBus はイベントバスを設定する
func WithEventBus(bus *events.Bus) Option {
	return func(p *Pool) {
		p.bus = bus
	}
}

// WithMetrics はPrometheusのレジストリにプールのメトリクスを登録する
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Pool) {
		p.registerer = reg
	}
}

// Stats はプールの統計
type Stats struct {
	Size      int    `json:"size"`
	Active    int    `json:"active"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Panicked  uint64 `json:"panicked"`
	Dropped   uint64 `json:"dropped"`
	Stopping  bool   `json:"stopping"`
}

// Pool は固定数のワーカーとジョブキューの送信側を保持する
type Pool struct {
	name    string
	jobs    *queue.Queue[Job]
	workers []*Worker

	stopping     atomic.Bool
	shutdownOnce sync.Once

	bus        *events.Bus
	registerer prometheus.Registerer
	metrics    *poolMetrics

	active    atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

// Worker はキューからジョブを取り出して実行するゴルーチン
type Worker struct {
	id   int
	done chan struct{}
}

// ID はワーカーIDを返す
func (w *Worker) ID() int {
	return w.id
}

// Build は size 個のワーカーを持つプールを作成する
// size が1未満の場合はゴルーチンを起動せずに InvalidPoolSizeError を返す
func Build(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, &InvalidPoolSizeError{Size: size}
	}

	p := &Pool{
		name: "worker",
		jobs: queue.New[Job](),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registerer != nil {
		m, err := newPoolMetrics(p)
		if err != nil {
			return nil, fmt.Errorf("failed to register pool metrics: %w", err)
		}
		p.metrics = m
	}

	p.workers = make([]*Worker, 0, size)
	for id := range size {
		p.workers = append(p.workers, p.spawn(id))
	}

	logger.Info("", "WorkerPool %q started with %d workers", p.name, size)
	return p, nil
}

// spawn はワーカーを作成し、すぐに待機状態に入る
func (p *Pool) spawn(id int) *Worker {
	w := &Worker{
		id:   id,
		done: make(chan struct{}),
	}
	go p.run(w)
	return w
}

// run はワーカーのメインループ
// キューが閉じられて空になるまでジョブを一つずつ実行する
func (p *Pool) run(w *Worker) {
	defer close(w.done)

	scope := p.scope(w.id)
	for {
		job, ok := p.jobs.Receive()
		if !ok {
			return
		}
		logger.Debug(scope, "Worker %d received a new job", w.id)
		p.runJob(w.id, job)
	}
}

// runJob はジョブを実行し、パニックをワーカー内に閉じ込める
func (p *Pool) runJob(id int, job Job) {
	p.active.Add(1)
	start := time.Now()

	defer func() {
		p.active.Add(-1)
		elapsed := time.Since(start)

		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.metrics.observe(statusPanicked, elapsed)
			logger.Error(p.scope(id), "Job panicked: %v", r)
			p.bus.Publish(events.NewJobPanickedEvent(id, r))
			return
		}

		p.completed.Add(1)
		p.metrics.observe(statusCompleted, elapsed)
	}()

	job()
}

// Execute はジョブをキューに送信する
// シャットダウン開始後は何もせず false を返す（ジョブは破棄される）
// 呼び出し側をブロックすることはない
func (p *Pool) Execute(job Job) bool {
	if job == nil {
		p.drop(fmt.Errorf("nil job"))
		return false
	}

	if p.stopping.Load() {
		p.drop(queue.ErrClosed)
		return false
	}

	if err := p.jobs.Send(job); err != nil {
		p.drop(err)
		return false
	}

	p.submitted.Add(1)
	p.metrics.submit()
	return true
}

// drop は破棄したジョブを記録する
func (p *Pool) drop(err error) {
	p.dropped.Add(1)
	p.metrics.drop()
	logger.Warn("", "WorkerPool %q discarded a job: %v", p.name, err)
	p.bus.Publish(events.NewJobDroppedEvent(err))
}

// Shutdown はキューを閉じ、全ワーカーの終了をID順に待つ
// 実行中のジョブは中断されない。複数回呼び出しても安全
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.stopping.Store(true)
		p.jobs.Close()

		for _, w := range p.workers {
			logger.Info(p.scope(w.id), "Shutting down worker %d", w.id)
			<-w.done
			p.bus.Publish(events.NewWorkerStoppedEvent(w.id))
		}

		logger.Info("", "WorkerPool %q stopped", p.name)
	})
}

// Size はワーカー数を返す
func (p *Pool) Size() int {
	return len(p.workers)
}

// QueueLen は未処理のジョブ数を返す
func (p *Pool) QueueLen() int {
	return p.jobs.Len()
}

// Active は実行中のジョブ数を返す
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Stopping はシャットダウンが開始されたかを返す
func (p *Pool) Stopping() bool {
	return p.stopping.Load()
}

// Stats は現在の統計を返す
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.Size(),
		Active:    p.Active(),
		Queued:    p.QueueLen(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Dropped:   p.dropped.Load(),
		Stopping:  p.Stopping(),
	}
}

func (p *Pool) scope(id int) string {
	return fmt.Sprintf("%s-%d", p.name, id)
}
