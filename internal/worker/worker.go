package worker

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/atomic"

	"kvload/internal/logger"
)

// Job はワーカーが実行するジョブを表す。ctx はプールの Start に渡したもの。
type Job func(ctx context.Context)

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers  int // ワーカー数（0でCPU数）
	QueueFactor int // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  0,
		QueueFactor: 1,
	}
}

// Pool は固定数のゴルーチンでジョブを実行する
type Pool struct {
	numWorkers int
	jobs       chan Job
	wg         sync.WaitGroup // ワーカー
	pending    sync.WaitGroup // 投入済みで未完了のジョブ
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopping   atomic.Bool
	busy       atomic.Int64
	done       atomic.Uint64
	mu         sync.Mutex
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 以下の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*queueFactor),
	}
}

// Start はワーカープールを起動する
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.worker()
	}

	logger.Debug("", "WorkerPool started with %d workers", p.numWorkers)
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	defer p.pending.Done()

	p.busy.Inc()
	defer p.busy.Dec()

	job(p.ctx)
	p.done.Inc()
}

// drain はキャンセル後に残ったジョブをキャンセル済みの ctx で実行する。
// Submit が true を返したジョブは必ず一度呼ばれる。
func (p *Pool) drain() {
	for {
		select {
		case job := <-p.jobs:
			p.run(job)
		default:
			return
		}
	}
}

// Submit はジョブを送信し、キューに空きがなければブロックする。
// プールが停止中またはキャンセル済みなら false を返す。
func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started || p.stopping.Load() {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	p.pending.Add(1)
	select {
	case <-p.ctx.Done():
		p.pending.Done()
		return false
	case p.jobs <- job:
		return true
	}
}

// Wait は投入済みのジョブがすべて終わるまで待つ
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Stop はワーカープールを停止する。実行中のジョブの終了を待つ。
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.stopping.Store(true)
	p.cancel()
	p.wg.Wait()
	p.drain()

	p.mu.Lock()
	p.started = false
	p.stopping.Store(false)
	p.mu.Unlock()

	logger.Debug("", "WorkerPool stopped (%d jobs done)", p.done.Load())
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Busy は実行中のジョブ数を返す
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Completed は完了したジョブ数を返す
func (p *Pool) Completed() uint64 {
	return p.done.Load()
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}
