package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"churn-bench/internal/events"
	"churn-bench/internal/gate"
	"churn-bench/internal/ledger"
	"churn-bench/internal/logger"
	"churn-bench/internal/metrics"
	"churn-bench/internal/pressure"
	"churn-bench/internal/throttle"
)

// Config はワーカーループの設定
type Config struct {
	BatchSize int
	// BlobBatchCap は大きいペイロードのときのバッチ上限
	BlobBatchCap int
	// CreatePct は作成を選ぶ確率（0〜100）
	CreatePct    int
	LargePayload bool
	FeeBudget    uint64
	// TargetTPS はプール全体の目標送信数。0で無制限
	TargetTPS float64
	// MaxIterations はワーカーあたりの反復上限。0で無制限
	MaxIterations int
	// EmptyPoolWait は緊急時に追跡集合が空のとき待つ時間
	EmptyPoolWait time.Duration
	Backoff       throttle.BackoffPolicy
	// Policy はメモリ逼迫レベルごとの行動。nilならpressure.PolicyFor
	Policy func(pressure.Level) pressure.Throttle
	// Seed は乱数の種。0なら毎回異なる
	Seed uint64
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		BatchSize:     50,
		BlobBatchCap:  20,
		CreatePct:     5,
		FeeBudget:     500_000_000,
		EmptyPoolWait: time.Second,
		Backoff:       throttle.DefaultBackoffPolicy(),
		Policy:        pressure.PolicyFor,
	}
}

// Deps はワーカーが共有するコンポーネント
type Deps struct {
	Ledger   ledger.Ledger
	Gate     *gate.Gate
	Stats    *metrics.BenchStats
	Pressure pressure.LevelSource
	Rate     *throttle.RateController
	Bus      *events.Bus
}

// Pool はワーカーごとのゴルーチンを管理する
type Pool struct {
	cfg    Config
	deps   Deps
	states []*State

	mu       sync.Mutex
	started  bool
	stopping atomic.Bool
	active   atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewPool は新しいワーカープールを作成する。未指定の依存はデフォルトで補う
func NewPool(cfg Config, deps Deps, states []*State) (*Pool, error) {
	if deps.Ledger == nil {
		return nil, errors.New("worker pool needs a ledger")
	}
	if len(states) == 0 {
		return nil, errors.New("worker pool needs at least one worker")
	}

	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BlobBatchCap <= 0 {
		cfg.BlobBatchCap = def.BlobBatchCap
	}
	if cfg.FeeBudget == 0 {
		cfg.FeeBudget = def.FeeBudget
	}
	if cfg.EmptyPoolWait <= 0 {
		cfg.EmptyPoolWait = def.EmptyPoolWait
	}
	if cfg.Backoff == (throttle.BackoffPolicy{}) {
		cfg.Backoff = def.Backoff
	}
	if cfg.Policy == nil {
		cfg.Policy = def.Policy
	}

	if deps.Gate == nil {
		deps.Gate = gate.New(gate.DefaultMaxInflight)
	}
	if deps.Stats == nil {
		deps.Stats = metrics.New()
	}
	if deps.Pressure == nil {
		deps.Pressure = pressure.Static(pressure.Normal)
	}
	if deps.Rate == nil {
		deps.Rate = throttle.NewRateController(throttle.DefaultRateConfig())
	}

	return &Pool{
		cfg:    cfg,
		deps:   deps,
		states: states,
		done:   make(chan struct{}),
	}, nil
}

// Start は全ワーカーを起動する。deadlineを過ぎたワーカーは次の反復に入らない
func (p *Pool) Start(ctx context.Context, deadline time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for _, st := range p.states {
		p.wg.Add(1)
		p.active.Add(1)
		go p.run(st, deadline)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	logger.Info("", "WorkerPool started with %d workers", len(p.states))
}

// Stop は停止フラグを立て、実行中の送信が終わるのを待つ
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if p.stopping.Swap(true) {
		<-p.done
		return
	}
	p.cancel()
	<-p.done

	logger.Info("", "WorkerPool stopped")
}

// Wait は全ワーカーが終了するまで待つ
func (p *Pool) Wait() {
	<-p.done
}

// Done は全ワーカーが終了すると閉じられるチャネルを返す
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Running は動作中のワーカー数を返す
func (p *Pool) Running() int {
	return int(p.active.Load())
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return len(p.states)
}

// States はワーカーの状態を返す
func (p *Pool) States() []*State {
	return p.states
}

func (p *Pool) alive(deadline time.Time) bool {
	if p.stopping.Load() || p.ctx.Err() != nil {
		return false
	}
	return deadline.IsZero() || time.Now().Before(deadline)
}
