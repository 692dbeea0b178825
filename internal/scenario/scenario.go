package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"churn-bench/internal/chaos"
	"churn-bench/internal/checkpoint"
	"churn-bench/internal/client"
	"churn-bench/internal/events"
	"churn-bench/internal/gate"
	"churn-bench/internal/identity"
	"churn-bench/internal/ledger"
	"churn-bench/internal/logger"
	"churn-bench/internal/metrics"
	"churn-bench/internal/pressure"
	"churn-bench/internal/throttle"
	"churn-bench/internal/tracker"
	"churn-bench/internal/worker"
)

// FundParallelism は同時に払い出しを依頼するワーカー数
const FundParallelism = 8

// trackerStream はトラッカーの乱数列をワーカーループの乱数列と分ける
const trackerStream = 1 << 63

var (
	// ErrSetup はループ開始前の準備で失敗したことを示す
	ErrSetup = errors.New("setup failed")
	// ErrAlreadyRunning は実行中のEngineを再度Runしたときのエラー
	ErrAlreadyRunning = errors.New("scenario is already running")
)

// Config は1回の実行の設定
type Config struct {
	Name        string
	Description string

	// 接続先
	RPCURL    string
	FaucetURL string
	ProgramID string
	Simulate  bool // インプロセスのノードを使う

	Duration      time.Duration
	Workers       int
	BatchSize     int
	TargetTPS     float64 // 0で無制限
	MaxInflight   int
	CreatePct     int
	SeedObjects   int
	MaxTracked    int
	FeeBudget     uint64
	LargePayload  bool
	MaxIterations int    // ワーカーあたりの反復上限。0で無制限
	Seed          uint64 // ワーカーの乱数の種。0なら毎回異なる

	Thresholds     pressure.Thresholds
	SampleInterval time.Duration
	StatsInterval  time.Duration

	// Funding は払い出しのリトライ設定
	Funding client.FunderConfig

	// 出力先。空なら書き出さない
	OutputPath string
	SavePath   string
	LoadPath   string

	// カオス設定。Backend.ChaosTargetsがあるときだけ有効
	EnableChaos   bool
	ChaosInterval time.Duration
	AttackTypes   []chaos.AttackType
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:           "default",
		Description:    "Sustained churn with default settings",
		RPCURL:         "http://127.0.0.1:9000",
		FaucetURL:      "http://127.0.0.1:9123",
		Duration:       300 * time.Second,
		Workers:        8,
		BatchSize:      50,
		MaxInflight:    gate.DefaultMaxInflight,
		CreatePct:      5,
		SeedObjects:    500,
		MaxTracked:     tracker.DefaultCap,
		FeeBudget:      500_000_000,
		Thresholds:     pressure.DefaultThresholds(),
		SampleInterval: 500 * time.Millisecond,
		StatsInterval:  metrics.DefaultReportInterval,
		Funding:        client.DefaultFunderConfig(),
		ChaosInterval:  10 * time.Second,
		AttackTypes:    chaos.DefaultConfig().AttackTypes,
	}
}

func (c Config) payload() ledger.Payload {
	if c.LargePayload {
		return ledger.PayloadBlob
	}
	return ledger.PayloadCounter
}

// Backend は実行に使う台帳と払い出し元
type Backend struct {
	Ledger    ledger.Ledger
	Dispenser ledger.Dispenser
	// Sampler がnilなら/proc/meminfoを読む
	Sampler pressure.Sampler
	// ChaosTargets は障害を注入できるノード
	ChaosTargets []chaos.Target
}

// ResultConfig は結果に残す実効設定
type ResultConfig struct {
	Workers      int     `json:"workers"`
	BatchSize    int     `json:"batch_size"`
	CreatePct    int     `json:"create_pct"`
	MaxInflight  int     `json:"max_inflight"`
	TargetTPS    float64 `json:"target_tps"`
	LargePayload bool    `json:"large_payload"`
}

// Result は実行結果
type Result struct {
	RunID        string    `json:"run_id"`
	ScenarioName string    `json:"scenario"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`

	DurationSecs float64 `json:"duration_secs"`
	Submitted    uint64  `json:"tx_submitted"`
	Succeeded    uint64  `json:"tx_success"`
	Failed       uint64  `json:"tx_failed"`
	Created      uint64  `json:"objects_created"`
	Updated      uint64  `json:"objects_updated"`
	TPS          float64 `json:"tps"`

	P99Latency     time.Duration `json:"p99_latency_ns"`
	TrackedObjects int           `json:"tracked_objects"`
	PeakPressure   string        `json:"peak_pressure"`
	ChaosAttacks   uint64        `json:"chaos_attacks,omitempty"`

	Config ResultConfig `json:"config"`
}

// Engine は1回のベンチマーク実行を管理する
type Engine struct {
	config  Config
	backend Backend
	bus     *events.Bus
	stats   *metrics.BenchStats

	mu      sync.RWMutex
	running bool
	runID   string
	states  []*worker.State
	monitor *pressure.Monitor
	monkey  *chaos.Monkey
}

// NewEngine は新しいEngineを作成する
func NewEngine(config Config, backend Backend) *Engine {
	return &Engine{
		config:  config,
		backend: backend,
		stats:   metrics.New(),
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.bus = bus
}

// Config は実行設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Run はセットアップからワーカーの終了までを実行する。
// 準備の失敗はErrSetupで包んで返す。ループ中の送信失敗は統計に数えるだけ
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.runID = uuid.NewString()
	runID := e.runID
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.logConfig()
	e.bus.Publish(events.NewRunStartedEvent(runID))

	states, err := e.setup(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSetup, err)
		e.bus.Publish(events.NewRunCompletedEvent(runID, err))
		return nil, err
	}

	e.mu.Lock()
	e.states = states
	e.mu.Unlock()

	result, err := e.runLoop(ctx, states)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSetup, err)
		e.bus.Publish(events.NewRunCompletedEvent(runID, err))
		return nil, err
	}
	result.RunID = runID

	logger.Info("", "")
	logger.Info("", "===============================================================")
	logger.Info("", "  BENCHMARK COMPLETE")
	logger.Info("", "===============================================================")
	logger.Info("", "%s", e.stats.Snapshot().Line())

	err = e.persist(result, states)
	e.bus.Publish(events.NewRunCompletedEvent(runID, err))
	return result, err
}

func (e *Engine) logConfig() {
	c := e.config
	logger.Info("", "=== Scenario '%s' started ===", c.Name)
	logger.Info("", "Description:   %s", c.Description)
	logger.Info("", "Duration:      %v", c.Duration)
	logger.Info("", "Workers:       %d", c.Workers)
	logger.Info("", "Batch Size:    %d objects/tx", c.BatchSize)
	logger.Info("", "Max Inflight:  %d", c.MaxInflight)
	logger.Info("", "Create %%:      %d%%", c.CreatePct)
	logger.Info("", "Seed Objects:  %d per worker", c.SeedObjects)
	logger.Info("", "Memory Limit:  %.0f%% throttle, %.0f%% critical, %.0f%% emergency",
		c.Thresholds.Light*100, c.Thresholds.Critical*100, c.Thresholds.Emergency*100)
}

// setup はワーカーの状態を用意する。LoadPathがあれば復元し、なければ新規に作る
func (e *Engine) setup(ctx context.Context) ([]*worker.State, error) {
	if e.backend.Ledger == nil || e.backend.Dispenser == nil {
		return nil, errors.New("backend needs a ledger and a dispenser")
	}
	if !e.config.Simulate {
		if _, err := ledger.ParseProgramID(e.config.ProgramID); err != nil {
			return nil, err
		}
	}

	funder := client.NewFunder(e.backend.Dispenser, e.backend.Ledger, e.config.Funding)
	start := time.Now()

	if e.config.LoadPath != "" {
		states, err := e.restoreStates(ctx, funder)
		if err != nil {
			return nil, err
		}
		logger.Info("", "Loaded %d workers in %.1fs", len(states), time.Since(start).Seconds())

		refreshStart := time.Now()
		logger.Info("", "Refreshing object versions from ledger...")
		if err := e.refreshStates(ctx, states); err != nil {
			return nil, err
		}
		logger.Info("", "Object versions refreshed in %.1fs", time.Since(refreshStart).Seconds())
		return states, nil
	}

	logger.Info("", "Initializing %d workers in parallel...", e.config.Workers)
	states, err := e.freshStates(ctx, funder)
	if err != nil {
		return nil, err
	}
	logger.Info("", "Workers initialized in %.1fs", time.Since(start).Seconds())

	seedStart := time.Now()
	logger.Info("", "Creating seed objects (%d per worker) in parallel...", e.config.SeedObjects)
	if err := e.seedStates(ctx, states); err != nil {
		return nil, err
	}
	logger.Info("", "Seed objects created in %.1fs", time.Since(seedStart).Seconds())
	return states, nil
}

func (e *Engine) freshStates(ctx context.Context, funder *client.Funder) ([]*worker.State, error) {
	if e.config.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", e.config.Workers)
	}

	states := make([]*worker.State, e.config.Workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(FundParallelism)
	for i := range states {
		g.Go(func() error {
			id, err := identity.Generate()
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			fee, err := funder.Fund(gctx, id.Address())
			if err != nil {
				return fmt.Errorf("worker %d: fund %s: %w", i, id.Address(), err)
			}
			states[i] = worker.NewState(i, id, fee, e.newTracker(i, nil))
			logger.Info("", "Worker %d: ready", i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// newTracker はワーカーのトラッカーを作る。Seedが指定されていればバッチ選択も再現できる
func (e *Engine) newTracker(workerID int, refs []ledger.Ref) *tracker.Tracker {
	if e.config.Seed == 0 {
		return tracker.FromRefs(e.config.MaxTracked, refs)
	}
	rng := rand.New(rand.NewPCG(e.config.Seed, trackerStream|uint64(workerID)))
	return tracker.FromRefsWithRand(e.config.MaxTracked, refs, rng)
}

func (e *Engine) seedStates(ctx context.Context, states []*worker.State) error {
	if e.config.SeedObjects <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range states {
		g.Go(func() error {
			n, err := st.Seed(gctx, e.backend.Ledger, e.config.SeedObjects, e.config.payload(), e.config.FeeBudget)
			if err != nil {
				return err
			}
			logger.Debug(st.Name(), "created %d seed objects, tracking %d", n, st.Tracked())
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) restoreStates(ctx context.Context, funder *client.Funder) ([]*worker.State, error) {
	logger.Info("", "Loading workers and objects from %s...", e.config.LoadPath)
	file, err := checkpoint.Load(e.config.LoadPath)
	if err != nil {
		return nil, err
	}
	logger.Info("", "Found %d saved workers with %d total objects", len(file.Workers), file.TotalObjects)
	if e.config.Workers > 0 && e.config.Workers != len(file.Workers) {
		logger.Warn("", "Checkpoint has %d workers, ignoring --workers=%d", len(file.Workers), e.config.Workers)
	}

	states := make([]*worker.State, len(file.Workers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(FundParallelism)
	for i, rec := range file.Workers {
		g.Go(func() error {
			id, err := rec.Identity()
			if err != nil {
				return err
			}
			fee, err := funder.Fund(gctx, id.Address())
			if err != nil {
				return fmt.Errorf("worker %d: fund %s: %w", rec.WorkerID, id.Address(), err)
			}
			states[i] = worker.NewState(rec.WorkerID, id, fee, e.newTracker(rec.WorkerID, rec.Objects))
			logger.Info("", "Worker %d: restored with %d objects (address: %s)",
				rec.WorkerID, len(rec.Objects), shortAddress(id.Address()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

func (e *Engine) refreshStates(ctx context.Context, states []*worker.State) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range states {
		g.Go(func() error {
			removed, err := st.Refresh(gctx, e.backend.Ledger)
			if err != nil {
				return fmt.Errorf("%s: refresh: %w", st.Name(), err)
			}
			if removed > 0 {
				logger.Debug(st.Name(), "refreshed %d objects (%d no longer exist)", st.Tracked(), removed)
			} else {
				logger.Debug(st.Name(), "refreshed %d objects", st.Tracked())
			}
			return nil
		})
	}
	return g.Wait()
}

// runLoop は監視を起動し、期限か停止までワーカーを回す
func (e *Engine) runLoop(ctx context.Context, states []*worker.State) (*Result, error) {
	cfg := e.config
	result := &Result{
		ScenarioName: cfg.Name,
		Config: ResultConfig{
			Workers:      len(states),
			BatchSize:    cfg.BatchSize,
			CreatePct:    cfg.CreatePct,
			MaxInflight:  cfg.MaxInflight,
			TargetTPS:    cfg.TargetTPS,
			LargePayload: cfg.LargePayload,
		},
	}

	monitor := pressure.New(pressure.Config{
		Thresholds: cfg.Thresholds,
		Interval:   cfg.SampleInterval,
	}, e.sampler())
	monitor.SetEventBus(e.bus)

	rate := throttle.NewRateController(throttle.DefaultRateConfig())
	rate.SetEventBus(e.bus)

	g := gate.New(cfg.MaxInflight)
	defer g.Close()

	wcfg := worker.DefaultConfig()
	wcfg.BatchSize = cfg.BatchSize
	wcfg.CreatePct = cfg.CreatePct
	wcfg.LargePayload = cfg.LargePayload
	wcfg.FeeBudget = cfg.FeeBudget
	wcfg.TargetTPS = cfg.TargetTPS
	wcfg.MaxIterations = cfg.MaxIterations
	wcfg.Seed = cfg.Seed

	pool, err := worker.NewPool(wcfg, worker.Deps{
		Ledger:   e.backend.Ledger,
		Gate:     g,
		Stats:    e.stats,
		Pressure: monitor,
		Rate:     rate,
		Bus:      e.bus,
	}, states)
	if err != nil {
		return nil, err
	}

	var monkey *chaos.Monkey
	if cfg.EnableChaos && len(e.backend.ChaosTargets) > 0 {
		ccfg := chaos.DefaultConfig()
		if cfg.ChaosInterval > 0 {
			ccfg.Interval = cfg.ChaosInterval
		}
		if len(cfg.AttackTypes) > 0 {
			ccfg.AttackTypes = cfg.AttackTypes
		}
		monkey = chaos.New(e.backend.ChaosTargets, ccfg)
		monkey.SetEventBus(e.bus)
	}

	e.mu.Lock()
	e.monitor = monitor
	e.monkey = monkey
	e.mu.Unlock()

	e.stats.Begin()
	result.StartTime = e.stats.StartTime()

	monitor.Start(ctx)
	reporter := metrics.NewReporter(e.stats, cfg.StatsInterval)
	reporter.Start(ctx)
	if monkey != nil {
		monkey.Start(ctx)
	}

	logger.Info("", "")
	logger.Info("", "===============================================================")
	logger.Info("", "  BENCHMARK STARTED (duration: %v)", cfg.Duration)
	logger.Info("", "===============================================================")

	pool.Start(ctx, time.Now().Add(cfg.Duration))
	select {
	case <-pool.Done():
	case <-ctx.Done():
		logger.Info("", "Stop requested, waiting for in-flight submissions...")
		pool.Stop()
	}

	if monkey != nil {
		monkey.Stop()
		result.ChaosAttacks = monkey.AttackCount()
	}
	reporter.Stop()
	monitor.Stop()

	snap := e.stats.Snapshot()
	result.EndTime = time.Now()
	result.DurationSecs = snap.Elapsed.Seconds()
	result.Submitted = snap.Submitted
	result.Succeeded = snap.Succeeded
	result.Failed = snap.Failed
	result.Created = snap.Created
	result.Updated = snap.Updated
	result.TPS = snap.TPS()
	result.P99Latency = snap.P99Latency
	result.PeakPressure = monitor.Peak().String()
	for _, st := range states {
		result.TrackedObjects += st.Tracked()
	}
	return result, nil
}

func (e *Engine) sampler() pressure.Sampler {
	if e.backend.Sampler != nil {
		return e.backend.Sampler
	}
	s, err := pressure.NewMemInfoSampler("")
	if err != nil {
		logger.Warn("pressure", "Memory sampling unavailable, pressure stays Normal: %v", err)
		return pressure.SamplerFunc(func() (float64, error) { return 0, nil })
	}
	return s
}

// persist は結果とチェックポイントを書き出す。どちらかが失敗しても両方試す
func (e *Engine) persist(result *Result, states []*worker.State) error {
	var errs error

	if e.config.OutputPath != "" {
		if err := WriteResult(e.config.OutputPath, result); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			logger.Info("", "Results written to %s", e.config.OutputPath)
		}
	}

	if e.config.SavePath != "" {
		logger.Info("", "Saving objects and keypairs to %s...", e.config.SavePath)
		records := make([]checkpoint.Record, 0, len(states))
		for _, st := range states {
			records = append(records, st.Record())
		}
		file, err := checkpoint.Save(e.config.SavePath, records)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			logger.Info("", "Saved %d objects and %d worker keypairs to %s",
				file.TotalObjects, len(file.Workers), e.config.SavePath)
		}
	}
	return errs
}

// WriteResult は結果をJSONで書き出す
func WriteResult(path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:16]
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, `
================================================================================
                         BENCHMARK REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Run ID:         %s
  Start Time:     %s
  End Time:       %s
  Duration:       %.1fs

SUBMISSIONS
-----------
  Submitted:        %d
  Success:          %d
  Failed:           %d
  TPS:              %.1f
  P99 Latency:      %v

OBJECTS
-------
  Created:          %d
  Updated:          %d
  Tracked at end:   %d

THROTTLING
----------
  Peak Pressure:    %s
`,
		r.ScenarioName,
		r.RunID,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.DurationSecs,
		r.Submitted,
		r.Succeeded,
		r.Failed,
		r.TPS,
		r.P99Latency.Round(time.Microsecond),
		r.Created,
		r.Updated,
		r.TrackedObjects,
		r.PeakPressure,
	)
	if r.ChaosAttacks > 0 {
		fmt.Fprintf(&b, "  Chaos Attacks:    %d\n", r.ChaosAttacks)
	}

	fmt.Fprintf(&b, `
CONFIGURATION
-------------
  Workers:          %d
  Batch Size:       %d
  Create %%:         %d
  Max Inflight:     %d
`,
		r.Config.Workers,
		r.Config.BatchSize,
		r.Config.CreatePct,
		r.Config.MaxInflight,
	)
	b.WriteString("\n================================================================================")
	return b.String()
}

// Running は実行中かどうかを返す
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// RunID は現在または直前の実行のIDを返す
func (e *Engine) RunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// Stats は集計を返す
func (e *Engine) Stats() *metrics.BenchStats {
	return e.stats
}

// PressureLevel は現在のメモリ逼迫レベルを返す
func (e *Engine) PressureLevel() pressure.Level {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.monitor == nil {
		return pressure.Normal
	}
	return e.monitor.Level()
}

// Workers は各ワーカーの要約を返す
func (e *Engine) Workers() []worker.Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]worker.Summary, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st.Summary())
	}
	return out
}

// ChaosStats はカオス統計を返す。カオスが無効ならnil
func (e *Engine) ChaosStats() *chaos.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.monkey == nil {
		return nil
	}
	stats := e.monkey.Stats()
	return &stats
}
