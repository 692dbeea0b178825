package pressure

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"churn-bench/internal/events"
	"churn-bench/internal/logger"
)

var (
	usageGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "churn",
		Name:      "memory_usage_ratio",
		Help:      "Host memory usage as sampled by the pressure monitor",
	})
	levelGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "churn",
		Name:      "pressure_level",
		Help:      "Current memory pressure level (0 normal, 1 light, 2 heavy, 3 emergency)",
	})
)

// Config はモニターの設定
type Config struct {
	Thresholds Thresholds
	// Interval はサンプリング間隔
	Interval time.Duration
	// RelogInterval は逼迫が続いている間に再度ログを出す間隔
	RelogInterval time.Duration
}

// DefaultConfig はデフォルトの設定を返す
func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		Interval:      500 * time.Millisecond,
		RelogInterval: 30 * time.Second,
	}
}

// Monitor は定期的にメモリ使用率を測り、現在のレベルを公開する
type Monitor struct {
	cfg     Config
	sampler Sampler
	bus     *events.Bus

	level     atomic.Uint32
	peak      atomic.Uint32
	usageBits atomic.Uint64

	// lastLog はサンプリングループからのみ触る
	lastLog time.Time

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New は新しいモニターを作成する
func New(cfg Config, sampler Sampler) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RelogInterval <= 0 {
		cfg.RelogInterval = def.RelogInterval
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	return &Monitor{cfg: cfg, sampler: sampler}
}

// SetEventBus はレベル変化の通知先を設定する
func (m *Monitor) SetEventBus(bus *events.Bus) {
	m.bus = bus
}

// Level は最後に観測したレベルを返す
func (m *Monitor) Level() Level {
	return Level(m.level.Load())
}

// Peak は観測した最大のレベルを返す
func (m *Monitor) Peak() Level {
	return Level(m.peak.Load())
}

// Usage は最後に観測した使用率を返す
func (m *Monitor) Usage() float64 {
	return math.Float64frombits(m.usageBits.Load())
}

// Start はサンプリングを開始する。最初の1回は呼び出し中に行う
func (m *Monitor) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.Sample()

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop はサンプリングを停止する
func (m *Monitor) Stop() {
	if !m.running.Swap(false) {
		return
	}
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample は使用率を1回測ってレベルを更新し、新しいレベルを返す。
// 読み取りに失敗した場合は使用率0として扱う
func (m *Monitor) Sample() Level {
	usage, err := m.sampler.Usage()
	if err != nil {
		logger.Debug("pressure", "memory sample failed: %v", err)
		usage = 0
	}

	level := m.cfg.Thresholds.Classify(usage)
	prev := Level(m.level.Swap(uint32(level)))
	m.usageBits.Store(math.Float64bits(usage))
	for {
		peak := m.peak.Load()
		if uint32(level) <= peak || m.peak.CompareAndSwap(peak, uint32(level)) {
			break
		}
	}

	usageGauge.Set(usage)
	levelGauge.Set(float64(level))

	now := time.Now()
	changed := level != prev
	if changed || (level != Normal && now.Sub(m.lastLog) >= m.cfg.RelogInterval) {
		m.report(level, prev, usage)
		m.lastLog = now
	}
	if changed {
		m.bus.Publish(events.NewPressureChangeEvent(prev.String(), level.String(), usage))
	}
	return level
}

func (m *Monitor) report(level, prev Level, usage float64) {
	pct := usage * 100
	switch level {
	case Emergency:
		logger.Warn("pressure", "EMERGENCY THROTTLE: %.1f%% - max delay, dropping 75%% objects, skipping creates", pct)
	case Heavy:
		logger.Warn("pressure", "HEAVY THROTTLE: %.1f%% - long delay, dropping 50%% objects", pct)
	case Light:
		logger.Warn("pressure", "LIGHT THROTTLE: %.1f%% - small delay, dropping 25%% objects", pct)
	default:
		if prev != Normal {
			logger.Info("pressure", "Memory recovered: %.1f%% - resuming normal operation", pct)
		}
	}
}
