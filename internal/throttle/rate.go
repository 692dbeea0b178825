package throttle

import (
	"sync/atomic"
	"time"

	"churn-bench/internal/events"
	"churn-bench/internal/logger"
	"churn-bench/internal/metrics"
)

// Severity は失敗率の深刻度
type Severity int

const (
	SeverityNone Severity = iota
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// RateConfig は失敗率に応じた減速の設定
type RateConfig struct {
	// MinSamples 以下の送信数では減速しない
	MinSamples    uint64
	HighRate      float64
	HighDelay     time.Duration
	CriticalRate  float64
	CriticalDelay time.Duration
}

// DefaultRateConfig はデフォルトの設定を返す
func DefaultRateConfig() RateConfig {
	return RateConfig{
		MinSamples:    100,
		HighRate:      0.10,
		HighDelay:     200 * time.Millisecond,
		CriticalRate:  0.30,
		CriticalDelay: 5 * time.Second,
	}
}

// Decision は1回の評価結果
type Decision struct {
	Severity Severity
	Rate     float64
	Delay    time.Duration
}

// RateController は全体の失敗率から次の送信前の待ち時間を決める
type RateController struct {
	cfg      RateConfig
	bus      *events.Bus
	breached atomic.Bool
}

// NewRateController は新しいコントローラを作成する
func NewRateController(cfg RateConfig) *RateController {
	return &RateController{cfg: cfg}
}

// SetEventBus は通知先のイベントバスを設定する
func (c *RateController) SetEventBus(bus *events.Bus) {
	c.bus = bus
}

// Config は設定を返す
func (c *RateController) Config() RateConfig {
	return c.cfg
}

// Evaluate は送信数と失敗数から待ち時間を計算する
func (c *RateController) Evaluate(submitted, failed uint64) Decision {
	if submitted <= c.cfg.MinSamples {
		return Decision{}
	}

	rate := float64(failed) / float64(submitted)
	switch {
	case rate > c.cfg.CriticalRate:
		return Decision{Severity: SeverityCritical, Rate: rate, Delay: c.cfg.CriticalDelay}
	case rate > c.cfg.HighRate:
		return Decision{Severity: SeverityHigh, Rate: rate, Delay: c.cfg.HighDelay}
	default:
		return Decision{Rate: rate}
	}
}

// Observe はスナップショットを評価し、危険水準に入ったときに一度だけ警告する
func (c *RateController) Observe(snap metrics.Snapshot) time.Duration {
	d := c.Evaluate(snap.Submitted, snap.Failed)

	if d.Severity == SeverityCritical {
		if !c.breached.Swap(true) {
			logger.Warn("throttle", "Critical failure rate (%.1f%%) - pausing %v", d.Rate*100, d.Delay)
			c.bus.Publish(events.NewFailureRateBreachEvent(d.Rate, d.Delay))
		}
	} else if c.breached.Swap(false) {
		logger.Info("throttle", "Failure rate back to %.1f%%", d.Rate*100)
	}

	return d.Delay
}
