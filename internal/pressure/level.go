package pressure

import "time"

// Level はメモリ逼迫度
type Level uint32

const (
	Normal Level = iota
	Light
	Heavy
	Emergency
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Light:
		return "light"
	case Heavy:
		return "heavy"
	case Emergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Thresholds は各レベルに入るメモリ使用率
type Thresholds struct {
	Light     float64 `json:"light" yaml:"light"`
	Critical  float64 `json:"critical" yaml:"critical"`
	Emergency float64 `json:"emergency" yaml:"emergency"`
}

// DefaultThresholds はデフォルトの閾値を返す
func DefaultThresholds() Thresholds {
	return Thresholds{
		Light:     0.75,
		Critical:  0.85,
		Emergency: 0.92,
	}
}

// Classify は使用率をレベルに変換する
func (t Thresholds) Classify(usage float64) Level {
	switch {
	case usage >= t.Emergency:
		return Emergency
	case usage >= t.Critical:
		return Heavy
	case usage >= t.Light:
		return Light
	default:
		return Normal
	}
}

// Throttle はレベルごとにワーカーが取る行動
type Throttle struct {
	EvictFraction float64
	Delay         time.Duration
	SkipCreates   bool
}

// PolicyFor はレベルに対応する行動を返す
func PolicyFor(level Level) Throttle {
	switch level {
	case Light:
		return Throttle{EvictFraction: 0.25, Delay: 250 * time.Millisecond}
	case Heavy:
		return Throttle{EvictFraction: 0.50, Delay: time.Second}
	case Emergency:
		return Throttle{EvictFraction: 0.75, Delay: 2 * time.Second, SkipCreates: true}
	default:
		return Throttle{}
	}
}

// LevelSource は現在のレベルを提供する
type LevelSource interface {
	Level() Level
}

// Static は常に同じレベルを返す
type Static Level

func (s Static) Level() Level {
	return Level(s)
}
