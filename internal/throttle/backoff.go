package throttle

import "time"

// BackoffPolicy は連続失敗に対する待ち時間の規則
type BackoffPolicy struct {
	Base      time.Duration
	Max       time.Duration
	Threshold int
}

// DefaultBackoffPolicy はデフォルトの規則を返す
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:      500 * time.Millisecond,
		Max:       5 * time.Second,
		Threshold: 10,
	}
}

// Delay は連続失敗数に対する待ち時間を返す。閾値未満は0
func (p BackoffPolicy) Delay(failures int) time.Duration {
	if failures < p.Threshold || failures <= 0 {
		return 0
	}
	d := p.Base * time.Duration(failures)
	if d > p.Max || d < 0 {
		return p.Max
	}
	return d
}

// Backoff はワーカーごとの連続失敗カウンタ
type Backoff struct {
	policy   BackoffPolicy
	failures int
}

// NewBackoff は新しいカウンタを作成する
func NewBackoff(policy BackoffPolicy) *Backoff {
	return &Backoff{policy: policy}
}

// Success はカウンタをリセットする
func (b *Backoff) Success() {
	b.failures = 0
}

// Failure はカウンタを進め、次の反復の前に待つ時間を返す
func (b *Backoff) Failure() time.Duration {
	b.failures++
	return b.policy.Delay(b.failures)
}

// Count は現在の連続失敗数を返す
func (b *Backoff) Count() int {
	return b.failures
}
