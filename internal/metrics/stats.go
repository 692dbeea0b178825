package metrics

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const defaultLatencySamples = 1000

// BenchStats は送信結果の累計を集計する
type BenchStats struct {
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	created   atomic.Uint64
	updated   atomic.Uint64

	startNanos atomic.Int64

	mu                sync.Mutex
	latencies         []time.Duration
	maxLatencySamples int
	// cursor は上限到達後に次に上書きするサンプル位置
	cursor int
}

// New は新しい集計を作成する。計測開始時刻は現在時刻
func New() *BenchStats {
	s := &BenchStats{
		latencies:         make([]time.Duration, 0, defaultLatencySamples),
		maxLatencySamples: defaultLatencySamples,
	}
	s.Begin()
	return s
}

// Begin は計測開始時刻を現在時刻に設定する
func (s *BenchStats) Begin() {
	s.startNanos.Store(time.Now().UnixNano())
}

// StartTime は計測開始時刻を返す
func (s *BenchStats) StartTime() time.Time {
	return time.Unix(0, s.startNanos.Load())
}

// RecordSuccess は成功した送信を記録する
func (s *BenchStats) RecordSuccess(created, updated int) {
	s.submitted.Add(1)
	s.succeeded.Add(1)
	if created > 0 {
		s.created.Add(uint64(created))
	}
	if updated > 0 {
		s.updated.Add(uint64(updated))
	}
}

// RecordFailure は失敗した送信を記録する
func (s *BenchStats) RecordFailure() {
	s.submitted.Add(1)
	s.failed.Add(1)
}

// ObserveLatency は送信の所要時間をサンプルとして記録する
func (s *BenchStats) ObserveLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) < s.maxLatencySamples {
		s.latencies = append(s.latencies, d)
		return
	}
	// 上限に達したら最も古いサンプルから順に上書きする
	s.latencies[s.cursor] = d
	s.cursor = (s.cursor + 1) % s.maxLatencySamples
}

func (s *BenchStats) latencyPercentile(p float64) time.Duration {
	s.mu.Lock()
	sorted := slices.Clone(s.latencies)
	s.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Snapshot は集計値のスナップショット
type Snapshot struct {
	Submitted  uint64        `json:"submitted"`
	Succeeded  uint64        `json:"succeeded"`
	Failed     uint64        `json:"failed"`
	Created    uint64        `json:"created"`
	Updated    uint64        `json:"updated"`
	Elapsed    time.Duration `json:"elapsed"`
	P99Latency time.Duration `json:"p99_latency"`
}

// Snapshot は現在の集計値を返す。
// 結果のカウンタを先に読むので submitted >= succeeded + failed が保たれる
func (s *BenchStats) Snapshot() Snapshot {
	snap := s.Counts()
	snap.P99Latency = s.latencyPercentile(0.99)
	return snap
}

// Counts はカウンタと経過時間だけのスナップショットを返す。
// ロックを取らないのでワーカーの反復ごとに呼んでよい。P99Latency は0のまま
func (s *BenchStats) Counts() Snapshot {
	succeeded := s.succeeded.Load()
	failed := s.failed.Load()
	created := s.created.Load()
	updated := s.updated.Load()
	return Snapshot{
		Submitted: s.submitted.Load(),
		Succeeded: succeeded,
		Failed:    failed,
		Created:   created,
		Updated:   updated,
		Elapsed:   time.Since(s.StartTime()),
	}
}

// TPS は成功した送信の毎秒件数を返す
func (s Snapshot) TPS() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Succeeded) / secs
}

// OpsRate は作成と更新を合わせたオブジェクト操作の毎秒件数を返す
func (s Snapshot) OpsRate() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Created+s.Updated) / secs
}

// FailureRate は失敗率を返す（0.0〜1.0）
func (s Snapshot) FailureRate() float64 {
	if s.Submitted == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Submitted)
}

// Line は進捗ログ1行分の文字列を返す
func (s Snapshot) Line() string {
	return fmt.Sprintf(
		"Elapsed: %.1fs | TX: %d submitted, %d success, %d failed | TPS: %.1f | Objects: %d created, %d updated | Ops/s: %.1f",
		s.Elapsed.Seconds(), s.Submitted, s.Succeeded, s.Failed, s.TPS(), s.Created, s.Updated, s.OpsRate(),
	)
}
