package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"churn-bench/internal/logger"
)

// DefaultReportInterval は進捗ログのデフォルト間隔
const DefaultReportInterval = 30 * time.Second

// Reporter は一定間隔で進捗をログに出力する
type Reporter struct {
	stats    *BenchStats
	interval time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReporter は新しいレポーターを作成する
func NewReporter(stats *BenchStats, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Reporter{stats: stats, interval: interval}
}

// Start は進捗ログの出力を開始する
func (r *Reporter) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop は進捗ログの出力を停止する
func (r *Reporter) Stop() {
	if !r.running.Swap(false) {
		return
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Reporter) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("stats", "%s", r.stats.Snapshot().Line())
		}
	}
}
