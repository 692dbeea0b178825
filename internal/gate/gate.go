// Package gate bounds the number of submissions in flight across all workers.
package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxInflight はデフォルトの同時送信数の上限
const DefaultMaxInflight = 100

// ErrClosed はゲートが閉じられている
var ErrClosed = errors.New("gate closed")

var inflightGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "churn",
	Name:      "inflight_submissions",
	Help:      "Submissions currently holding an admission permit",
})

// Gate は同時送信数を制限するセマフォ
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	inflight atomic.Int64

	closed atomic.Bool
	done   context.Context
	close  context.CancelFunc
}

// New は新しいゲートを作成する
func New(maxInflight int) *Gate {
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	done, cancel := context.WithCancel(context.Background())
	return &Gate{
		sem:      semaphore.NewWeighted(int64(maxInflight)),
		capacity: maxInflight,
		done:     done,
		close:    cancel,
	}
}

// Permit は1件分の送信許可
type Permit struct {
	gate *Gate
	once sync.Once
}

// Acquire は許可が得られるまで待つ
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if g.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.done, cancel)
	defer stop()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		if g.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}
	if g.closed.Load() {
		g.sem.Release(1)
		return nil, ErrClosed
	}

	g.inflight.Add(1)
	inflightGauge.Inc()
	return &Permit{gate: g}, nil
}

// Release は許可を返却する。2回目以降の呼び出しは何もしない
func (p *Permit) Release() {
	p.once.Do(func() {
		p.gate.inflight.Add(-1)
		inflightGauge.Dec()
		p.gate.sem.Release(1)
	})
}

// InFlight は現在の送信中の件数を返す
func (g *Gate) InFlight() int {
	return int(g.inflight.Load())
}

// Capacity は上限を返す
func (g *Gate) Capacity() int {
	return g.capacity
}

// Close は待機中と以降の取得をErrClosedで失敗させる。発行済みの許可は有効なまま
func (g *Gate) Close() {
	if g.closed.Swap(true) {
		return
	}
	g.close()
}
