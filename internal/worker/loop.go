package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"churn-bench/internal/events"
	"churn-bench/internal/ledger"
	"churn-bench/internal/logger"
	"churn-bench/internal/metrics"
	"churn-bench/internal/pressure"
	"churn-bench/internal/throttle"
	"churn-bench/internal/tracker"
)

// errSkipped は送信せずに反復を終えたことを表す
var errSkipped = errors.New("iteration skipped")

// loop は1ワーカー分の反復の状態
type loop struct {
	p        *Pool
	st       *State
	name     string
	rng      *rand.Rand
	backoff  *throttle.Backoff
	limiter  *rate.Limiter
	deadline time.Time

	// pending は直前の失敗で決まった次の反復前の待ち時間
	pending time.Duration
}

type outcome struct {
	kind    ledger.OpKind
	created int
	updated int
	err     error
}

func (p *Pool) run(st *State, deadline time.Time) {
	defer p.wg.Done()
	defer p.active.Add(-1)

	l := p.newLoop(st, deadline)
	for i := 0; p.cfg.MaxIterations == 0 || i < p.cfg.MaxIterations; i++ {
		if !p.alive(deadline) {
			break
		}
		l.iterate(p.ctx)
	}

	logger.Debug(l.name, "stopped with %d tracked objects", st.Tracked())
}

func (p *Pool) newLoop(st *State, deadline time.Time) *loop {
	seed := p.cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	l := &loop{
		p:        p,
		st:       st,
		name:     st.Name(),
		rng:      rand.New(rand.NewPCG(seed, uint64(st.ID))),
		backoff:  throttle.NewBackoff(p.cfg.Backoff),
		deadline: deadline,
	}
	if p.cfg.TargetTPS > 0 {
		perWorker := p.cfg.TargetTPS / float64(len(p.states))
		l.limiter = rate.NewLimiter(rate.Limit(perWorker), 1)
	}
	return l
}

// iterate は1回分の ThrottleCheck -> RateCheck -> Admit -> Execute -> Record -> RateLimit を行う
func (l *loop) iterate(ctx context.Context) {
	forceUpdate := false

	level := l.p.deps.Pressure.Level()
	if level != pressure.Normal {
		policy := l.p.cfg.Policy(level)
		if dropped := l.st.Evict(policy.EvictFraction); dropped > 0 {
			metrics.EvictedObjects.Add(float64(dropped))
			logger.Debug(l.name, "dropped %d tracked objects under %s pressure", dropped, level)
		}
		if !sleep(ctx, policy.Delay) {
			return
		}
		if policy.SkipCreates {
			if l.st.Tracked() == 0 {
				sleep(ctx, l.p.cfg.EmptyPoolWait)
				return
			}
			forceUpdate = true
		}
	}

	delay := l.pending
	l.pending = 0
	if !forceUpdate {
		delay += l.p.deps.Rate.Observe(l.p.deps.Stats.Counts())
	}
	if delay > 0 && (!sleep(ctx, delay) || !l.p.alive(l.deadline)) {
		return
	}

	permit, err := l.p.deps.Gate.Acquire(ctx)
	if err != nil {
		return
	}
	out := l.execute(ctx, forceUpdate)
	permit.Release()

	if errors.Is(out.err, errSkipped) {
		return
	}
	l.record(out)

	if l.limiter != nil {
		_ = l.limiter.Wait(ctx)
	}
}

// execute は送信を組み立てて実行し、結果を追跡集合に反映する。
// 組み立てから応答までワーカー状態の書き込みロックを保持する
func (l *loop) execute(ctx context.Context, forceUpdate bool) outcome {
	cfg := l.p.cfg
	st := l.st

	st.mu.Lock()
	defer st.mu.Unlock()

	batch := cfg.BatchSize
	payload := ledger.PayloadCounter
	if cfg.LargePayload {
		payload = ledger.PayloadBlob
		batch = min(batch, cfg.BlobBatchCap)
	}

	create := !forceUpdate && l.rng.IntN(100) < cfg.CreatePct

	var op ledger.Op
	if !create {
		refs, err := st.tracker.SelectBatch(batch)
		switch {
		case errors.Is(err, tracker.ErrEmptyPool) && forceUpdate:
			return outcome{err: errSkipped}
		case errors.Is(err, tracker.ErrEmptyPool):
			create = true
		default:
			op = ledger.UpdateBatch(refs, payload)
		}
	}
	if create {
		op = ledger.CreateN(batch, payload)
	}

	start := time.Now()
	res, err := l.p.deps.Ledger.Submit(context.WithoutCancel(ctx), st.Identity, st.fee, op, cfg.FeeBudget)
	l.p.deps.Stats.ObserveLatency(time.Since(start))
	if err != nil {
		return outcome{kind: op.Kind, err: err}
	}

	st.fee = res.Fee
	out := outcome{kind: op.Kind}
	out.created = st.tracker.ApplyCreateResults(res.Changes)
	out.updated = st.tracker.ApplyUpdateResults(res.Changes)
	metrics.TrackedObjects.WithLabelValues(l.name).Set(float64(st.tracker.Len()))
	return out
}

func (l *loop) record(out outcome) {
	stats := l.p.deps.Stats

	if out.err == nil {
		stats.RecordSuccess(out.created, out.updated)
		l.backoff.Success()
		return
	}

	stats.RecordFailure()
	logger.Debug(l.name, "%s submission failed: %v", out.kind, out.err)

	delay := l.backoff.Failure()
	if delay <= 0 {
		return
	}
	l.pending = delay

	failures := l.backoff.Count()
	if failures == l.p.cfg.Backoff.Threshold {
		metrics.BackoffEscalations.Inc()
		l.p.deps.Bus.Publish(events.NewBackoffEscalationEvent(l.name, failures, delay))
		logger.Warn(l.name, "%d consecutive failures, backing off %v", failures, delay)
	}
}

// sleep はdだけ待つ。ctxが終了した場合はfalseを返す
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
