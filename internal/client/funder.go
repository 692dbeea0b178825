package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/cenkalti/backoff/v4"

	"churn-bench/internal/ledger"
	"churn-bench/internal/logger"
)

// ErrNoFundsAvailable は払い出し後も使えるコインが見つからない
var ErrNoFundsAvailable = errors.New("no funds available")

// FunderConfig は資金調達の再試行設定
type FunderConfig struct {
	// Attempts は払い出し依頼の試行回数
	Attempts uint
	// RetryDelay は払い出し依頼の再試行間隔
	RetryDelay time.Duration
	// Settle は払い出し後にコインを探し始めるまでの待ち時間
	Settle time.Duration
	// PollAttempts はコインを探す回数
	PollAttempts uint64
	// PollBase は探索間隔の基準値。k回目の探索の後は PollBase*2^k 待つ
	PollBase time.Duration
}

// DefaultFunderConfig はデフォルトの設定を返す
func DefaultFunderConfig() FunderConfig {
	return FunderConfig{
		Attempts:     3,
		RetryDelay:   500 * time.Millisecond,
		Settle:       2 * time.Second,
		PollAttempts: 5,
		PollBase:     500 * time.Millisecond,
	}
}

// Funder はワーカーのアドレスに手数料用コインを用意する
type Funder struct {
	cfg       FunderConfig
	dispenser ledger.Dispenser
	ledger    ledger.Ledger
}

// NewFunder は新しいFunderを作成する
func NewFunder(d ledger.Dispenser, l ledger.Ledger, cfg FunderConfig) *Funder {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = 1
	}
	return &Funder{cfg: cfg, dispenser: d, ledger: l}
}

// Fund は払い出しを依頼し、アドレスが使える最も残高の多いコインを返す。
// 払い出しに失敗しても既存のコインがあればそれを使う
func (f *Funder) Fund(ctx context.Context, address string) (ledger.Ref, error) {
	err := retry.Do(
		func() error { return f.dispenser.Request(ctx, address) },
		retry.Context(ctx),
		retry.Attempts(f.cfg.Attempts),
		retry.Delay(f.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("faucet", "Faucet request error for %s (attempt %d): %v", address, n+1, err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ledger.Ref{}, ctx.Err()
		}
		logger.Warn("faucet", "All faucet attempts failed for %s, checking existing coins...", address)
	}

	if err := sleep(ctx, f.cfg.Settle); err != nil {
		return ledger.Ref{}, err
	}

	var found ledger.Coin
	poll := func() error {
		coins, err := f.ledger.Coins(ctx, address)
		if err != nil {
			return err
		}
		if len(coins) == 0 {
			return ErrNoFundsAvailable
		}
		found = coins[0]
		for _, c := range coins[1:] {
			if c.Balance > found.Balance {
				found = c
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.PollBase * 2
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = f.cfg.PollBase << 11
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, f.cfg.PollAttempts-1), ctx)
	if err := backoff.Retry(poll, policy); err != nil {
		if ctx.Err() != nil {
			return ledger.Ref{}, ctx.Err()
		}
		return ledger.Ref{}, fmt.Errorf("%w for %s: %v", ErrNoFundsAvailable, address, err)
	}

	logger.Info("faucet", "Got fee coin for %s: %s (balance: %d)", address, found.Handle, found.Balance)
	return found.Ref, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
