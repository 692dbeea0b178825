package worker

import (
	"context"
	"fmt"
	"sync"

	"churn-bench/internal/checkpoint"
	"churn-bench/internal/identity"
	"churn-bench/internal/ledger"
	"churn-bench/internal/tracker"
)

// SeedBatchSize は初期オブジェクトを作るときの1回あたりの件数
const SeedBatchSize = 100

// State は1ワーカーが所有する状態。送信中は書き込みロックを保持する
type State struct {
	ID       int
	Identity *identity.Identity

	mu      sync.RWMutex
	fee     ledger.Ref
	tracker *tracker.Tracker
}

// NewState は新しいワーカー状態を作成する
func NewState(id int, ident *identity.Identity, fee ledger.Ref, tr *tracker.Tracker) *State {
	return &State{
		ID:       id,
		Identity: ident,
		fee:      fee,
		tracker:  tr,
	}
}

// Name はログ用の名前を返す
func (s *State) Name() string {
	return fmt.Sprintf("worker-%d", s.ID)
}

// Fee は現在の手数料用コインを返す
func (s *State) Fee() ledger.Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fee
}

// SetFee は手数料用コインを差し替える
func (s *State) SetFee(fee ledger.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fee = fee
}

// Tracked は追跡中のオブジェクト数を返す
func (s *State) Tracked() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Len()
}

// Refs は追跡中の参照のコピーを返す
func (s *State) Refs() []ledger.Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Refs()
}

// Record はチェックポイント用の保存内容を返す
func (s *State) Record() checkpoint.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return checkpoint.NewRecord(s.ID, s.Identity, s.tracker.Refs())
}

// Evict は追跡集合を割合分だけ減らし、捨てた数を返す
func (s *State) Evict(fraction float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Evict(fraction)
}

// Refresh は追跡中の参照を台帳の現在の状態に合わせ、消えていた数を返す
func (s *State) Refresh(ctx context.Context, q ledger.Querier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Refresh(ctx, q)
}

// Seed はtotal件のオブジェクトをSeedBatchSize件ずつ作成して追跡に加え、追跡できた数を返す。
// 送った件数で進めるので、台帳の報告が依頼より少なくても送信回数は変わらない
func (s *State) Seed(ctx context.Context, l ledger.Ledger, total int, payload ledger.Payload, budget uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for remaining := total; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		n := min(SeedBatchSize, remaining)
		res, err := l.Submit(ctx, s.Identity, s.fee, ledger.CreateN(n, payload), budget)
		if err != nil {
			return created, fmt.Errorf("%s: seed batch at %d: %w", s.Name(), total-remaining, err)
		}
		s.fee = res.Fee
		created += s.tracker.ApplyCreateResults(res.Changes)
		remaining -= n
	}
	return created, nil
}

// Summary はモニター表示用の要約
type Summary struct {
	ID         int    `json:"id"`
	Address    string `json:"address"`
	Tracked    int    `json:"tracked"`
	FeeVersion uint64 `json:"fee_version"`
}

// Summary は現在の要約を返す
func (s *State) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:         s.ID,
		Address:    s.Identity.Address(),
		Tracked:    s.tracker.Len(),
		FeeVersion: s.fee.Version,
	}
}
