// Package tracker keeps the bounded set of object refs a worker may update.
//
// The set is a plain slice: new refs are appended at the back, eviction
// truncates from the back, and batches are read as a run of consecutive
// entries starting at a random index. It is not safe for concurrent use;
// the owning worker state guards it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"churn-bench/internal/ledger"
)

const (
	// DefaultCap はデフォルトの保持上限
	DefaultCap = 5000
	// EvictFloor 以下のサイズでは退避しない
	EvictFloor = 50
	// RefreshChunk はRefreshで一度に問い合わせる件数
	RefreshChunk = 50
)

// ErrEmptyPool は保持しているオブジェクトがない
var ErrEmptyPool = errors.New("no tracked objects")

// Tracker は1ワーカー分の追跡対象オブジェクト
type Tracker struct {
	cap  int
	refs []ledger.Ref
	rng  *rand.Rand
}

// New は新しいトラッカーを作成する
func New(cap int) *Tracker {
	return NewWithRand(cap, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// NewWithRand は乱数源を指定してトラッカーを作成する
func NewWithRand(cap int, rng *rand.Rand) *Tracker {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Tracker{
		cap:  cap,
		refs: make([]ledger.Ref, 0, min(cap, 1024)),
		rng:  rng,
	}
}

// FromRefs は既存の参照からトラッカーを作成する。上限を超えた分は捨てる
func FromRefs(cap int, refs []ledger.Ref) *Tracker {
	return FromRefsWithRand(cap, refs, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// FromRefsWithRand は乱数源を指定してFromRefsと同じトラッカーを作成する
func FromRefsWithRand(cap int, refs []ledger.Ref, rng *rand.Rand) *Tracker {
	t := NewWithRand(cap, rng)
	for _, r := range refs {
		if !t.Append(r) {
			break
		}
	}
	return t
}

// Len は保持数を返す
func (t *Tracker) Len() int {
	return len(t.refs)
}

// Cap は保持上限を返す
func (t *Tracker) Cap() int {
	return t.cap
}

// Refs は保持している参照のコピーを返す
func (t *Tracker) Refs() []ledger.Ref {
	out := make([]ledger.Ref, len(t.refs))
	copy(out, t.refs)
	return out
}

// Append は上限に達していなければ参照を追加する
func (t *Tracker) Append(ref ledger.Ref) bool {
	if len(t.refs) >= t.cap {
		return false
	}
	t.refs = append(t.refs, ref)
	return true
}

// Evict は保持数がEvictFloorを超えているとき末尾から割合分を捨て、捨てた数を返す
func (t *Tracker) Evict(fraction float64) int {
	size := len(t.refs)
	if size <= EvictFloor || fraction <= 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}
	keep := int(math.Floor(float64(size) * (1 - fraction)))
	clear(t.refs[keep:])
	t.refs = t.refs[:keep]
	return size - keep
}

// SelectBatch はランダムな位置から連続するmin(n, Len())件を選ぶ
func (t *Tracker) SelectBatch(n int) ([]ledger.Ref, error) {
	size := len(t.refs)
	if size == 0 {
		return nil, ErrEmptyPool
	}
	count := min(n, size)
	start := t.rng.IntN(size)
	out := make([]ledger.Ref, count)
	for i := range count {
		out[i] = t.refs[(start+i)%size]
	}
	return out, nil
}

// ApplyCreateResults は作成されたオブジェクトを上限の範囲で追加し、作成数を返す
func (t *Tracker) ApplyCreateResults(changes []ledger.Change) int {
	created := 0
	for _, c := range changes {
		if c.Kind != ledger.Created {
			continue
		}
		created++
		t.Append(c.Ref)
	}
	return created
}

// ApplyUpdateResults は変更されたオブジェクトのバージョンを進め、更新数を返す
func (t *Tracker) ApplyUpdateResults(changes []ledger.Change) int {
	if len(changes) == 0 {
		return 0
	}

	mutated := make(map[string]ledger.Ref, len(changes))
	for _, c := range changes {
		if c.Kind == ledger.Mutated {
			mutated[c.Ref.Handle] = c.Ref
		}
	}
	if len(mutated) == 0 {
		return 0
	}

	updated := 0
	for i := range t.refs {
		if ref, ok := mutated[t.refs[i].Handle]; ok {
			t.refs[i].Version = ref.Version
			t.refs[i].Fingerprint = ref.Fingerprint
			updated++
		}
	}
	return updated
}

// Refresh は全参照を台帳に問い合わせ、存在するものだけを最新の状態で残す。
// エラー時は何も変更しない
func (t *Tracker) Refresh(ctx context.Context, q ledger.Querier) (int, error) {
	refreshed := make([]ledger.Ref, 0, len(t.refs))
	for start := 0; start < len(t.refs); start += RefreshChunk {
		end := min(start+RefreshChunk, len(t.refs))
		handles := make([]string, 0, end-start)
		for _, r := range t.refs[start:end] {
			handles = append(handles, r.Handle)
		}

		current, err := q.Query(ctx, handles)
		if err != nil {
			return 0, fmt.Errorf("refresh objects %d-%d: %w", start, end, err)
		}
		for _, ref := range current {
			if ref != nil {
				refreshed = append(refreshed, *ref)
			}
		}
	}

	removed := len(t.refs) - len(refreshed)
	t.refs = refreshed
	return removed, nil
}
