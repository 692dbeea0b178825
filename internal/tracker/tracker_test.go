package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-bench/internal/ledger"
)

func ref(i int) ledger.Ref {
	return ledger.Ref{Handle: fmt.Sprintf("0x%04d", i), Version: 1, Fingerprint: "d1"}
}

func filled(cap, n int) *Tracker {
	t := NewWithRand(cap, rand.New(rand.NewPCG(1, 2)))
	for i := range n {
		t.Append(ref(i))
	}
	return t
}

func TestAppendRespectsCap(t *testing.T) {
	tr := filled(3, 0)

	assert.True(t, tr.Append(ref(0)))
	assert.True(t, tr.Append(ref(1)))
	assert.True(t, tr.Append(ref(2)))
	assert.False(t, tr.Append(ref(3)))
	assert.Equal(t, 3, tr.Len())
}

func TestNewDefaultCap(t *testing.T) {
	assert.Equal(t, DefaultCap, New(0).Cap())
}

func TestEvict(t *testing.T) {
	tests := []struct {
		size     int
		fraction float64
		wantLen  int
	}{
		{size: 100, fraction: 0.25, wantLen: 75},
		{size: 100, fraction: 0.50, wantLen: 50},
		{size: 100, fraction: 0.75, wantLen: 25},
		{size: 51, fraction: 0.75, wantLen: 12},
		{size: 50, fraction: 0.75, wantLen: 50},
		{size: 10, fraction: 0.50, wantLen: 10},
		{size: 0, fraction: 0.50, wantLen: 0},
		{size: 100, fraction: 0, wantLen: 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d@%.2f", tt.size, tt.fraction), func(t *testing.T) {
			tr := filled(DefaultCap, tt.size)
			dropped := tr.Evict(tt.fraction)
			assert.Equal(t, tt.wantLen, tr.Len())
			assert.Equal(t, tt.size-tt.wantLen, dropped)
		})
	}
}

func TestEvictKeepsPrefix(t *testing.T) {
	tr := filled(DefaultCap, 100)
	tr.Evict(0.5)

	refs := tr.Refs()
	for i, r := range refs {
		assert.Equal(t, ref(i).Handle, r.Handle)
	}
}

func TestSelectBatchEmpty(t *testing.T) {
	tr := filled(10, 0)
	_, err := tr.SelectBatch(5)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestSelectBatchSize(t *testing.T) {
	tr := filled(DefaultCap, 7)

	for range 100 {
		batch, err := tr.SelectBatch(50)
		require.NoError(t, err)
		assert.Len(t, batch, 7)

		seen := make(map[string]bool)
		for _, r := range batch {
			assert.False(t, seen[r.Handle], "duplicate %s", r.Handle)
			seen[r.Handle] = true
		}
	}

	batch, err := tr.SelectBatch(3)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
}

func TestSelectBatchConsecutiveWrap(t *testing.T) {
	tr := filled(DefaultCap, 10)

	for range 50 {
		batch, err := tr.SelectBatch(4)
		require.NoError(t, err)

		var first int
		_, err = fmt.Sscanf(batch[0].Handle, "0x%04d", &first)
		require.NoError(t, err)
		for i, r := range batch {
			assert.Equal(t, ref((first+i)%10).Handle, r.Handle)
		}
	}
}

func TestSelectBatchReturnsCopy(t *testing.T) {
	tr := filled(DefaultCap, 5)
	batch, err := tr.SelectBatch(5)
	require.NoError(t, err)

	batch[0].Version = 99
	for _, r := range tr.Refs() {
		assert.Equal(t, uint64(1), r.Version)
	}
}

func TestApplyCreateResults(t *testing.T) {
	tr := filled(4, 2)

	changes := []ledger.Change{
		{Kind: ledger.Created, Ref: ref(10)},
		{Kind: ledger.Mutated, Ref: ref(0)},
		{Kind: ledger.Created, Ref: ref(11)},
		{Kind: ledger.Created, Ref: ref(12)},
	}
	created := tr.ApplyCreateResults(changes)

	assert.Equal(t, 3, created)
	assert.Equal(t, 4, tr.Len(), "cap must hold even when more were created")
}

func TestApplyUpdateResults(t *testing.T) {
	tr := filled(DefaultCap, 5)

	changes := []ledger.Change{
		{Kind: ledger.Mutated, Ref: ledger.Ref{Handle: ref(1).Handle, Version: 7, Fingerprint: "d7"}},
		{Kind: ledger.Mutated, Ref: ledger.Ref{Handle: ref(3).Handle, Version: 7, Fingerprint: "d7"}},
		{Kind: ledger.Mutated, Ref: ledger.Ref{Handle: "0xunknown", Version: 7, Fingerprint: "d7"}},
		{Kind: ledger.Created, Ref: ledger.Ref{Handle: ref(4).Handle, Version: 9, Fingerprint: "d9"}},
	}
	updated := tr.ApplyUpdateResults(changes)

	assert.Equal(t, 2, updated)
	assert.Equal(t, 5, tr.Len())
	refs := tr.Refs()
	assert.Equal(t, uint64(7), refs[1].Version)
	assert.Equal(t, "d7", refs[1].Fingerprint)
	assert.Equal(t, uint64(7), refs[3].Version)
	assert.Equal(t, uint64(1), refs[4].Version)
}

func TestApplyUpdateResultsEmpty(t *testing.T) {
	tr := filled(DefaultCap, 5)
	before := tr.Refs()

	assert.Equal(t, 0, tr.ApplyUpdateResults(nil))
	assert.Equal(t, before, tr.Refs())
}

type fakeQuerier struct {
	calls   int
	deleted map[string]bool
	fail    bool
}

func (q *fakeQuerier) Query(_ context.Context, handles []string) ([]*ledger.Ref, error) {
	q.calls++
	if q.fail {
		return nil, errors.New("unreachable")
	}
	out := make([]*ledger.Ref, len(handles))
	for i, h := range handles {
		if q.deleted[h] {
			continue
		}
		out[i] = &ledger.Ref{Handle: h, Version: 5, Fingerprint: "d5"}
	}
	return out, nil
}

func TestRefresh(t *testing.T) {
	tr := filled(DefaultCap, 120)
	q := &fakeQuerier{deleted: map[string]bool{ref(3).Handle: true, ref(110).Handle: true}}

	removed, err := tr.Refresh(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 3, q.calls, "120 refs must be queried in chunks of 50")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 118, tr.Len())
	for _, r := range tr.Refs() {
		assert.Equal(t, uint64(5), r.Version)
	}
}

func TestRefreshErrorLeavesSetUnchanged(t *testing.T) {
	tr := filled(DefaultCap, 60)
	before := tr.Refs()

	_, err := tr.Refresh(context.Background(), &fakeQuerier{fail: true})
	assert.Error(t, err)
	assert.Equal(t, before, tr.Refs())
}

func TestFromRefs(t *testing.T) {
	refs := []ledger.Ref{ref(0), ref(1), ref(2)}
	tr := FromRefs(2, refs)
	assert.Equal(t, 2, tr.Len())
}

func TestFromRefsWithRandDeterministic(t *testing.T) {
	refs := make([]ledger.Ref, 200)
	for i := range refs {
		refs[i] = ref(i)
	}
	a := FromRefsWithRand(100, refs, rand.New(rand.NewPCG(7, 1)))
	b := FromRefsWithRand(100, refs, rand.New(rand.NewPCG(7, 1)))
	assert.Equal(t, 100, a.Len())

	for range 10 {
		ba, err := a.SelectBatch(5)
		require.NoError(t, err)
		bb, err := b.SelectBatch(5)
		require.NoError(t, err)
		assert.Equal(t, ba, bb)
	}
}
