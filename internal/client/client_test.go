package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-bench/internal/identity"
	"churn-bench/internal/ledger"
	"churn-bench/internal/node"
)

const budget = 500_000_000

func fastFunder() FunderConfig {
	return FunderConfig{
		Attempts:     3,
		RetryDelay:   time.Millisecond,
		Settle:       0,
		PollAttempts: 5,
		PollBase:     time.Millisecond,
	}
}

func serve(t *testing.T) (*node.Node, *httptest.Server) {
	t.Helper()
	n := node.New("ledger-http")
	require.NoError(t, n.Start(context.Background()))
	srv := httptest.NewServer(n.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = n.Stop()
	})
	return n, srv
}

func TestHTTPRoundTrip(t *testing.T) {
	_, srv := serve(t)
	ctx := context.Background()

	c := NewHTTPClient(srv.URL+"/", time.Second)
	funder := NewFunder(NewHTTPFaucet(srv.URL, time.Second), c, fastFunder())

	id, err := identity.Generate()
	require.NoError(t, err)

	fee, err := funder.Fund(ctx, id.Address())
	require.NoError(t, err)

	res, err := c.Submit(ctx, id, fee, ledger.CreateN(4, ledger.PayloadCounter), budget)
	require.NoError(t, err)
	require.Equal(t, 4, res.Created())

	refs := []ledger.Ref{res.Changes[0].Ref, res.Changes[1].Ref}
	upd, err := c.Submit(ctx, id, res.Fee, ledger.UpdateBatch(refs, ledger.PayloadCounter), budget)
	require.NoError(t, err)
	assert.Equal(t, 2, upd.Mutated())

	current, err := c.Query(ctx, []string{refs[0].Handle, "0xmissing"})
	require.NoError(t, err)
	require.NotNil(t, current[0])
	assert.Equal(t, upd.Changes[0].Ref, *current[0])
	assert.Nil(t, current[1])

	coins, err := c.Coins(ctx, id.Address())
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, upd.Fee, coins[0].Ref)
}

func TestHTTPRejectionIsStatusError(t *testing.T) {
	_, srv := serve(t)
	ctx := context.Background()
	c := NewHTTPClient(srv.URL, time.Second)

	id, err := identity.Generate()
	require.NoError(t, err)

	_, err = c.Submit(ctx, id, ledger.Ref{Handle: "0xnope", Version: 1}, ledger.CreateN(1, ledger.PayloadCounter), budget)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Message, "not found")
}

func TestHTTPSuspendedNode(t *testing.T) {
	n, srv := serve(t)
	require.NoError(t, n.Suspend())

	_, err := NewHTTPClient(srv.URL, time.Second).Query(context.Background(), []string{"0x1"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestHTTPBadSignature(t *testing.T) {
	_, srv := serve(t)

	id, err := identity.Generate()
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)

	body := []byte(`{"sender":"` + id.Address() + `"}`)
	req := ledger.SubmitRequest{Body: body, PublicKey: other.PublicKey(), Signature: other.Sign(body)}

	err = doJSON(context.Background(), http.DefaultClient, http.MethodPost, srv.URL+ledger.PathSubmit, req, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

type flakyDispenser struct {
	calls atomic.Int32
	inner ledger.Dispenser
	fail  int32
}

func (d *flakyDispenser) Request(ctx context.Context, address string) error {
	if d.calls.Add(1) <= d.fail {
		return errors.New("faucet overloaded")
	}
	if d.inner == nil {
		return errors.New("faucet down")
	}
	return d.inner.Request(ctx, address)
}

func TestFunderRetriesFaucet(t *testing.T) {
	n := node.New("ledger-funder")
	require.NoError(t, n.Start(context.Background()))

	d := &flakyDispenser{inner: n, fail: 2}
	f := NewFunder(d, n, fastFunder())

	fee, err := f.Fund(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int32(3), d.calls.Load())
	assert.NotEmpty(t, fee.Handle)
}

func TestFunderUsesExistingCoinWhenFaucetFails(t *testing.T) {
	n := node.New("ledger-funder")
	require.NoError(t, n.Start(context.Background()))
	require.NoError(t, n.Request(context.Background(), "0xabc"))

	d := &flakyDispenser{fail: 100}
	fee, err := NewFunder(d, n, fastFunder()).Fund(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int32(3), d.calls.Load())
	assert.NotEmpty(t, fee.Handle)
}

type countingLedger struct {
	ledger.Ledger
	polls atomic.Int32
	at    []time.Time
}

func (c *countingLedger) Coins(context.Context, string) ([]ledger.Coin, error) {
	c.polls.Add(1)
	c.at = append(c.at, time.Now())
	return nil, nil
}

func TestFunderNoFundsAvailable(t *testing.T) {
	l := &countingLedger{}
	f := NewFunder(&flakyDispenser{fail: 100}, l, fastFunder())

	_, err := f.Fund(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrNoFundsAvailable)
	assert.Equal(t, int32(5), l.polls.Load())
}

func TestFunderPicksRichestCoin(t *testing.T) {
	l := &richLedger{coins: []ledger.Coin{
		{Ref: ledger.Ref{Handle: "0x1"}, Balance: 10},
		{Ref: ledger.Ref{Handle: "0x2"}, Balance: 500},
		{Ref: ledger.Ref{Handle: "0x3"}, Balance: 20},
	}}
	fee, err := NewFunder(&flakyDispenser{fail: 100}, l, fastFunder()).Fund(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0x2", fee.Handle)
}

type richLedger struct {
	ledger.Ledger
	coins []ledger.Coin
}

func (r *richLedger) Coins(context.Context, string) ([]ledger.Coin, error) {
	return r.coins, nil
}

func TestFunderHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFunder(&flakyDispenser{fail: 100}, &countingLedger{}, fastFunder()).Fund(ctx, "0xabc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFunderPollScheduleDoubles(t *testing.T) {
	cfg := fastFunder()
	cfg.PollBase = 10 * time.Millisecond
	l := &countingLedger{}

	_, err := NewFunder(&flakyDispenser{fail: 100}, l, cfg).Fund(context.Background(), "0xabc")
	require.ErrorIs(t, err, ErrNoFundsAvailable)
	require.Len(t, l.at, 5)

	// 探索の間隔は 2x, 4x, 8x, 16x PollBase
	for i := 1; i < len(l.at); i++ {
		want := cfg.PollBase << i
		gap := l.at[i].Sub(l.at[i-1])
		assert.GreaterOrEqual(t, gap, want, "gap before poll %d", i+1)
		assert.Less(t, gap, want+want/2+50*time.Millisecond, "gap before poll %d", i+1)
	}
}
