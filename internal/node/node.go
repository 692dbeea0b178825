package node

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"churn-bench/internal/identity"
	"churn-bench/internal/ledger"
	"churn-bench/internal/logger"
)

var (
	ErrNotRunning       = errors.New("node is not running")
	ErrInjectedFault    = errors.New("injected fault")
	ErrInvalidOp        = errors.New("invalid operation")
	ErrObjectNotFound   = errors.New("object not found")
	ErrVersionMismatch  = errors.New("object version mismatch")
	ErrNotOwner         = errors.New("object not owned by sender")
	ErrInsufficientFee  = errors.New("insufficient fee balance")
	ErrBudgetExceeded   = errors.New("fee budget exceeded")
	ErrBadSignature     = errors.New("bad signature")
	ErrNotCoin          = errors.New("fee object is not a coin")
	ErrCoinNotUpdatable = errors.New("coins cannot be updated as payload objects")
)

// Ensure Node implements the ledger contract
var (
	_ ledger.Ledger    = (*Node)(nil)
	_ ledger.Dispenser = (*Node)(nil)
)

// Status はノードの状態を表す
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Config はノードの設定
type Config struct {
	// FaucetAmount は1回の払い出しで作られるコインの残高
	FaucetAmount uint64
	// BaseFee は送信1件あたりの固定手数料
	BaseFee uint64
	// ObjectFee は操作対象のオブジェクト1件あたりの手数料
	ObjectFee uint64
	// BlobSize は大きいペイロードのバイト数
	BlobSize int
}

// DefaultConfig はデフォルトの設定を返す
func DefaultConfig() Config {
	return Config{
		FaucetAmount: 1_000_000_000_000,
		BaseFee:      1_000,
		ObjectFee:    100,
		BlobSize:     4096,
	}
}

type object struct {
	owner   string
	version uint64
	digest  string
	payload ledger.Payload
	counter uint64
	blob    []byte

	coin    bool
	balance uint64
}

func (o *object) ref(handle string) ledger.Ref {
	return ledger.Ref{Handle: handle, Version: o.version, Fingerprint: o.digest}
}

// Stats はノードの統計
type Stats struct {
	Objects  int    `json:"objects"`
	Coins    int    `json:"coins"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// Node はインメモリのバージョン付きオブジェクト台帳
type Node struct {
	id  string
	cfg Config

	mu          sync.RWMutex
	status      Status
	delay       time.Duration
	failureRate float64
	objects     map[string]*object

	accepted atomic.Uint64
	rejected atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New は新しいノードを作成する
func New(id string) *Node {
	return NewWithConfig(id, DefaultConfig())
}

// NewWithConfig は設定を指定してノードを作成する
func NewWithConfig(id string, cfg Config) *Node {
	def := DefaultConfig()
	if cfg.FaucetAmount == 0 {
		cfg.FaucetAmount = def.FaucetAmount
	}
	if cfg.BlobSize <= 0 {
		cfg.BlobSize = def.BlobSize
	}
	return &Node{
		id:      id,
		cfg:     cfg,
		status:  StatusStopped,
		objects: make(map[string]*object),
	}
}

// ID はノードIDを返す
func (n *Node) ID() string {
	return n.id
}

// Start はノードを起動する
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == StatusRunning {
		return fmt.Errorf("node %s is already running", n.id)
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.status = StatusRunning

	logger.Info(n.id, "Node started")
	return nil
}

// Stop はノードを停止する
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == StatusStopped {
		return fmt.Errorf("node %s is already stopped", n.id)
	}

	if n.cancel != nil {
		n.cancel()
	}
	n.status = StatusStopped

	logger.Info(n.id, "Node stopped")
	return nil
}

// Status はノードの現在のステータスを返す
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Suspend はノードを一時停止する。停止中の送信は拒否される
func (n *Node) Suspend() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusRunning {
		return fmt.Errorf("node %s is not running", n.id)
	}

	n.status = StatusSuspended
	logger.Info(n.id, "Node suspended")
	return nil
}

// Resume は一時停止中のノードを再開する
func (n *Node) Resume() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusSuspended {
		return fmt.Errorf("node %s is not suspended", n.id)
	}

	n.status = StatusRunning
	logger.Info(n.id, "Node resumed")
	return nil
}

// SetDelay はレスポンス遅延を設定する
func (n *Node) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
	if d > 0 {
		logger.Info(n.id, "Delay set to %v", d)
	} else {
		logger.Info(n.id, "Delay cleared")
	}
}

// Delay は現在の遅延設定を返す
func (n *Node) Delay() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.delay
}

// SetFailureRate は送信を失敗させる確率（0.0〜1.0）を設定する
func (n *Node) SetFailureRate(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failureRate = min(max(rate, 0), 1)
	if n.failureRate > 0 {
		logger.Info(n.id, "Failure rate set to %.0f%%", n.failureRate*100)
	} else {
		logger.Info(n.id, "Failure injection cleared")
	}
}

// FailureRate は現在の失敗注入率を返す
func (n *Node) FailureRate() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.failureRate
}

// applyDelay は設定された遅延を適用する
func (n *Node) applyDelay(ctx context.Context) error {
	d := n.Delay()
	if d <= 0 {
		return nil
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

func (n *Node) checkRunning() error {
	if n.status != StatusRunning {
		return fmt.Errorf("%s: %w (%s)", n.id, ErrNotRunning, n.status)
	}
	return nil
}

// Submit は署名者のアドレスで操作を実行する
func (n *Node) Submit(ctx context.Context, id *identity.Identity, fee ledger.Ref, op ledger.Op, budget uint64) (*ledger.SubmitResult, error) {
	return n.SubmitAs(ctx, id.Address(), fee, op, budget, uuid.NewString())
}

// SubmitAs は検証済みの送信者アドレスで操作を実行する。
// 1件でも検証に失敗した場合はどのオブジェクトも変更しない
func (n *Node) SubmitAs(ctx context.Context, sender string, fee ledger.Ref, op ledger.Op, budget uint64, nonce string) (*ledger.SubmitResult, error) {
	if err := n.applyDelay(ctx); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	res, err := n.execute(sender, fee, op, budget, nonce)
	if err != nil {
		n.rejected.Add(1)
		return nil, err
	}
	n.accepted.Add(1)
	return res, nil
}

func (n *Node) execute(sender string, fee ledger.Ref, op ledger.Op, budget uint64, nonce string) (*ledger.SubmitResult, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	if n.failureRate > 0 && mrand.Float64() < n.failureRate {
		return nil, fmt.Errorf("%s: %w", n.id, ErrInjectedFault)
	}
	if err := validateOp(op); err != nil {
		return nil, err
	}

	coin, err := n.lookup(sender, fee)
	if err != nil {
		return nil, fmt.Errorf("fee %s: %w", fee, err)
	}
	if !coin.coin {
		return nil, fmt.Errorf("fee %s: %w", fee, ErrNotCoin)
	}

	cost := n.cfg.BaseFee + n.cfg.ObjectFee*uint64(op.Size())
	if cost > budget {
		return nil, fmt.Errorf("%w: cost %d, budget %d", ErrBudgetExceeded, cost, budget)
	}
	if coin.balance < budget {
		return nil, fmt.Errorf("%w: balance %d, budget %d", ErrInsufficientFee, coin.balance, budget)
	}

	txVersion := fee.Version
	inputs := make([]*object, len(op.Refs))
	for i, r := range op.Refs {
		obj, err := n.lookup(sender, r)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", r, err)
		}
		if obj.coin {
			return nil, fmt.Errorf("object %s: %w", r, ErrCoinNotUpdatable)
		}
		inputs[i] = obj
		txVersion = max(txVersion, r.Version)
	}
	txVersion++

	// ここから先は失敗しない
	digest := txDigest(sender, nonce)
	res := &ledger.SubmitResult{
		Changes: make([]ledger.Change, 0, op.Size()),
	}

	for i, r := range op.Refs {
		obj := inputs[i]
		obj.payload = op.Payload
		n.fill(obj)
		obj.version = txVersion
		obj.digest = fingerprint(r.Handle, obj)
		res.Changes = append(res.Changes, ledger.Change{Kind: ledger.Mutated, Ref: obj.ref(r.Handle)})
	}

	for i := range op.Count {
		handle := derivedHandle(digest, uint64(i))
		obj := &object{owner: sender, version: txVersion, payload: op.Payload}
		n.fill(obj)
		obj.digest = fingerprint(handle, obj)
		n.objects[handle] = obj
		res.Changes = append(res.Changes, ledger.Change{Kind: ledger.Created, Ref: obj.ref(handle)})
	}

	coin.balance -= cost
	coin.version = txVersion
	coin.digest = fingerprint(fee.Handle, coin)
	res.Fee = coin.ref(fee.Handle)

	return res, nil
}

func validateOp(op ledger.Op) error {
	switch op.Kind {
	case ledger.OpCreate:
		if op.Count <= 0 || len(op.Refs) > 0 {
			return fmt.Errorf("%w: create needs a positive count and no refs", ErrInvalidOp)
		}
	case ledger.OpUpdate:
		if len(op.Refs) == 0 || op.Count != 0 {
			return fmt.Errorf("%w: update needs refs and no count", ErrInvalidOp)
		}
		seen := make(map[string]struct{}, len(op.Refs))
		for _, r := range op.Refs {
			if _, dup := seen[r.Handle]; dup {
				return fmt.Errorf("%w: duplicate object %s", ErrInvalidOp, r.Handle)
			}
			seen[r.Handle] = struct{}{}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, op.Kind)
	}
	return nil
}

// lookup は参照が現在のバージョンで送信者の所有物であることを確認する
func (n *Node) lookup(sender string, r ledger.Ref) (*object, error) {
	obj, ok := n.objects[r.Handle]
	if !ok {
		return nil, ErrObjectNotFound
	}
	if obj.owner != sender {
		return nil, ErrNotOwner
	}
	if obj.version != r.Version || obj.digest != r.Fingerprint {
		return nil, fmt.Errorf("%w: current %d", ErrVersionMismatch, obj.version)
	}
	return obj, nil
}

func (n *Node) fill(obj *object) {
	switch obj.payload {
	case ledger.PayloadBlob:
		if len(obj.blob) != n.cfg.BlobSize {
			obj.blob = make([]byte, n.cfg.BlobSize)
		}
		_, _ = rand.Read(obj.blob)
	default:
		obj.blob = nil
		obj.counter++
	}
}

func txDigest(sender, nonce string) [32]byte {
	return blake2b.Sum256([]byte(sender + "/" + nonce))
}

func derivedHandle(tx [32]byte, index uint64) string {
	var buf [40]byte
	copy(buf[:], tx[:])
	binary.BigEndian.PutUint64(buf[32:], index)
	sum := blake2b.Sum256(buf[:])
	return "0x" + hex.EncodeToString(sum[:])
}

func fingerprint(handle string, obj *object) string {
	h, _ := blake2b.New256(nil)
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[:8], obj.version)
	binary.BigEndian.PutUint64(buf[8:16], obj.counter)
	binary.BigEndian.PutUint64(buf[16:], obj.balance)
	h.Write([]byte(handle))
	h.Write(buf[:])
	h.Write(obj.blob)
	return hex.EncodeToString(h.Sum(nil))
}

// Query は各ハンドルの現在の参照を返す。存在しないものはnil
func (n *Node) Query(ctx context.Context, handles []string) ([]*ledger.Ref, error) {
	if err := n.applyDelay(ctx); err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.checkRunning(); err != nil {
		return nil, err
	}

	out := make([]*ledger.Ref, len(handles))
	for i, h := range handles {
		if obj, ok := n.objects[h]; ok {
			ref := obj.ref(h)
			out[i] = &ref
		}
	}
	return out, nil
}

// Coins はアドレスが所有するコインを残高の多い順に返す
func (n *Node) Coins(ctx context.Context, address string) ([]ledger.Coin, error) {
	if err := n.applyDelay(ctx); err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.checkRunning(); err != nil {
		return nil, err
	}

	var coins []ledger.Coin
	for h, obj := range n.objects {
		if obj.coin && obj.owner == address {
			coins = append(coins, ledger.Coin{Ref: obj.ref(h), Balance: obj.balance})
		}
	}
	slices.SortFunc(coins, func(a, b ledger.Coin) int {
		switch {
		case a.Balance > b.Balance:
			return -1
		case a.Balance < b.Balance:
			return 1
		default:
			return 0
		}
	})
	return coins, nil
}

// Request はアドレスに新しいコインを払い出す
func (n *Node) Request(ctx context.Context, address string) error {
	if err := n.applyDelay(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkRunning(); err != nil {
		return err
	}

	handle := derivedHandle(txDigest(address, uuid.NewString()), 0)
	coin := &object{owner: address, version: 1, coin: true, balance: n.cfg.FaucetAmount}
	coin.digest = fingerprint(handle, coin)
	n.objects[handle] = coin

	logger.Debug(n.id, "Dispensed %d to %s", n.cfg.FaucetAmount, address)
	return nil
}

// Stats はノードの統計を返す
func (n *Node) Stats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	s := Stats{
		Accepted: n.accepted.Load(),
		Rejected: n.rejected.Load(),
	}
	for _, obj := range n.objects {
		if obj.coin {
			s.Coins++
		} else {
			s.Objects++
		}
	}
	return s
}

// ObjectCount は支払い用コインを除くオブジェクト数を返す
func (n *Node) ObjectCount() int {
	return n.Stats().Objects
}
