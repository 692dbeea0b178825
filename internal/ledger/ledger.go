package ledger

import (
	"context"
	"fmt"

	"churn-bench/internal/identity"
)

// Ref はバージョン付きオブジェクトへの参照
type Ref struct {
	Handle      string `json:"id" yaml:"id"`
	Version     uint64 `json:"version" yaml:"version"`
	Fingerprint string `json:"digest" yaml:"digest"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@%d", r.Handle, r.Version)
}

// OpKind は操作の種類
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
)

// Payload はオブジェクトの中身の種類
type Payload string

const (
	PayloadCounter Payload = "counter"
	PayloadBlob    Payload = "blob"
)

// Op は1回の送信でまとめて実行される操作
type Op struct {
	Kind    OpKind  `json:"kind"`
	Count   int     `json:"count,omitempty"`
	Refs    []Ref   `json:"refs,omitempty"`
	Payload Payload `json:"payload"`
}

// CreateN はn個のオブジェクトを作成する操作を返す
func CreateN(n int, payload Payload) Op {
	return Op{Kind: OpCreate, Count: n, Payload: payload}
}

// UpdateBatch は既存オブジェクトを更新する操作を返す
func UpdateBatch(refs []Ref, payload Payload) Op {
	return Op{Kind: OpUpdate, Refs: refs, Payload: payload}
}

// Size は操作が触れるオブジェクト数を返す
func (op Op) Size() int {
	if op.Kind == OpCreate {
		return op.Count
	}
	return len(op.Refs)
}

// ChangeKind は送信結果に含まれる変更の種類
type ChangeKind string

const (
	Created ChangeKind = "created"
	Mutated ChangeKind = "mutated"
)

// Change はオブジェクト単位の変更
type Change struct {
	Kind ChangeKind `json:"kind"`
	Ref  Ref        `json:"ref"`
}

// SubmitResult は成功した送信の結果
type SubmitResult struct {
	Fee     Ref      `json:"fee"`
	Changes []Change `json:"changes"`
}

// Created は作成されたオブジェクトの数を返す
func (r *SubmitResult) Created() int {
	return r.count(Created)
}

// Mutated は変更されたオブジェクトの数を返す
func (r *SubmitResult) Mutated() int {
	return r.count(Mutated)
}

func (r *SubmitResult) count(kind ChangeKind) int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Coin は手数料の支払いに使えるオブジェクト
type Coin struct {
	Ref
	Balance uint64 `json:"balance"`
}

// Querier はオブジェクトの現在のバージョンを問い合わせる
type Querier interface {
	// Query は各ハンドルの現在の参照を返す。存在しないものはnil
	Query(ctx context.Context, handles []string) ([]*Ref, error)
}

// Ledger は負荷をかける対象のリモート台帳
type Ledger interface {
	Querier
	Submit(ctx context.Context, id *identity.Identity, fee Ref, op Op, budget uint64) (*SubmitResult, error)
	Coins(ctx context.Context, address string) ([]Coin, error)
}

// Dispenser はテスト用資金の払い出しを依頼する
type Dispenser interface {
	Request(ctx context.Context, address string) error
}
