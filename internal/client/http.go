package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"churn-bench/internal/identity"
	"churn-bench/internal/ledger"
)

// DefaultTimeout は1回のHTTP呼び出しのタイムアウト
const DefaultTimeout = 30 * time.Second

// Ensure the HTTP adapters implement the ledger contract
var (
	_ ledger.Ledger    = (*HTTPClient)(nil)
	_ ledger.Dispenser = (*HTTPFaucet)(nil)
)

// StatusError は2xx以外のレスポンス
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// HTTPClient はHTTP越しに台帳へ送信する
type HTTPClient struct {
	baseURL string
	program string
	http    *http.Client
}

// NewHTTPClient は新しいクライアントを作成する
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetProgram は送信に付けるプログラムIDを設定する
func (c *HTTPClient) SetProgram(id string) {
	c.program = id
}

// Submit は署名した操作を送信する
func (c *HTTPClient) Submit(ctx context.Context, id *identity.Identity, fee ledger.Ref, op ledger.Op, budget uint64) (*ledger.SubmitResult, error) {
	body, err := json.Marshal(ledger.SubmitBody{
		Sender:  id.Address(),
		Program: c.program,
		Fee:     fee,
		Op:      op,
		Budget:  budget,
		Nonce:   uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}

	req := ledger.SubmitRequest{
		Body:      body,
		PublicKey: id.PublicKey(),
		Signature: id.Sign(body),
	}

	var res ledger.SubmitResult
	if err := c.do(ctx, http.MethodPost, ledger.PathSubmit, req, &res); err != nil {
		return nil, fmt.Errorf("submit %s: %w", op.Kind, err)
	}
	return &res, nil
}

// Query は各ハンドルの現在の参照を返す
func (c *HTTPClient) Query(ctx context.Context, handles []string) ([]*ledger.Ref, error) {
	var res ledger.QueryResponse
	if err := c.do(ctx, http.MethodPost, ledger.PathQuery, ledger.QueryRequest{Handles: handles}, &res); err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	if len(res.Objects) != len(handles) {
		return nil, fmt.Errorf("query objects: got %d results for %d handles", len(res.Objects), len(handles))
	}
	return res.Objects, nil
}

// Coins はアドレスが所有するコインを返す
func (c *HTTPClient) Coins(ctx context.Context, address string) ([]ledger.Coin, error) {
	var res ledger.CoinsResponse
	path := ledger.PathCoins + "?address=" + url.QueryEscape(address)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}
	return res.Coins, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	return doJSON(ctx, c.http, method, c.baseURL+path, in, out)
}

// HTTPFaucet はHTTPの払い出しエンドポイントを呼ぶ
type HTTPFaucet struct {
	url  string
	http *http.Client
}

// NewHTTPFaucet は新しいFaucetクライアントを作成する
func NewHTTPFaucet(baseURL string, timeout time.Duration) *HTTPFaucet {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFaucet{
		url:  strings.TrimRight(baseURL, "/") + ledger.PathFaucet,
		http: &http.Client{Timeout: timeout},
	}
}

// Request は払い出しを依頼する
func (f *HTTPFaucet) Request(ctx context.Context, address string) error {
	var req ledger.FaucetRequest
	req.FixedAmountRequest.Recipient = address
	return doJSON(ctx, f.http, http.MethodPost, f.url, req, nil)
}

func doJSON(ctx context.Context, hc *http.Client, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ledger.ErrorResponse
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
