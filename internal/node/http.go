package node

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"

	"churn-bench/internal/identity"
	"churn-bench/internal/ledger"
	"churn-bench/internal/logger"
)

const maxRequestBytes = 4 << 20

// Handler は台帳の操作をHTTPで公開するハンドラを返す
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ledger.PathSubmit, n.handleSubmit)
	mux.HandleFunc("POST "+ledger.PathQuery, n.handleQuery)
	mux.HandleFunc("GET "+ledger.PathCoins, n.handleCoins)
	mux.HandleFunc("POST "+ledger.PathFaucet, n.handleFaucet)
	mux.HandleFunc("GET /v1/status", n.handleStatus)
	return mux
}

func (n *Node) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req ledger.SubmitRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pub := ed25519.PublicKey(req.PublicKey)
	if !identity.Verify(pub, req.Body, req.Signature) {
		writeError(w, http.StatusUnauthorized, ErrBadSignature)
		return
	}

	var body ledger.SubmitBody
	if err := json.Unmarshal(req.Body, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if identity.DeriveAddress(pub) != body.Sender {
		writeError(w, http.StatusUnauthorized, ErrBadSignature)
		return
	}

	res, err := n.SubmitAs(r.Context(), body.Sender, body.Fee, body.Op, body.Budget, body.Nonce)
	if err != nil {
		logger.Debug(n.id, "Rejected submission from %s: %v", body.Sender, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (n *Node) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req ledger.QueryRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	refs, err := n.Query(r.Context(), req.Handles)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.QueryResponse{Objects: refs})
}

func (n *Node) handleCoins(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}

	coins, err := n.Coins(r.Context(), address)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.CoinsResponse{Coins: coins})
}

func (n *Node) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req ledger.FaucetRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipient := req.FixedAmountRequest.Recipient
	if recipient == "" {
		writeError(w, http.StatusBadRequest, errors.New("recipient is required"))
		return
	}

	if err := n.Request(r.Context(), recipient); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"recipient": recipient,
		"amount":    n.cfg.FaucetAmount,
	})
}

func (n *Node) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     n.id,
		"status": n.Status().String(),
		"delay":  n.Delay().String(),
		"stats":  n.Stats(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrInjectedFault):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrVersionMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFee), errors.Is(err, ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ledger.ErrorResponse{Error: err.Error(), Code: http.StatusText(status)})
}
