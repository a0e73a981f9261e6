// Package api exposes the token ledger over HTTP: balance reads, debits,
// usage totals, purchase history, manual purchase verification and the
// real-time balance stream.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/launchpilot/tokenledger/pkg/billing"
	"github.com/launchpilot/tokenledger/pkg/ledger"
	"github.com/launchpilot/tokenledger/pkg/notify"
)

// Handler serves the token API endpoints.
type Handler struct {
	ledger    *ledger.Service
	gate      *ledger.Gate
	hub       *notify.Hub
	provider  billing.Provider
	getUserID notify.UserIDExtractor
	onError   func(w http.ResponseWriter, r *http.Request, err error)
	logger    ledger.Logger
}

// NewHandler creates the API handler from its dependencies.
func NewHandler(config Config) (*Handler, error) {
	if config.Ledger == nil {
		return nil, ledger.ErrStorageUnavailable
	}
	if config.GetUserID == nil {
		return nil, fmt.Errorf("api: GetUserID is required")
	}

	gate, err := ledger.NewGate(config.Ledger)
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = &ledger.NoopLogger{}
	}

	return &Handler{
		ledger:    config.Ledger,
		gate:      gate,
		hub:       config.Hub,
		provider:  config.Provider,
		getUserID: config.GetUserID,
		onError:   config.OnError,
		logger:    logger,
	}, nil
}

// Register mounts all endpoints on the given mux under /api/tokens.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/tokens/balance", h.GetBalance)
	mux.HandleFunc("/api/tokens/debit", h.Debit)
	mux.HandleFunc("/api/tokens/usage", h.GetUsage)
	mux.HandleFunc("/api/tokens/purchases", h.ListPurchases)
	mux.HandleFunc("/api/tokens/verify-purchase", h.VerifyPurchase)
	mux.HandleFunc("/api/tokens/stream", h.StreamBalance)
	if h.provider != nil {
		mux.Handle("/webhook/"+h.provider.Name(), h.provider.WebhookHandler())
	}
}

// GetBalance returns the user's current balance, materializing the first-use
// grant for users never seen before.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	userID := h.getUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		Tokens:    balance.Tokens,
		UpdatedAt: balance.UpdatedAt,
	})
}

// Debit consumes tokens for a feature (check, debit and usage recording in
// one call) or a raw amount. Insufficient balance yields 402 with the
// shortfall detail.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	userID := h.getUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	var (
		tokens int64
		cost   int64
		err    error
	)
	switch {
	case req.Feature != "":
		feature := ledger.Feature(req.Feature)
		cost, err = h.ledger.Cost(feature)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown_feature")
			return
		}
		tokens, err = h.gate.Settle(r.Context(), userID, feature)
	case req.Amount > 0:
		cost = req.Amount
		tokens, err = h.ledger.Debit(r.Context(), userID, req.Amount)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err != nil {
		var insufficientErr *ledger.InsufficientTokensError
		if errors.As(err, &insufficientErr) {
			writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
				Error:     "insufficient_tokens",
				Required:  insufficientErr.Required,
				Available: insufficientErr.Available,
			})
			return
		}
		h.internalError(w, r, err)
		return
	}

	if h.hub != nil {
		h.hub.Publish(userID, tokens)
	}

	writeJSON(w, http.StatusOK, DebitResponse{Tokens: tokens, Cost: cost})
}

// GetUsage returns the user's cumulative consumed tokens.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	userID := h.getUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	total, err := h.ledger.UsageTotal(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{Total: total})
}

// ListPurchases returns the user's purchase history, newest first.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	userID := h.getUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	purchases, err := h.ledger.ListPurchases(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	out := make([]PurchaseResponse, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, purchaseResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// VerifyPurchase reconciles a checkout session against the payment provider.
// It is the fallback for missed webhooks; crediting is idempotent so calling
// it after a delivered webhook is harmless.
func (h *Handler) VerifyPurchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	if h.provider == nil {
		writeError(w, http.StatusNotFound, "not_configured")
		return
	}
	userID := h.getUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VerifyPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	purchase, err := h.provider.SyncSession(r.Context(), userID, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrSessionNotPaid):
			writeError(w, http.StatusConflict, "session_not_paid")
		case errors.Is(err, billing.ErrSessionUserMismatch):
			writeError(w, http.StatusForbidden, "session_user_mismatch")
		case errors.Is(err, billing.ErrInvalidPaymentEvent):
			writeError(w, http.StatusBadRequest, "invalid_session")
		default:
			h.internalError(w, r, err)
		}
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	resp := purchaseResponse(purchase)
	writeJSON(w, http.StatusOK, VerifyPurchaseResponse{
		Tokens:   balance.Tokens,
		Purchase: &resp,
	})
}

// StreamBalance serves the SSE balance stream.
func (h *Handler) StreamBalance(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, "not_configured")
		return
	}
	notify.SSEHandler(h.hub, h.getUserID).ServeHTTP(w, r)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed",
		ledger.Field{Key: "path", Value: r.URL.Path},
		ledger.Field{Key: "error", Value: err.Error()},
	)
	if h.onError != nil {
		h.onError(w, r, err)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error")
}

func purchaseResponse(p *ledger.Purchase) PurchaseResponse {
	return PurchaseResponse{
		PackageID:   p.PackageID,
		PackageName: p.PackageName,
		Tokens:      p.Tokens,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		ExternalID:  p.ExternalID,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
