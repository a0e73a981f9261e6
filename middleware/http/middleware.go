// Package http provides HTTP middleware for token-gated features
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// FeatureExtractor extracts the feature being invoked from an HTTP request
type FeatureExtractor func(r *http.Request) ledger.Feature

// Config holds middleware configuration
type Config struct {
	// Gate is the feature gate instance (required)
	Gate *ledger.Gate

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// GetFeature extracts the feature from request (required)
	GetFeature FeatureExtractor

	// OnInsufficientTokens is called when the balance cannot cover the
	// feature. If nil, returns 402 with a JSON shortfall body.
	OnInsufficientTokens func(w http.ResponseWriter, r *http.Request, required, available int64)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// OnSettleError is called when the post-handler debit fails.
	// The response has already been written at that point, so this is an
	// observability hook, not a response path.
	OnSettleError func(r *http.Request, err error)
}

// statusRecorder captures the status code written by the wrapped handler so
// the middleware can decide whether to settle.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

// Middleware creates an HTTP middleware that gates handlers behind token
// balances. The balance is checked before the handler runs and debited only
// after the handler responds successfully, so a failed generation never
// costs tokens. A concurrent pair of requests can both pass the check; the
// settle path still never drives the balance negative.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Gate == nil {
		panic("tokenledger/http: Config.Gate is required")
	}
	if config.GetUserID == nil {
		panic("tokenledger/http: Config.GetUserID is required")
	}
	if config.GetFeature == nil {
		panic("tokenledger/http: Config.GetFeature is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", 0, 0)
				}
				return
			}

			feature := config.GetFeature(r)
			ctx := r.Context()

			if _, err := config.Gate.Check(ctx, userID, feature); err != nil {
				handleGateError(w, r, config, err)
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// Only successful responses consume tokens.
			if rec.status >= http.StatusBadRequest {
				return
			}

			if _, err := config.Gate.Settle(ctx, userID, feature); err != nil {
				if config.OnSettleError != nil {
					config.OnSettleError(r, err)
				}
			}
		})
	}
}

// HandlerFunc is the http.HandlerFunc variant of Middleware.
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

func handleGateError(w http.ResponseWriter, r *http.Request, config Config, err error) {
	var insufficientErr *ledger.InsufficientTokensError
	switch {
	case errors.As(err, &insufficientErr):
		if config.OnInsufficientTokens != nil {
			config.OnInsufficientTokens(w, r, insufficientErr.Required, insufficientErr.Available)
		} else {
			writeJSONError(w, http.StatusPaymentRequired, "insufficient_tokens",
				insufficientErr.Required, insufficientErr.Available)
		}
	case errors.Is(err, ledger.ErrUnknownFeature):
		writeJSONError(w, http.StatusBadRequest, "unknown_feature", 0, 0)
	default:
		if config.OnError != nil {
			config.OnError(w, r, err)
		} else {
			writeJSONError(w, http.StatusInternalServerError, "internal_error", 0, 0)
		}
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string, required, available int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]interface{}{"error": msg}
	if required > 0 {
		body["required"] = required
		body["available"] = available
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Convenience extractors

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a UserIDExtractor that gets user ID from request
// context values, for integrating with auth middleware.
func FromContext(key interface{}) UserIDExtractor {
	return func(r *http.Request) string {
		if val, ok := r.Context().Value(key).(string); ok {
			return val
		}
		return ""
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature ledger.Feature) FeatureExtractor {
	return func(*http.Request) ledger.Feature {
		return feature
	}
}
