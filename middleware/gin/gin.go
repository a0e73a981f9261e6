// Package gin provides Gin middleware for token-gated features
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// FeatureExtractor extracts the feature being invoked from a Gin context
type FeatureExtractor func(c *gongin.Context) ledger.Feature

// Config holds middleware configuration
type Config struct {
	// Gate is the feature gate instance (required)
	Gate *ledger.Gate

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// GetFeature extracts the feature from context (required)
	GetFeature FeatureExtractor

	// OnInsufficientTokens is called when the balance cannot cover the
	// feature. If nil, returns 402 with a JSON shortfall body.
	OnInsufficientTokens func(c *gongin.Context, required, available int64)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)

	// OnSettleError is called when the post-handler debit fails.
	// The response has already been written at that point.
	OnSettleError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that gates handlers behind token
// balances: check before the handler, debit only after it succeeds.
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.Gate == nil {
		panic("tokenledger/gin: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("tokenledger/gin: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("tokenledger/gin: Config.GetFeature is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		feature := cfg.GetFeature(c)
		ctx := c.Request.Context()

		if _, err := cfg.Gate.Check(ctx, userID, feature); err != nil {
			var insufficientErr *ledger.InsufficientTokensError
			switch {
			case errors.As(err, &insufficientErr):
				if cfg.OnInsufficientTokens != nil {
					cfg.OnInsufficientTokens(c, insufficientErr.Required, insufficientErr.Available)
				} else {
					c.JSON(http.StatusPaymentRequired, gongin.H{
						"error":     "insufficient_tokens",
						"required":  insufficientErr.Required,
						"available": insufficientErr.Available,
					})
				}
			case errors.Is(err, ledger.ErrUnknownFeature):
				c.JSON(http.StatusBadRequest, gongin.H{"error": "unknown_feature"})
			default:
				if cfg.OnError != nil {
					cfg.OnError(c, err)
				} else {
					c.JSON(http.StatusInternalServerError, gongin.H{"error": "internal_error"})
				}
			}
			c.Abort()
			return
		}

		c.Next()

		if c.IsAborted() || c.Writer.Status() >= http.StatusBadRequest {
			return
		}

		if _, err := cfg.Gate.Settle(ctx, userID, feature); err != nil {
			if cfg.OnSettleError != nil {
				cfg.OnSettleError(c, err)
			}
		}
	}
}

// Convenience extractors

// FromContext returns a UserIDExtractor that gets user ID from Gin context
// values, for integrating with auth middleware that calls c.Set.
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature ledger.Feature) FeatureExtractor {
	return func(*gongin.Context) ledger.Feature {
		return feature
	}
}

// FromParam returns a FeatureExtractor that reads the feature from a route
// parameter.
func FromParam(paramName string) FeatureExtractor {
	return func(c *gongin.Context) ledger.Feature {
		return ledger.Feature(c.Param(paramName))
	}
}
