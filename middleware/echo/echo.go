// Package echo provides Echo middleware for token-gated features
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// FeatureExtractor extracts the feature being invoked from an Echo context
type FeatureExtractor func(c echo.Context) ledger.Feature

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
	OnInsufficientTokens func(c echo.Context, required, available int64) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error

	// OnSettleError is called when the post-handler debit fails.
	// The response has already been written at that point.
	OnSettleError func(c echo.Context, err error)
}

// Middleware creates an Echo middleware that gates handlers behind token
// balances: check before the handler, debit only after it succeeds.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Gate == nil {
		panic("tokenledger/echo: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("tokenledger/echo: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("tokenledger/echo: Config.GetFeature is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			feature := cfg.GetFeature(c)
			ctx := c.Request().Context()

			if _, err := cfg.Gate.Check(ctx, userID, feature); err != nil {
				var insufficientErr *ledger.InsufficientTokensError
				switch {
				case errors.As(err, &insufficientErr):
					if cfg.OnInsufficientTokens != nil {
						return cfg.OnInsufficientTokens(c, insufficientErr.Required, insufficientErr.Available)
					}
					return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
						"error":     "insufficient_tokens",
						"required":  insufficientErr.Required,
						"available": insufficientErr.Available,
					})
				case errors.Is(err, ledger.ErrUnknownFeature):
					return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown_feature"})
				default:
					if cfg.OnError != nil {
						return cfg.OnError(c, err)
					}
					return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal_error"})
				}
			}

			if err := next(c); err != nil {
				return err
			}

			if c.Response().Status >= http.StatusBadRequest {
				return nil
			}

			if _, err := cfg.Gate.Settle(ctx, userID, feature); err != nil {
				if cfg.OnSettleError != nil {
					cfg.OnSettleError(c, err)
				}
			}
			return nil
		}
	}
}

// Convenience extractors

// FromContext returns a UserIDExtractor that gets user ID from Echo context
// values, for integrating with auth middleware that calls c.Set.
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature ledger.Feature) FeatureExtractor {
	return func(echo.Context) ledger.Feature {
		return feature
	}
}

// FromParam returns a FeatureExtractor that reads the feature from a route
// parameter.
func FromParam(paramName string) FeatureExtractor {
	return func(c echo.Context) ledger.Feature {
		return ledger.Feature(c.Param(paramName))
	}
}
