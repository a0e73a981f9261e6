// Package fiber provides Fiber middleware for token-gated features
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// FeatureExtractor extracts the feature being invoked from a Fiber context
type FeatureExtractor func(c *fiber.Ctx) ledger.Feature

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
	OnInsufficientTokens func(c *fiber.Ctx, required, available int64) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error

	// OnSettleError is called when the post-handler debit fails.
	// The response has already been written at that point.
	OnSettleError func(c *fiber.Ctx, err error)
}

// Middleware creates a Fiber middleware that gates handlers behind token
// balances: check before the handler, debit only after it succeeds.
func Middleware(cfg Config) fiber.Handler {
	if cfg.Gate == nil {
		panic("tokenledger/fiber: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("tokenledger/fiber: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("tokenledger/fiber: Config.GetFeature is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		feature := cfg.GetFeature(c)

		// CRITICAL: Fiber uses fasthttp, so we must use c.UserContext()
		// to get a context.Context for the ledger calls.
		ctx := c.UserContext()

		if _, err := cfg.Gate.Check(ctx, userID, feature); err != nil {
			var insufficientErr *ledger.InsufficientTokensError
			switch {
			case errors.As(err, &insufficientErr):
				if cfg.OnInsufficientTokens != nil {
					return cfg.OnInsufficientTokens(c, insufficientErr.Required, insufficientErr.Available)
				}
				return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
					"error":     "insufficient_tokens",
					"required":  insufficientErr.Required,
					"available": insufficientErr.Available,
				})
			case errors.Is(err, ledger.ErrUnknownFeature):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_feature"})
			default:
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
			}
		}

		if err := c.Next(); err != nil {
			return err
		}

		if c.Response().StatusCode() >= fiber.StatusBadRequest {
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

// Convenience extractors

// FromLocals returns a UserIDExtractor that gets user ID from Fiber locals,
// for integrating with auth middleware that calls c.Locals.
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature ledger.Feature) FeatureExtractor {
	return func(*fiber.Ctx) ledger.Feature {
		return feature
	}
}

// FromParam returns a FeatureExtractor that reads the feature from a route
// parameter.
func FromParam(paramName string) FeatureExtractor {
	return func(c *fiber.Ctx) ledger.Feature {
		return ledger.Feature(c.Params(paramName))
	}
}
