// Package generation produces startup plan content through an
// OpenAI-compatible chat completion API. It is deliberately decoupled from
// the ledger: callers gate and settle token costs around it.
package generation

import (
	"context"
	"errors"
)

// ErrGenerationFailed wraps upstream model failures.
var ErrGenerationFailed = errors.New("generation failed")

// Input describes the user's startup concept.
type Input struct {
	Problem        string `json:"problem"`
	Solution       string `json:"solution"`
	TargetAudience string `json:"targetAudience"`
}

// Idea is one generated startup plan.
type Idea struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Sector       string   `json:"sector"`
	RevenueModel string   `json:"revenueModel"`
	MarketSize   string   `json:"marketSize"`
	Competition  string   `json:"competition"`
	MVPFeatures  []string `json:"mvpFeatures"`
	GoToMarket   string   `json:"goToMarket"`
	FundingNeeds string   `json:"fundingNeeds"`
}

// Generator produces startup ideas from a concept description.
type Generator interface {
	// GenerateIdea produces a full startup plan for the input.
	GenerateIdea(ctx context.Context, input Input) (*Idea, error)

	// RewriteSection regenerates a single named section of an existing idea
	// and returns the new text for that section.
	RewriteSection(ctx context.Context, idea *Idea, section string) (string, error)
}
