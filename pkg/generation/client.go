package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 1500
	defaultTemperature = 0.8
	defaultTimeout     = 60 * time.Second
)

type requestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string           `json:"model"`
	Messages       []requestMessage `json:"messages"`
	MaxTokens      int              `json:"max_tokens"`
	Temperature    float32          `json:"temperature"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int `json:"index"`
	Message      struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// ClientConfig configures the chat completion client.
type ClientConfig struct {
	// APIKey authenticates against the completion API (required)
	APIKey string

	// BaseURL points at an OpenAI-compatible endpoint
	// (default: https://api.openai.com/v1)
	BaseURL string

	// Model selects the completion model (default: gpt-4o-mini)
	Model string

	// HTTPClient is an optional HTTP client (default: 60s timeout)
	HTTPClient *http.Client

	// Logger is used for structured logging (default: NoopLogger)
	Logger ledger.Logger
}

// Client implements Generator against an OpenAI-compatible chat API.
type Client struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
	logger  ledger.Logger
}

// NewClient creates a generation client.
func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("generation: API key is required")
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := config.Model
	if model == "" {
		model = defaultModel
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = &ledger.NoopLogger{}
	}

	return &Client{
		client:  httpClient,
		apiKey:  config.APIKey,
		baseURL: baseURL,
		model:   model,
		logger:  logger,
	}, nil
}

// GenerateIdea implements Generator.
func (c *Client) GenerateIdea(ctx context.Context, input Input) (*Idea, error) {
	prompt := fmt.Sprintf(
		"Generate a detailed startup plan as a JSON object with the fields "+
			"name, description, sector, revenueModel, marketSize, competition, "+
			"mvpFeatures (array of strings), goToMarket and fundingNeeds.\n\n"+
			"Problem: %s\nSolution: %s\nTarget audience: %s",
		input.Problem, input.Solution, input.TargetAudience,
	)

	content, err := c.complete(ctx, []requestMessage{
		{Role: "system", Content: "You are a startup advisor. Respond only with valid JSON."},
		{Role: "user", Content: prompt},
	}, &responseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}

	var idea Idea
	if err := json.Unmarshal([]byte(content), &idea); err != nil {
		return nil, fmt.Errorf("%w: invalid model output: %v", ErrGenerationFailed, err)
	}
	return &idea, nil
}

// RewriteSection implements Generator.
func (c *Client) RewriteSection(ctx context.Context, idea *Idea, section string) (string, error) {
	current, err := json.Marshal(idea)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	prompt := fmt.Sprintf(
		"Here is a startup plan as JSON:\n%s\n\n"+
			"Rewrite only the %q section. Respond with the new text for that "+
			"section, nothing else.",
		current, section,
	)

	content, err := c.complete(ctx, []requestMessage{
		{Role: "system", Content: "You are a startup advisor."},
		{Role: "user", Content: prompt},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// complete performs one chat completion round trip and returns the first
// choice's content.
func (c *Client) complete(ctx context.Context, messages []requestMessage, format *responseFormat) (string, error) {
	reqBody := chatCompletionRequest{
		Model:          c.model,
		Messages:       messages,
		MaxTokens:      defaultMaxTokens,
		Temperature:    defaultTemperature,
		ResponseFormat: format,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %v", ErrGenerationFailed, err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("completion request failed",
			ledger.Field{Key: "status", Value: resp.StatusCode},
			ledger.Field{Key: "body", Value: string(body)},
		)
		return "", fmt.Errorf("%w: status %d", ErrGenerationFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("%w: failed to unmarshal response: %v", ErrGenerationFailed, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	return completion.Choices[0].Message.Content, nil
}
