package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/tier"
)

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIGenerator asks a chat completion model for a {subject, body} JSON object.
type OpenAIGenerator struct {
	httpClient *resty.Client
	model      string
	storeName  string
	logger     *zap.Logger
}

func NewOpenAIGenerator(baseURL, apiKey, model, storeName string, logger *zap.Logger) *OpenAIGenerator {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &OpenAIGenerator{
		httpClient: client,
		model:      model,
		storeName:  storeName,
		logger:     logger,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, p Profile, t tier.Tier) (Content, error) {
	req := chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: g.prompt(p, t)}},
		Temperature: 0.7,
		MaxTokens:   500,
	}

	var (
		result  chatResponse
		failure apiError
	)
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&failure).
		Post("/chat/completions")
	if err != nil {
		return Content{}, fmt.Errorf("call chat completions: %w", err)
	}
	if resp.IsError() {
		g.logger.Error("chat completions returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", failure.Error.Message),
		)
		return Content{}, fmt.Errorf("chat completions: %s (status: %d)", failure.Error.Message, resp.StatusCode())
	}
	if len(result.Choices) == 0 {
		return Content{}, fmt.Errorf("%w: no choices returned", ErrMalformedContent)
	}

	content, err := ParseContent(result.Choices[0].Message.Content)
	if err != nil {
		return Content{}, err
	}

	g.logger.Debug("generated outreach content",
		zap.String("checkout_id", p.CheckoutID),
		zap.String("tier", t.String()),
	)
	return content, nil
}

// ParseContent decodes a model answer into Content. Markdown code fences around
// the JSON object are tolerated.
func ParseContent(raw string) (Content, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var c Content
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &c); err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if err := c.Validate(); err != nil {
		return Content{}, err
	}
	return c, nil
}

func (g *OpenAIGenerator) prompt(p Profile, t tier.Tier) string {
	var focus string
	switch t {
	case tier.High:
		focus = "Emphasize an urgent personal consultation; this is a high value cart"
	case tier.Medium:
		focus = "Offer to connect the customer with a technical specialist"
	default:
		focus = "Focus on product benefits and ease of ordering"
	}

	return fmt.Sprintf(`Generate a professional cart recovery email for %s. Customer details:

Name: %s
Email: %s
Cart Value: %.2f %s
Cart Tier: %s
Location: %s

Requirements:
- Professional tone
- %s
- Do not mention discount codes
- Include a clear call to action
- Keep under 200 words
- Return only JSON with "subject" and "body" fields
- Body should be HTML formatted`,
		g.storeName, p.Name(), p.Email, p.Total, p.Currency, t, p.Location(), focus)
}
