package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/alejandrodnm/fdamarket/internal/ports"
)

const (
	defaultAnthropicBase = "https://api.anthropic.com"
	defaultOpenAIBase    = "https://api.openai.com"
	defaultXAIBase       = "https://api.x.ai"
	defaultGoogleBase    = "https://generativelanguage.googleapis.com"

	defaultAnthropicModel = "claude-opus-4-6"
	defaultOpenAIModel    = "gpt-5.2"
	defaultXAIModel       = "grok-4-1-fast-reasoning"
	defaultGoogleModel    = "gemini-2.5-pro"

	defaultTimeout = 120 * time.Second
)

// Config carries the provider credentials and knobs. Base URLs and model
// names are overridable for tests; empty values get production defaults.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	XAIAPIKey       string
	GoogleAPIKey    string

	AnthropicBaseURL string
	OpenAIBaseURL    string
	XAIBaseURL       string
	GoogleBaseURL    string

	AnthropicModel string
	OpenAIModel    string
	XAIModel       string
	GoogleModel    string

	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.AnthropicBaseURL == "" {
		c.AnthropicBaseURL = defaultAnthropicBase
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = defaultOpenAIBase
	}
	if c.XAIBaseURL == "" {
		c.XAIBaseURL = defaultXAIBase
	}
	if c.GoogleBaseURL == "" {
		c.GoogleBaseURL = defaultGoogleBase
	}
	if c.AnthropicModel == "" {
		c.AnthropicModel = defaultAnthropicModel
	}
	if c.OpenAIModel == "" {
		c.OpenAIModel = defaultOpenAIModel
	}
	if c.XAIModel == "" {
		c.XAIModel = defaultXAIModel
	}
	if c.GoogleModel == "" {
		c.GoogleModel = defaultGoogleModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// NewDeciders builds one decider per competing model id, in canonical order.
// Deciders without a configured API key report disabled and fail fast when
// called anyway.
func NewDeciders(cfg Config) []ports.Decider {
	cfg.applyDefaults()
	c := newClient(cfg.Timeout)

	return []ports.Decider{
		&decider{
			modelID: "claude-opus",
			apiKey:  cfg.AnthropicAPIKey,
			timeout: cfg.Timeout,
			call: func(ctx context.Context, prompt string) (string, error) {
				return callAnthropic(ctx, c, cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, cfg.AnthropicModel, prompt)
			},
		},
		&decider{
			modelID: "gpt-5.2",
			apiKey:  cfg.OpenAIAPIKey,
			timeout: cfg.Timeout,
			call: func(ctx context.Context, prompt string) (string, error) {
				return callOpenAIResponses(ctx, c, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, prompt)
			},
		},
		&decider{
			modelID: "grok-4",
			apiKey:  cfg.XAIAPIKey,
			timeout: cfg.Timeout,
			call: func(ctx context.Context, prompt string) (string, error) {
				return callChatCompletions(ctx, c, cfg.XAIBaseURL, cfg.XAIAPIKey, cfg.XAIModel, prompt)
			},
		},
		&decider{
			modelID: "gemini-2.5",
			apiKey:  cfg.GoogleAPIKey,
			timeout: cfg.Timeout,
			call: func(ctx context.Context, prompt string) (string, error) {
				return callGemini(ctx, c, cfg.GoogleBaseURL, cfg.GoogleAPIKey, cfg.GoogleModel, prompt)
			},
		},
	}
}

// decider is the shared decide flow; call is the provider-specific request.
type decider struct {
	modelID string
	apiKey  string
	timeout time.Duration
	call    func(ctx context.Context, prompt string) (string, error)
}

func (d *decider) ModelID() string { return d.modelID }

func (d *decider) Enabled() bool { return d.apiKey != "" }

func (d *decider) Decide(ctx context.Context, dc domain.DecisionContext) (*domain.Decision, error) {
	if !d.Enabled() {
		return nil, &domain.AdapterError{
			ModelID: d.modelID,
			Code:    domain.ErrCodeAPIKeyMissing,
			Msg:     "api key not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	text, err := d.call(ctx, buildPrompt(dc))
	if err != nil {
		return nil, d.wrapCallError(err)
	}

	decision, err := parseDecision(text, dc.CashBalance)
	if err != nil {
		return nil, &domain.AdapterError{
			ModelID: d.modelID,
			Code:    domain.ErrCodeParse,
			Msg:     "unparseable model response",
			Err:     err,
		}
	}
	return decision, nil
}

func (d *decider) wrapCallError(err error) error {
	code := domain.ErrCodeUnhandled
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = domain.ErrCodeTimeout
	case errors.Is(err, errRateLimited):
		code = domain.ErrCodeRateLimited
	}
	return &domain.AdapterError{ModelID: d.modelID, Code: code, Msg: "decision call failed", Err: err}
}

// Anthropic messages API.

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func callAnthropic(ctx context.Context, c *client, base, apiKey, model, prompt string) (string, error) {
	var resp anthropicResponse
	err := c.postJSON(ctx, base+"/v1/messages",
		map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": "2023-06-01",
		},
		anthropicRequest{
			Model:     model,
			MaxTokens: 2000,
			Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		}, &resp)
	if err != nil {
		return "", err
	}

	// The response may carry several text blocks; prefer the last one that
	// looks like it contains the JSON decision.
	var blocks []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			if text := strings.TrimSpace(block.Text); text != "" {
				blocks = append(blocks, text)
			}
		}
	}
	if len(blocks) == 0 {
		return "", fmt.Errorf("no text content in response")
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		if strings.Contains(blocks[i], "{") && strings.Contains(blocks[i], "}") {
			return blocks[i], nil
		}
	}
	return strings.Join(blocks, "\n"), nil
}

// OpenAI responses API.

type openAIResponsesRequest struct {
	Model           string `json:"model"`
	Input           string `json:"input"`
	MaxOutputTokens int    `json:"max_output_tokens"`
}

type openAIResponsesResponse struct {
	Status     string `json:"status"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

func callOpenAIResponses(ctx context.Context, c *client, base, apiKey, model, prompt string) (string, error) {
	var resp openAIResponsesResponse
	err := c.postJSON(ctx, base+"/v1/responses",
		map[string]string{"Authorization": "Bearer " + apiKey},
		openAIResponsesRequest{Model: model, Input: prompt, MaxOutputTokens: 4000}, &resp)
	if err != nil {
		return "", err
	}

	if text := strings.TrimSpace(resp.OutputText); text != "" {
		return text, nil
	}
	var parts []string
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type == "output_text" || content.Type == "text" {
				if text := strings.TrimSpace(content.Text); text != "" {
					parts = append(parts, text)
				}
			}
		}
	}
	if len(parts) == 0 {
		status := resp.Status
		if status == "" {
			status = "unknown"
		}
		return "", fmt.Errorf("no content in response (status: %s)", status)
	}
	return strings.Join(parts, "\n"), nil
}

// OpenAI-compatible chat completions (xAI).

type chatCompletionsRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func callChatCompletions(ctx context.Context, c *client, base, apiKey, model, prompt string) (string, error) {
	var resp chatCompletionsResponse
	err := c.postJSON(ctx, base+"/v1/chat/completions",
		map[string]string{"Authorization": "Bearer " + apiKey},
		chatCompletionsRequest{
			Model:     model,
			Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
			MaxTokens: 2000,
		}, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("no content in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Gemini generateContent API.

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func callGemini(ctx context.Context, c *client, base, apiKey, model, prompt string) (string, error) {
	var resp geminiResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, model)
	err := c.postJSON(ctx, url,
		map[string]string{"x-goog-api-key": apiKey},
		geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}, &resp)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	return strings.Join(parts, "\n"), nil
}
