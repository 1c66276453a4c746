package localllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"portionchef/internal/portion"
)

const (
	// DefaultURL is the chat-completions endpoint of a local LM Studio server.
	DefaultURL = "http://localhost:1234/v1/chat/completions"
	// DefaultModel is the model requested when none is configured.
	DefaultModel = "gemma-3-12b-it:2"
)

// Client represents a client for the local LLM.
type Client struct {
	httpClient *http.Client
	apiURL     string
	model      string
	logger     *zap.Logger
}

// NewClient creates a new client for the local LLM.
func NewClient(apiURL, model string, logger *zap.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		apiURL:     apiURL,
		model:      model,
		logger:     logger.With(zap.String("llm", "local"), zap.String("model", model)),
	}
}

// Request represents the request body for the local LLM.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Message represents a message in the request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents the response from the local LLM.
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice represents a choice in the response.
type Choice struct {
	Message Message `json:"message"`
}

// GenerateContent sends a request to the local LLM and returns the response.
func (c *Client) GenerateContent(ctx context.Context, system, text string) (string, error) {
	reqBody := Request{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   2048,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("received non-OK status code: %d", resp.StatusCode)
	}

	var llmResp Response
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(llmResp.Choices) > 0 {
		return llmResp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("no content found in response")
}

const systemPrompt = "You are a nutrition assistant. Answer with a single JSON object and nothing else."

// ProposePortions asks the local model for grams per ingredient.
func (c *Client) ProposePortions(ctx context.Context, req portion.Request) (*portion.Proposal, error) {
	responseText, err := c.GenerateContent(ctx, systemPrompt, portion.BuildPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	proposal, err := portion.ParseProposal(responseText)
	if err != nil {
		c.logger.Warn("unusable portion proposal",
			zap.String("dish", req.Recipe.DishName),
			zap.Int("response_bytes", len(responseText)),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Debug("received portion proposal",
		zap.String("dish", req.Recipe.DishName),
		zap.Strings("grams", portion.ProposalSummary(proposal)),
	)
	return proposal, nil
}
