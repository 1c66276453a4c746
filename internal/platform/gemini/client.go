package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"portionchef/internal/portion"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

// ErrEmptyResponse is returned when Gemini answers without any text.
var ErrEmptyResponse = errors.New("empty response from Gemini")

// Client is a client for the Gemini API.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *zap.Logger
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, apiKey, modelName string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	return &Client{
		client: client,
		model:  model,
		logger: logger.With(zap.String("llm", "gemini"), zap.String("model", modelName)),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// ProposePortions asks Gemini for grams per ingredient. The proposal still has to be
// checked with portion.Optimizer.Evaluate.
func (c *Client) ProposePortions(ctx context.Context, req portion.Request) (*portion.Proposal, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(portion.BuildPrompt(req)))
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("unexpected response format from Gemini")
	}

	proposal, err := portion.ParseProposal(b.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read Gemini proposal for %s: %w", req.Recipe.DishName, err)
	}

	c.logger.Debug("received portion proposal",
		zap.String("dish", req.Recipe.DishName),
		zap.Strings("grams", portion.ProposalSummary(proposal)),
		zap.Bool("review_needed", proposal.ReviewNeeded),
	)
	return proposal, nil
}
