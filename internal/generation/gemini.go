// Package generation implements the pipeline's StageGenerator port with
// Google's generative models. Each pipeline stage maps to one inference
// call that receives the accumulated artifacts as context and returns a
// JSON draft candidate.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/semopic/director-api/internal/pipeline"
)

// Static errors for generation operations.
var (
	// ErrAPIKeyRequired is returned when no API key is provided.
	ErrAPIKeyRequired = errors.New("generation: API key is required")
	// ErrEmptyResponse is returned when the model returns no usable text.
	ErrEmptyResponse = errors.New("generation: empty model response")
	// ErrUnsupportedStage is returned for stages with no generated draft.
	ErrUnsupportedStage = errors.New("generation: unsupported stage")
)

// scriptCandidateCount is how many script candidates the scripting stage
// asks the model for.
const scriptCandidateCount = 3

// defaultModel is the model used when none is configured.
const defaultModel = "gemini-1.5-flash"

// Compile-time check that GeminiGenerator implements the port.
var _ pipeline.StageGenerator = (*GeminiGenerator)(nil)

// GeminiGenerator generates stage drafts with the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// Option configures a GeminiGenerator.
type Option func(*GeminiGenerator)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(g *GeminiGenerator) {
		if model != "" {
			g.model = model
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *GeminiGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGemini creates a generator backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	g := &GeminiGenerator{
		client: client,
		model:  defaultModel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Close releases the underlying client.
func (g *GeminiGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// GenerateStage performs one inference call for the stage and decodes the
// JSON response into a draft candidate.
func (g *GeminiGenerator) GenerateStage(ctx context.Context, stage pipeline.Stage, artifacts pipeline.Artifacts) (*pipeline.Draft, error) {
	prompt, err := promptFor(stage, artifacts)
	if err != nil {
		return nil, err
	}

	model := g.client.GenerativeModel(g.model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.4)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", stage, err)
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}

	draft, err := decodeDraft(stage, []byte(cleanJSONBlock(text)))
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", stage, err)
	}

	g.logger.Debug("stage draft generated",
		slog.String("stage", string(stage)),
		slog.String("model", g.model),
	)
	return draft, nil
}

// decodeDraft parses a model response into the draft shape for the stage.
func decodeDraft(stage pipeline.Stage, data []byte) (*pipeline.Draft, error) {
	switch stage {
	case pipeline.StageProductUnderstanding:
		var v pipeline.ProductUnderstanding
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &pipeline.Draft{Product: &v}, nil
	case pipeline.StageMarketAnalysis:
		var v pipeline.MarketAnalysis
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &pipeline.Draft{Market: &v}, nil
	case pipeline.StageCreativeStrategy:
		var v pipeline.CreativeStrategy
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &pipeline.Draft{Strategy: &v}, nil
	case pipeline.StageStyleMatching:
		var v pipeline.StyleChoice
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &pipeline.Draft{Style: &v}, nil
	case pipeline.StageScriptsGenerated:
		var v []pipeline.Script
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &pipeline.Draft{Scripts: v}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStage, stage)
	}
}

// extractText flattens the first candidate's text parts.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.Join(parts, ""), nil
}

// cleanJSONBlock strips markdown code fences some models wrap JSON in.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
