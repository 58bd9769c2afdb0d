package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opickel/social-recipes/internal/domain"
	"github.com/opickel/social-recipes/internal/pipeline"
)

// Config holds the language model settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	VisionModel    string
	TargetLanguage string
	Timeout        time.Duration
}

// Client wraps the OpenAI-compatible chat API for recipe synthesis and
// frame analysis.
type Client struct {
	api         *openai.Client
	model       string
	visionModel string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewClient creates a Client. BaseURL allows pointing at any
// OpenAI-compatible endpoint, a local one included.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		visionModel: visionModel,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Synthesize turns transcript and on-screen text into a structured
// recipe. Missing yield or nutrition triggers one enrichment round;
// enrichment failures degrade, never fail the recipe.
func (c *Client) Synthesize(ctx context.Context, in pipeline.SynthesisInput) (*domain.RecipeDocument, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	content := fmt.Sprintf(
		"Video title: %s\n\nVideo description:\n%s\n\n%s",
		in.Title, in.Description,
		pipeline.CombineTranscripts(in.Transcript, in.VisualText),
	)

	raw, err := c.chatJSON(ctx, c.model, synthesisSystemPrompt(in.TargetLanguage), content)
	if err != nil {
		return nil, err
	}

	doc, err := ParseRecipeJSON(raw)
	if err != nil {
		return nil, err
	}
	if in.Title != "" && doc.Name == "" {
		doc.Name = in.Title
	}
	doc.SourceURL = in.SourceURL

	if doc.Yield == "" || doc.Nutrition.Empty() {
		c.enrich(ctx, doc)
	}
	return doc, nil
}

// enrich asks the model to estimate yield and nutrition for a recipe
// that came back without them.
func (c *Client) enrich(ctx context.Context, doc *domain.RecipeDocument) {
	var list string
	for _, ing := range doc.Ingredients {
		list += "- " + ing.Display() + "\n"
	}
	content := fmt.Sprintf("Recipe: %s\n\nIngredients:\n%s", doc.Name, list)

	raw, err := c.chatJSON(ctx, c.model, enrichmentSystemPrompt, content)
	if err != nil {
		c.logger.Warn("Yield/nutrition enrichment failed", slog.Any("error", err))
		return
	}

	enriched, err := ParseEnrichmentJSON(raw)
	if err != nil {
		c.logger.Warn("Yield/nutrition enrichment returned bad JSON", slog.Any("error", err))
		return
	}

	if doc.Yield == "" {
		doc.Yield = enriched.Yield
	}
	if doc.Servings == 0 {
		doc.Servings = enriched.Servings
	}
	if doc.Nutrition.Empty() {
		doc.Nutrition = enriched.Nutrition
	}
}

// ReadFrameText extracts recipe-relevant on-screen text from the
// frames.
func (c *Client) ReadFrameText(ctx context.Context, framePaths []string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.chatVision(ctx, frameTextPrompt, framePaths)
	if err != nil {
		return "", err
	}
	if isNoTextReply(resp) {
		return "", nil
	}
	return resp, nil
}

// SelectDishFrame asks the model which frame best shows the finished
// dish and returns its zero-based index.
func (c *Client) SelectDishFrame(ctx context.Context, framePaths []string) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	prompt := fmt.Sprintf(dishFramePromptFmt, len(framePaths))
	resp, err := c.chatVision(ctx, prompt, framePaths)
	if err != nil {
		return -1, err
	}

	idx, err := ParseFrameIndex(resp, len(framePaths))
	if err != nil {
		return -1, err
	}
	return idx, nil
}

func (c *Client) chatJSON(ctx context.Context, model, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) chatVision(ctx context.Context, prompt string, framePaths []string) (string, error) {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}
	for _, path := range framePaths {
		dataURL, err := encodeImage(path)
		if err != nil {
			return "", err
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailLow,
			},
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read frame %s: %w", path, err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}
