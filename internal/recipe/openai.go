package recipe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

const systemPrompt = `You are a cooking assistant. Reply with a single JSON object of the form
{"title": string, "ingredients": [string], "steps": [string], "servings": number}
and nothing else.`

// OpenAIConfig configures OpenAIGenerator.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIGenerator generates recipes with the OpenAI chat completions API.
type OpenAIGenerator struct {
	client  openai.Client
	model   openai.ChatModel
	timeout time.Duration
}

// NewOpenAIGenerator creates a generator. An API key is required.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIGenerator{
		client:  openai.NewClient(opts...),
		model:   openai.ChatModel(cfg.Model),
		timeout: cfg.Timeout,
	}, nil
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, prefs Preferences) (*Recipe, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(prefs)),
		},
		Model: g.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	return decodeRecipe(resp.Choices[0].Message.Content)
}

func userPrompt(p Preferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ingredients: %s\n", strings.Join(p.Ingredients, ", "))
	if len(p.Appliances) > 0 {
		fmt.Fprintf(&b, "Appliances: %s\n", strings.Join(p.Appliances, ", "))
	}
	if p.MealType != "" {
		fmt.Fprintf(&b, "Meal: %s\n", p.MealType)
	}
	if len(p.Dietary) > 0 {
		fmt.Fprintf(&b, "Dietary: %s\n", strings.Join(p.Dietary, ", "))
	}
	if p.Servings > 0 {
		fmt.Fprintf(&b, "Servings: %d\n", p.Servings)
	}
	return b.String()
}

// decodeRecipe parses the model's reply, tolerating a fenced code block.
func decodeRecipe(content string) (*Recipe, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}

	var r Recipe
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("decoding recipe: %w", err)
	}
	if r.Title == "" || len(r.Steps) == 0 {
		return nil, fmt.Errorf("decoding recipe: missing title or steps")
	}
	return &r, nil
}
