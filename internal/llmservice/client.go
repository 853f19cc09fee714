package llmservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const serviceName = "llm"

// Provider produces an assistant reply for a system prompt and conversation.
type Provider interface {
	Complete(ctx context.Context, systemPrompt string, history []models.Message) (string, error)
}

// Client adapts a langchaingo model to Provider.
type Client struct {
	model     llms.Model
	maxTokens int
	cfg       config.LLMConfig
}

func NewClient(model llms.Model, cfg config.LLMConfig) *Client {
	return &Client{model: model, maxTokens: cfg.MaxTokens, cfg: cfg}
}

// New builds the chat model selected by cfg.Provider.
func New(cfg config.LLMConfig) (*Client, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("Initializing LLM")

	httpClient := &http.Client{Timeout: cfg.Timeout}
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
			anthropic.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", models.ErrInvalidInput, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s llm: %w", cfg.Provider, err)
	}
	return NewClient(model, cfg), nil
}

// Complete sends the system prompt and history and returns the first choice.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []models.Message) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	res, err := GenerateContent(ctx, c.model, BuildMessages(systemPrompt, history), c.maxTokens)
	if err != nil {
		return "", ClassifyError(serviceName, err)
	}
	if len(res.Choices) == 0 {
		return "", models.NewDependencyError(serviceName, models.KindUnknown, 0, fmt.Errorf("empty response"))
	}
	return res.Choices[0].Content, nil
}

// call llm
func GenerateContent(ctx context.Context, model llms.Model, messages []llms.MessageContent, maxTokens int) (*llms.ContentResponse, error) {
	var opts []llms.CallOption
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	return model.GenerateContent(ctx, messages, opts...)
}

// BuildMessages converts a conversation into langchaingo messages, system first.
func BuildMessages(systemPrompt string, history []models.Message) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt))
	}
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := schema.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	return msgs
}
