package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/llmservice"
	"knowledge-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	serviceName      = "embedding"
	DefaultBatchSize = 100
)

var (
	ErrEmptyInput = fmt.Errorf("%w: empty text cannot be embedded", models.ErrInvalidInput)

	lineBreakRegex = regexp.MustCompile(`\s*[\r\n]+\s*`)
)

// Provider is the embedding endpoint. langchaingo's openai and ollama LLMs
// satisfy it directly.
type Provider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Client batches texts against a Provider. It never retries; a failed call
// fails the whole batch with a classified *models.DependencyError.
type Client struct {
	provider  Provider
	batchSize int
	timeout   time.Duration
}

func NewClient(provider Provider, cfg config.EmbeddingConfig) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Client{provider: provider, batchSize: cfg.BatchSize, timeout: cfg.Timeout}
}

// NewEmbedder builds the provider named in cfg and wraps it in a Client.
func NewEmbedder(cfg config.EmbeddingConfig) (*Client, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Initializing embedder")

	httpClient := &http.Client{Timeout: cfg.Timeout}
	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		provider, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		provider, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrInvalidInput, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s embedder: %w", cfg.Provider, err)
	}
	return NewClient(provider, cfg), nil
}

func (c *Client) BatchSize() int {
	return c.batchSize
}

// Embed returns the vector of a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in input order. Texts are split into
// provider calls of at most BatchSize inputs.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = Preprocess(t)
		if inputs[i] == "" {
			return nil, fmt.Errorf("%w (input %d)", ErrEmptyInput, i)
		}
	}

	vectors := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += c.batchSize {
		end := min(start+c.batchSize, len(inputs))
		batch, err := c.call(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *Client) call(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	vectors, err := c.provider.CreateEmbedding(ctx, inputs)
	if err != nil {
		return nil, llmservice.ClassifyError(serviceName, err)
	}
	if len(vectors) != len(inputs) {
		return nil, models.NewDependencyError(serviceName, models.KindUnknown, 0,
			fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(inputs)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, models.NewDependencyError(serviceName, models.KindUnknown, 0,
				fmt.Errorf("provider returned an empty vector for input %d", i))
		}
	}
	return vectors, nil
}

// Preprocess collapses line breaks to single spaces and trims the text.
func Preprocess(text string) string {
	return strings.TrimSpace(lineBreakRegex.ReplaceAllString(text, " "))
}

// IsEmptyInput reports whether err was caused by an empty text.
func IsEmptyInput(err error) bool {
	return errors.Is(err, ErrEmptyInput)
}
