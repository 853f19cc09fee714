package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	reply    string
	err      error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestClientComplete(t *testing.T) {
	model := &fakeModel{reply: "We open at nine."}
	client := NewClient(model, config.LLMConfig{MaxTokens: 256})

	history := []models.Message{
		{Role: models.RoleUser, Content: "Hi"},
		{Role: models.RoleAssistant, Content: "Hello! How can I help?"},
		{Role: models.RoleUser, Content: "When do you open?"},
	}
	reply, err := client.Complete(context.Background(), "You are a helpful assistant.", history)
	require.NoError(t, err)
	assert.Equal(t, "We open at nine.", reply)
	assert.Equal(t, 256, model.opts.MaxTokens)

	require.Len(t, model.messages, 4)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[3].Role)
	assert.Equal(t, llms.TextContent{Text: "When do you open?"}, model.messages[3].Parts[0])
}

func TestClientCompleteClassifiesErrors(t *testing.T) {
	model := &fakeModel{err: errors.New("API returned unexpected status code: 429: rate limit reached")}
	client := NewClient(model, config.LLMConfig{})

	_, err := client.Complete(context.Background(), "system", []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.Error(t, err)

	var de *models.DependencyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, models.KindRateLimited, de.Kind)
	assert.Equal(t, 429, de.StatusCode)
	assert.Equal(t, "llm", de.Service)
}

func TestBuildMessagesSkipsBlank(t *testing.T) {
	msgs := BuildMessages("", []models.Message{{Role: models.RoleUser, Content: "  "}, {Role: models.RoleUser, Content: "ok"}})
	require.Len(t, msgs, 1)
	assert.Equal(t, schema.ChatMessageTypeHuman, msgs[0].Role)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   models.ErrorKind
		status int
	}{
		{"unauthorized status", errors.New("API returned unexpected status code: 401: invalid api key"), models.KindAuthFailed, 401},
		{"forbidden status", errors.New("status code: 403"), models.KindAuthFailed, 403},
		{"rate limited", errors.New("status code: 429"), models.KindRateLimited, 429},
		{"server error", errors.New("API returned unexpected status code: 503"), models.KindUnavailable, 503},
		{"deadline", fmt.Errorf("embed: %w", context.DeadlineExceeded), models.KindUnavailable, 0},
		{"net timeout", timeoutErr{}, models.KindUnavailable, 0},
		{"rate limit text", errors.New("Rate limit exceeded for model"), models.KindRateLimited, 0},
		{"api key text", errors.New("missing API key"), models.KindAuthFailed, 0},
		{"refused text", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), models.KindUnavailable, 0},
		{"other", errors.New("unexpected end of JSON input"), models.KindUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := ClassifyError("embedding", tt.err)
			require.NotNil(t, de)
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, tt.status, de.StatusCode)
			assert.ErrorIs(t, de, tt.err)
		})
	}

	assert.Nil(t, ClassifyError("embedding", nil))

	existing := models.NewDependencyError("embedding", models.KindAuthFailed, 401, errors.New("x"))
	assert.Same(t, existing, ClassifyError("llm", fmt.Errorf("wrapped: %w", existing)))
}
