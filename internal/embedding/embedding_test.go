package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   [][]string
	err     error
	dropOne bool
}

func (f *fakeProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	if f.dropOne {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestEmbedBatchSplitsIntoSubBatches(t *testing.T) {
	provider := &fakeProvider{}
	client := NewClient(provider, config.EmbeddingConfig{BatchSize: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, 5)
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0], "order of vector %d", i)
	}
	require.Len(t, provider.calls, 3)
	assert.Equal(t, []string{"a", "bb"}, provider.calls[0])
	assert.Equal(t, []string{"ccc", "dddd"}, provider.calls[1])
	assert.Equal(t, []string{"eeeee"}, provider.calls[2])
}

func TestEmbedBatchPreprocesses(t *testing.T) {
	provider := &fakeProvider{}
	client := NewClient(provider, config.EmbeddingConfig{})

	_, err := client.EmbedBatch(context.Background(), []string{"  first line\n\n  second line \r\n third  "})
	require.NoError(t, err)
	assert.Equal(t, []string{"first line second line third"}, provider.calls[0])
	assert.Equal(t, DefaultBatchSize, client.BatchSize())
}

func TestEmbedBatchRejectsEmptyBeforeCalling(t *testing.T) {
	provider := &fakeProvider{}
	client := NewClient(provider, config.EmbeddingConfig{})

	_, err := client.EmbedBatch(context.Background(), []string{"ok", " \n\t "})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.True(t, IsEmptyInput(err))
	assert.Empty(t, provider.calls)
}

func TestEmbedBatchFailureIsClassifiedAndNotRetried(t *testing.T) {
	provider := &fakeProvider{err: errors.New("API returned unexpected status code: 429")}
	client := NewClient(provider, config.EmbeddingConfig{BatchSize: 10})

	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)

	var de *models.DependencyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, models.KindRateLimited, de.Kind)
	assert.Equal(t, "embedding", de.Service)
	assert.Len(t, provider.calls, 1)
}

func TestEmbedBatchLengthMismatch(t *testing.T) {
	provider := &fakeProvider{dropOne: true}
	client := NewClient(provider, config.EmbeddingConfig{})

	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	var de *models.DependencyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, models.KindUnknown, de.Kind)
}

func TestEmbedSingle(t *testing.T) {
	client := NewClient(&fakeProvider{}, config.EmbeddingConfig{})

	v, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, v)

	_, err = client.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedBatchEmptySlice(t *testing.T) {
	provider := &fakeProvider{}
	vectors, err := NewClient(provider, config.EmbeddingConfig{}).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, provider.calls)
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(config.EmbeddingConfig{Provider: "cohere"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
