package rag

import (
	"context"
	"errors"
	"testing"

	"knowledge-rag/internal/chromemdb"
	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetrievalFixture(t *testing.T, vectors map[string][]float32) (*Pipeline, *Retriever, *fakeEmbedder) {
	t.Helper()
	store, err := chromemdb.NewStore("", "retrieve", false, 3)
	require.NoError(t, err)
	embedder := &fakeEmbedder{batchSize: 10, vectors: vectors}
	docs, err := chromemdb.NewDocumentIndex(store)
	require.NoError(t, err)
	cfg := config.RAGConfig{ChunkSize: 10, TopK: 5, MinSimilarity: config.Float(0.25)}
	return NewPipeline(docs, store, embedder, cfg), NewRetriever(embedder, store, cfg), embedder
}

func ingestText(t *testing.T, p *Pipeline, tenant int64, bot *int64, content string) {
	t.Helper()
	_, err := p.Ingest(context.Background(), models.IngestRequest{TenantID: tenant, BotID: bot, ContentType: models.ContentTypeText, Content: content})
	require.NoError(t, err)
}

func TestRetrieveEmptyKnowledgeBase(t *testing.T) {
	_, retriever, _ := newRetrievalFixture(t, nil)

	texts, err := retriever.Retrieve(context.Background(), models.ByBot(1), "anything at all?", 5)
	require.NoError(t, err)
	assert.NotNil(t, texts)
	assert.Empty(t, texts)
}

func TestRetrieveScopedToBot(t *testing.T) {
	pipeline, retriever, _ := newRetrievalFixture(t, map[string][]float32{
		"Bot A ships in two days.":   {1, 0, 0},
		"Bot B ships in three days.": {1, 0, 0},
	})
	ingestText(t, pipeline, 1, ptr(10), "Bot A ships in two days.")
	ingestText(t, pipeline, 1, ptr(11), "Bot B ships in three days.")

	texts, err := retriever.Retrieve(context.Background(), models.ByBot(10), "How fast do you ship?", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bot A ships in two days."}, texts)
}

func TestRetrieveThresholdEnforced(t *testing.T) {
	pipeline, retriever, _ := newRetrievalFixture(t, map[string][]float32{
		"Weakly related chunk.": {0.2, 0.9797959, 0},
		"What is the refund?":   {1, 0, 0},
	})
	ingestText(t, pipeline, 1, ptr(10), "Weakly related chunk.")

	texts, err := retriever.Retrieve(context.Background(), models.ByBot(10), "What is the refund?", 5)
	require.NoError(t, err)
	assert.Empty(t, texts)
}

func TestRetrieveOrderedBySimilarity(t *testing.T) {
	pipeline, retriever, _ := newRetrievalFixture(t, map[string][]float32{
		"Somewhat relevant.": {0.6, 0.8, 0},
		"Most relevant.":     {1, 0, 0},
		"Fairly relevant.":   {0.8, 0.6, 0},
		"Irrelevant.":        {0, 0, 1},
		"query":              {1, 0, 0},
	})
	ingestText(t, pipeline, 1, ptr(10), "Somewhat relevant. Most relevant. Fairly relevant. Irrelevant.")

	scored, err := retriever.RetrieveScored(context.Background(), models.ByBot(10), "query", 0)
	require.NoError(t, err)
	require.Len(t, scored, 3)
	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Similarity, scored[i].Similarity)
	}

	texts, err := retriever.Retrieve(context.Background(), models.ByBot(10), "query", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Most relevant.", "Fairly relevant."}, texts)
}

func TestRetrieveEmbeddingFailureReturnsEmptyWithError(t *testing.T) {
	pipeline, retriever, embedder := newRetrievalFixture(t, nil)
	ingestText(t, pipeline, 1, ptr(10), "Some stored fact.")
	embedder.err = errProviderDown

	texts, err := retriever.Retrieve(context.Background(), models.ByBot(10), "Some stored fact.", 5)
	require.Error(t, err)
	assert.NotNil(t, texts)
	assert.Empty(t, texts)
	assert.Equal(t, models.KindUnavailable, models.KindOf(err))
}

func TestRetrieveStoreFailureReturnsEmptyWithError(t *testing.T) {
	storeErr := errors.New("connection reset")
	retriever := NewRetriever(&fakeEmbedder{batchSize: 1}, &recordingStore{queryErr: storeErr}, config.RAGConfig{})

	texts, err := retriever.Retrieve(context.Background(), models.ByTenant(1), "hello", 5)
	assert.ErrorIs(t, err, storeErr)
	assert.Empty(t, texts)
}

func TestRetrieveRequiresScope(t *testing.T) {
	retriever := NewRetriever(&fakeEmbedder{batchSize: 1}, &recordingStore{}, config.RAGConfig{})

	texts, err := retriever.Retrieve(context.Background(), models.Scope{}, "hello", 5)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Empty(t, texts)
}

func TestNewRetrieverDefaults(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, &recordingStore{}, config.RAGConfig{})
	assert.Equal(t, DefaultTopK, r.topK)
	assert.InDelta(t, DefaultMinSimilarity, r.minSimilarity, 1e-9)
}

func TestNewRetrieverKeepsExplicitZeroThreshold(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, &recordingStore{}, config.RAGConfig{MinSimilarity: config.Float(0)})
	assert.Zero(t, r.minSimilarity)
}
