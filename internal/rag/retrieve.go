package rag

import (
	"context"
	"fmt"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.25
)

type Retriever struct {
	embedder      Embedder
	store         ChunkStore
	topK          int
	minSimilarity float64
}

func NewRetriever(embedder Embedder, store ChunkStore, cfg config.RAGConfig) *Retriever {
	r := &Retriever{embedder: embedder, store: store, topK: cfg.TopK, minSimilarity: DefaultMinSimilarity}
	if r.topK <= 0 {
		r.topK = DefaultTopK
	}
	if cfg.MinSimilarity != nil {
		r.minSimilarity = *cfg.MinSimilarity
	}
	return r
}

// Retrieve returns the texts of the k chunks most similar to query, most
// relevant first. It always returns a non-nil slice: on a failure the slice is
// empty and the error says why, so callers can answer without context while
// still telling "nothing relevant" apart from "lookup failed".
func (r *Retriever) Retrieve(ctx context.Context, scope models.Scope, query string, k int) ([]string, error) {
	scored, err := r.RetrieveScored(ctx, scope, query, k)
	texts := make([]string, len(scored))
	for i, c := range scored {
		texts[i] = c.Text
	}
	return texts, err
}

func (r *Retriever) RetrieveScored(ctx context.Context, scope models.Scope, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = r.topK
	}
	if !scope.Valid() {
		return []models.ScoredChunk{}, fmt.Errorf("%w: retrieval needs a bot or tenant scope", models.ErrInvalidInput)
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Warn().Err(err).Stringer("scope", scope).Msg("Query embedding failed, returning no context")
		return []models.ScoredChunk{}, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := r.store.QuerySimilar(ctx, scope, vector, k, r.minSimilarity)
	if err != nil {
		log.Error().Err(err).Stringer("scope", scope).Msg("Similarity search failed, returning no context")
		return []models.ScoredChunk{}, fmt.Errorf("similarity search: %w", err)
	}
	if chunks == nil {
		chunks = []models.ScoredChunk{}
	}
	log.Debug().Stringer("scope", scope).Int("k", k).Int("matches", len(chunks)).Msg("Retrieved context")
	return chunks, nil
}
