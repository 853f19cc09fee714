package rag

import (
	"context"

	"knowledge-rag/internal/models"
)

// Embedder turns chunk texts and queries into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	BatchSize() int
}

// ChunkStore is the vector store. Implemented by db.ChunkStore (pgvector) and
// chromemdb.Store.
type ChunkStore interface {
	InsertChunk(ctx context.Context, chunk *models.Chunk) (int64, error)
	QuerySimilar(ctx context.Context, scope models.Scope, vector []float32, k int, minSimilarity float64) ([]models.ScoredChunk, error)
	DeleteByDocument(ctx context.Context, documentID int64) error
	DeleteByBot(ctx context.Context, botID int64) error
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) (int64, error)
	DeleteDocument(ctx context.Context, id int64) error
}
