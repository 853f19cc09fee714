package db

import (
	"context"
	"fmt"

	"knowledge-rag/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
)

// ChunkStore is the pgvector backed vector store. Every query is bound to a
// models.Scope.
type ChunkStore struct {
	db   *bun.DB
	dims int
}

func NewChunkStore(db *bun.DB, dims int) *ChunkStore {
	return &ChunkStore{db: db, dims: dims}
}

type scoredRow struct {
	ID         int64   `bun:"id"`
	DocumentID int64   `bun:"document_id"`
	Text       string  `bun:"chunk_text"`
	Similarity float64 `bun:"similarity"`
}

func (s *ChunkStore) InsertChunk(ctx context.Context, chunk *models.Chunk) (int64, error) {
	if err := checkDimensions(chunk.Embedding, s.dims); err != nil {
		return 0, err
	}
	row := &Chunk{
		TenantID:   chunk.TenantID,
		BotID:      chunk.BotID,
		DocumentID: chunk.DocumentID,
		Text:       chunk.Text,
		Embedding:  toVector(chunk.Embedding),
		Metadata:   chunk.Metadata,
	}
	if _, err := s.db.NewInsert().Model(row).Returning("id, created_at").Exec(ctx); err != nil {
		return 0, fmt.Errorf("insert chunk: %w", err)
	}
	chunk.ID = row.ID
	chunk.CreatedAt = row.CreatedAt
	return row.ID, nil
}

// QuerySimilar returns up to k chunks in scope whose cosine similarity to
// vector is above minSimilarity, most similar first. Chunks without a vector
// never match.
func (s *ChunkStore) QuerySimilar(ctx context.Context, scope models.Scope, vector []float32, k int, minSimilarity float64) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	q, err := s.similarQuery(scope, vector, k, minSimilarity)
	if err != nil {
		return nil, err
	}

	var rows []scoredRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("query similar chunks in %s: %w", scope, err)
	}
	out := make([]models.ScoredChunk, len(rows))
	for i, r := range rows {
		out[i] = models.ScoredChunk{ChunkID: r.ID, DocumentID: r.DocumentID, Text: r.Text, Similarity: r.Similarity}
	}
	return out, nil
}

func (s *ChunkStore) similarQuery(scope models.Scope, vector []float32, k int, minSimilarity float64) (*bun.SelectQuery, error) {
	if err := checkDimensions(vector, s.dims); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", models.ErrInvalidInput)
	}
	vec := pgvector.NewVector(vector)
	q := s.db.NewSelect().
		TableExpr("chunks AS c").
		Column("c.id", "c.document_id", "c.chunk_text").
		ColumnExpr("1 - (c.embedding <=> ?) AS similarity", vec).
		Where("c.embedding IS NOT NULL")
	q, err := applyScope(q, scope)
	if err != nil {
		return nil, err
	}
	return q.
		Where("1 - (c.embedding <=> ?) > ?", vec, minSimilarity).
		OrderExpr("c.embedding <=> ?", vec).
		Limit(k), nil
}

func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID int64) error {
	if _, err := s.db.NewDelete().Model((*Chunk)(nil)).Where("document_id = ?", documentID).Exec(ctx); err != nil {
		return fmt.Errorf("delete chunks of document %d: %w", documentID, err)
	}
	return nil
}

func (s *ChunkStore) DeleteByBot(ctx context.Context, botID int64) error {
	if _, err := s.db.NewDelete().Model((*Chunk)(nil)).Where("bot_id = ?", botID).Exec(ctx); err != nil {
		return fmt.Errorf("delete chunks of bot %d: %w", botID, err)
	}
	return nil
}

// CountUnembedded reports chunks in scope stored without a vector.
func (s *ChunkStore) CountUnembedded(ctx context.Context, scope models.Scope) (int, error) {
	q := s.db.NewSelect().TableExpr("chunks AS c").Where("c.embedding IS NULL")
	q, err := applyScope(q, scope)
	if err != nil {
		return 0, err
	}
	return q.Count(ctx)
}

func applyScope(q *bun.SelectQuery, scope models.Scope) (*bun.SelectQuery, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: query needs a bot or tenant scope", models.ErrInvalidInput)
	}
	if botID, ok := scope.BotID(); ok {
		return q.Where("c.bot_id = ?", botID), nil
	}
	tenantID, _ := scope.TenantID()
	return q.Where("c.tenant_id = ?", tenantID).Where("c.bot_id IS NULL"), nil
}

func checkDimensions(v []float32, dims int) error {
	if v == nil || dims <= 0 || len(v) == dims {
		return nil
	}
	return fmt.Errorf("%w: vector has %d dimensions, store expects %d", models.ErrInvalidInput, len(v), dims)
}
