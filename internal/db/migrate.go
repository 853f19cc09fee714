package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
)

type IndexKind string

const (
	IndexIVFFlat  IndexKind = "ivfflat"
	IndexHNSW     IndexKind = "hnsw"
	IndexDeferred IndexKind = "deferred"
)

const (
	ivfflatIndexName = "chunks_embedding_ivfflat_idx"
	hnswIndexName    = "chunks_embedding_hnsw_idx"
)

// Migrate creates the vector extension, the tables and the plain indexes.
// The vector index is created by EnsureVectorIndex.
func Migrate(ctx context.Context, db *bun.DB, dims int) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	if _, err := db.NewCreateTable().Model((*Bot)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create bots table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().
		ForeignKey(`("bot_id") REFERENCES "bots" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().
		ForeignKey(`("document_id") REFERENCES "documents" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}

	if dims > 0 && dims != DefaultDimensions {
		q := fmt.Sprintf("ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d)", dims)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("resize embedding column: %w", err)
		}
	}

	indexes := []struct {
		model  any
		name   string
		column string
	}{
		{(*Bot)(nil), "bots_tenant_id_idx", "tenant_id"},
		{(*Bot)(nil), "bots_retrain_time_idx", "retrain_time"},
		{(*Document)(nil), "documents_tenant_id_idx", "tenant_id"},
		{(*Document)(nil), "documents_bot_id_idx", "bot_id"},
		{(*Chunk)(nil), "chunks_tenant_id_idx", "tenant_id"},
		{(*Chunk)(nil), "chunks_bot_id_idx", "bot_id"},
		{(*Chunk)(nil), "chunks_document_id_idx", "document_id"},
	}
	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.column).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// ivfflat centroids come from the rows present at build time; below this many
// rows per list the clusters are too sparse for probes=1 to find the top k
const ivfflatRowsPerList = 1000

// ChooseVectorIndex picks the index to build for the number of embedded rows.
// ivfflat needs data to train its lists, hnsw is sound on an empty table.
func ChooseVectorIndex(embeddedRows, lists int) IndexKind {
	if lists > 0 && embeddedRows >= lists*ivfflatRowsPerList {
		return IndexIVFFlat
	}
	return IndexHNSW
}

// EnsureVectorIndex makes sure a cosine ANN index exists on chunks.embedding.
// The kind follows ChooseVectorIndex; a failed ivfflat build falls back to
// hnsw. When neither can be built the store keeps answering queries with an
// exhaustive scan and IndexDeferred is returned.
func EnsureVectorIndex(ctx context.Context, db *bun.DB, lists int) (IndexKind, error) {
	existing, err := existingVectorIndex(ctx, db)
	if err != nil {
		return IndexDeferred, err
	}
	if existing != IndexDeferred {
		return existing, nil
	}

	if lists <= 0 {
		lists = 100
	}
	rows, err := db.NewSelect().Model((*Chunk)(nil)).Where("c.embedding IS NOT NULL").Count(ctx)
	if err != nil {
		return IndexDeferred, fmt.Errorf("count embedded chunks: %w", err)
	}

	if ChooseVectorIndex(rows, lists) == IndexIVFFlat {
		ivfflat := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)", ivfflatIndexName, lists)
		if _, err = db.ExecContext(ctx, ivfflat); err == nil {
			log.Info().Int("lists", lists).Int("rows", rows).Msg("Created ivfflat vector index")
			return IndexIVFFlat, nil
		}
		log.Warn().Err(err).Msg("ivfflat index unavailable, trying hnsw")
	}

	hnsw := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON chunks USING hnsw (embedding vector_cosine_ops)", hnswIndexName)
	if _, err = db.ExecContext(ctx, hnsw); err == nil {
		log.Info().Int("rows", rows).Msg("Created hnsw vector index")
		return IndexHNSW, nil
	}
	log.Warn().Err(err).Msg("No vector index could be built, similarity queries use exhaustive scan")
	return IndexDeferred, nil
}

func existingVectorIndex(ctx context.Context, db *bun.DB) (IndexKind, error) {
	var names []string
	err := db.NewSelect().
		TableExpr("pg_indexes").
		Column("indexname").
		Where("tablename = ?", "chunks").
		Where("indexname IN (?)", bun.In([]string{ivfflatIndexName, hnswIndexName})).
		Scan(ctx, &names)
	if err != nil {
		return IndexDeferred, fmt.Errorf("list vector indexes: %w", err)
	}
	for _, name := range names {
		switch name {
		case ivfflatIndexName:
			return IndexIVFFlat, nil
		case hnswIndexName:
			return IndexHNSW, nil
		}
	}
	return IndexDeferred, nil
}
