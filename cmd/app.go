package main

import (
	"context"
	"fmt"

	"knowledge-rag/internal/chromemdb"
	"knowledge-rag/internal/config"
	"knowledge-rag/internal/db"
	"knowledge-rag/internal/embedding"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/rag"
	"knowledge-rag/internal/scheduler"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
)

type documentStore interface {
	rag.DocumentStore
	scheduler.DocumentLister
	GetDocument(ctx context.Context, id int64) (*models.Document, error)
}

// both vector stores keep chunks whose embedding failed
type unembeddedCounter interface {
	CountUnembedded(ctx context.Context, scope models.Scope) (int, error)
}

// app holds the stores and services selected by the config.
type app struct {
	cfg       *config.Config
	bun       *bun.DB
	docs      documentStore
	chunks    rag.ChunkStore
	bots      *db.BotStore
	pipeline  *rag.Pipeline
	retriever *rag.Retriever
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	embedder, err := embedding.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}

	a := &app{cfg: cfg}
	switch cfg.VectorStore.Type {
	case "chromem":
		store, err := chromemdb.NewStore(cfg.VectorStore.Path, cfg.VectorStore.Collection, cfg.VectorStore.Compress, cfg.VectorStore.Dimensions)
		if err != nil {
			return nil, err
		}
		docs, err := chromemdb.NewDocumentIndex(store)
		if err != nil {
			return nil, err
		}
		a.chunks = store
		a.docs = docs
		log.Debug().Str("path", cfg.VectorStore.Path).Msg("Using chromem vector store")
	default:
		bunDB, err := db.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		a.bun = bunDB
		a.chunks = db.NewChunkStore(bunDB, cfg.VectorStore.Dimensions)
		a.docs = db.NewDocumentStore(bunDB)
		a.bots = db.NewBotStore(bunDB)
	}

	a.pipeline = rag.NewPipeline(a.docs, a.chunks, embedder, cfg.RAG)
	a.retriever = rag.NewRetriever(embedder, a.chunks, cfg.RAG)
	return a, nil
}

// unembedded returns how many chunks in scope are stored without a vector.
func (a *app) unembedded(ctx context.Context, scope models.Scope) (int, error) {
	counter, ok := a.chunks.(unembeddedCounter)
	if !ok {
		return 0, nil
	}
	return counter.CountUnembedded(ctx, scope)
}

func (a *app) requireDatabase(what string) error {
	if a.bun == nil {
		return fmt.Errorf("%s needs vector_store.type postgres", what)
	}
	return nil
}

func (a *app) Close() {
	if a.bun != nil {
		if err := a.bun.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}
