package rag

import (
	"context"
	"fmt"
	"maps"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/parser"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Pipeline stores documents as embedded chunks.
type Pipeline struct {
	docs        DocumentStore
	chunks      ChunkStore
	embedder    Embedder
	chunker     *parser.Chunker
	concurrency int
}

func NewPipeline(docs DocumentStore, chunks ChunkStore, embedder Embedder, cfg config.RAGConfig) *Pipeline {
	concurrency := cfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pipeline{
		docs:        docs,
		chunks:      chunks,
		embedder:    embedder,
		chunker:     parser.NewChunker(parser.WithChunkSize(cfg.ChunkSize), parser.WithOverlap(cfg.ChunkOverlap)),
		concurrency: concurrency,
	}
}

// Ingest persists the document, then its chunks. A sub-batch whose embedding
// call fails is stored without vectors and the ingestion still succeeds;
// the result tells how many chunks were stored and how many carry a vector.
func (p *Pipeline) Ingest(ctx context.Context, req models.IngestRequest) (models.IngestResult, error) {
	if err := req.Validate(); err != nil {
		return models.IngestResult{}, err
	}

	doc := &models.Document{
		TenantID:    req.TenantID,
		BotID:       req.BotID,
		Title:       req.Title,
		ContentType: req.ContentType,
		SourceURL:   req.SourceURL,
		Content:     req.Content,
		Metadata:    req.Metadata,
	}
	docID, err := p.docs.CreateDocument(ctx, doc)
	if err != nil {
		return models.IngestResult{}, fmt.Errorf("create document: %w", err)
	}
	result := models.IngestResult{DocumentID: docID}

	texts := p.chunker.Split(req.Content)
	if len(texts) == 0 {
		log.Info().Int64("document_id", docID).Msg("No chunks generated from content")
		return result, nil
	}

	vectors := p.embedAll(ctx, docID, texts)

	for i, text := range texts {
		meta := make(map[string]any, len(req.Metadata)+2)
		maps.Copy(meta, req.Metadata)
		meta[models.MetaChunkIndex] = i
		meta[models.MetaTotalChunks] = len(texts)

		chunk := &models.Chunk{
			TenantID:   req.TenantID,
			BotID:      req.BotID,
			DocumentID: docID,
			Text:       text,
			Embedding:  vectors[i],
			Metadata:   meta,
		}
		if _, err := p.chunks.InsertChunk(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("insert chunk %d: %w", i, ctx.Err())
			}
			log.Error().Err(err).Int64("document_id", docID).Int("chunk_index", i).Msg("Error storing chunk")
			continue
		}
		result.ChunksStored++
		if vectors[i] != nil {
			result.ChunksEmbedded++
		}
	}

	ev := log.Info()
	if result.Degraded() || result.ChunksStored < len(texts) {
		ev = log.Warn()
	}
	ev.Int64("document_id", docID).
		Stringer("scope", doc.Scope()).
		Int("chunks", len(texts)).
		Int("stored", result.ChunksStored).
		Int("embedded", result.ChunksEmbedded).
		Msg("Stored document")
	return result, nil
}

// embedAll embeds texts in sub-batches of the embedder's batch size. The
// vectors of a failed sub-batch stay nil.
func (p *Pipeline) embedAll(ctx context.Context, docID int64, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	size := p.embedder.BatchSize()
	if size <= 0 {
		size = len(texts)
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for start := 0; start < len(texts); start += size {
		start := start
		end := min(start+size, len(texts))
		g.Go(func() error {
			batch, err := p.embedder.EmbedBatch(ctx, texts[start:end])
			if err == nil && len(batch) != end-start {
				err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(batch), end-start)
			}
			if err != nil {
				log.Warn().Err(err).
					Int64("document_id", docID).
					Int("from", start).
					Int("to", end).
					Str("kind", string(models.KindOf(err))).
					Msg("Embedding failed, storing chunks without vectors")
				return nil
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	_ = g.Wait()
	return vectors
}

// DeleteDocument removes a document and its chunks, chunks first.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID int64) error {
	if err := p.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	return p.docs.DeleteDocument(ctx, documentID)
}

// DeleteBot removes every chunk stored for the bot.
func (p *Pipeline) DeleteBot(ctx context.Context, botID int64) error {
	return p.chunks.DeleteByBot(ctx, botID)
}
