package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"knowledge-rag/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const (
	metaScope      = "scope"
	metaTenant     = "tenant_id"
	metaBot        = "bot_id"
	metaDocument   = "document_id"
	metaChunkIndex = "chunk_index"
)

// Store is an embedded vector store on a chromem-go collection, used when no
// Postgres is available. Chunks without a vector cannot live in the
// collection, so they are kept beside it until their document is deleted.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	dims       int
	path       string
	nextID     atomic.Int64

	mu      sync.RWMutex
	pending map[int64]models.Chunk
}

// NewStore opens the collection in memory when path is empty, or persisted
// under path otherwise.
func NewStore(path, collectionName string, compress bool, dims int) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	// vectors are always supplied by the caller, the collection never embeds
	c, err := db.GetOrCreateCollection(collectionName, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}

	s := &Store{
		db:         db,
		collection: c,
		dims:       dims,
		path:       path,
		pending:    make(map[int64]models.Chunk),
	}
	// ids must not collide with chunks persisted by an earlier process
	if path != "" {
		s.nextID.Store(time.Now().UnixMicro())
	}
	log.Debug().Str("collection", collectionName).Bool("persistent", path != "").Int("count", c.Count()).Msg("Opened chromem collection")
	return s, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store expects precomputed embeddings")
}

func (s *Store) InsertChunk(ctx context.Context, chunk *models.Chunk) (int64, error) {
	if chunk.Embedding != nil && s.dims > 0 && len(chunk.Embedding) != s.dims {
		return 0, fmt.Errorf("%w: vector has %d dimensions, store expects %d", models.ErrInvalidInput, len(chunk.Embedding), s.dims)
	}
	id := s.nextID.Add(1)
	chunk.ID = id
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}

	if chunk.Embedding == nil {
		s.mu.Lock()
		s.pending[id] = *chunk
		s.mu.Unlock()
		return id, nil
	}

	doc := chromem.Document{
		ID:        strconv.FormatInt(id, 10),
		Content:   chunk.Text,
		Metadata:  chunkMetadata(chunk),
		Embedding: chunk.Embedding,
	}
	if err := s.coll().AddDocument(ctx, doc); err != nil {
		return 0, fmt.Errorf("failed to add document: %w", err)
	}
	return id, nil
}

// QuerySimilar returns up to k chunks in scope with cosine similarity above
// minSimilarity, most similar first.
func (s *Store) QuerySimilar(ctx context.Context, scope models.Scope, vector []float32, k int, minSimilarity float64) ([]models.ScoredChunk, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: query needs a bot or tenant scope", models.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", models.ErrInvalidInput)
	}
	if s.dims > 0 && len(vector) != s.dims {
		return nil, fmt.Errorf("%w: vector has %d dimensions, store expects %d", models.ErrInvalidInput, len(vector), s.dims)
	}
	out := []models.ScoredChunk{}
	c := s.coll()
	total := c.Count()
	if k <= 0 || total == 0 {
		return out, nil
	}

	results, err := c.QueryEmbedding(ctx, vector, min(k, total), map[string]string{metaScope: scope.String()}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	for _, r := range results {
		sim := float64(r.Similarity)
		if math.IsNaN(sim) || sim <= minSimilarity {
			continue
		}
		id, _ := strconv.ParseInt(r.ID, 10, 64)
		docID, _ := strconv.ParseInt(r.Metadata[metaDocument], 10, 64)
		out = append(out, models.ScoredChunk{ChunkID: id, DocumentID: docID, Text: r.Content, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID int64) error {
	s.mu.Lock()
	for id, c := range s.pending {
		if c.DocumentID == documentID {
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	return s.deleteFromCollection(ctx, map[string]string{metaDocument: strconv.FormatInt(documentID, 10)})
}

func (s *Store) DeleteByBot(ctx context.Context, botID int64) error {
	s.mu.Lock()
	for id, c := range s.pending {
		if c.BotID != nil && *c.BotID == botID {
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	return s.deleteFromCollection(ctx, map[string]string{metaBot: strconv.FormatInt(botID, 10)})
}

func (s *Store) deleteFromCollection(ctx context.Context, where map[string]string) error {
	c := s.coll()
	before := c.Count()
	if before == 0 {
		return nil
	}
	if err := c.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	log.Debug().Int("chunks", before-c.Count()).Interface("where", where).Msg("Deleted chunks")
	return nil
}

func (s *Store) coll() *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection
}

// Count returns the number of stored chunks, with and without vectors.
func (s *Store) Count() (embedded, unembedded int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count(), len(s.pending)
}

// CountUnembedded reports chunks in scope stored without a vector.
func (s *Store) CountUnembedded(_ context.Context, scope models.Scope) (int, error) {
	if !scope.Valid() {
		return 0, fmt.Errorf("%w: count needs a bot or tenant scope", models.ErrInvalidInput)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.pending {
		if scope.Matches(c.TenantID, c.BotID) {
			n++
		}
	}
	return n, nil
}

// Reset drops the collection and everything kept beside it.
func (s *Store) Reset() error {
	name := s.coll().Name
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	c, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	s.mu.Lock()
	s.collection = c
	s.pending = make(map[int64]models.Chunk)
	s.mu.Unlock()
	return nil
}

func chunkMetadata(c *models.Chunk) map[string]string {
	scope := models.ByTenant(c.TenantID)
	bot := ""
	if c.BotID != nil {
		scope = models.ByBot(*c.BotID)
		bot = strconv.FormatInt(*c.BotID, 10)
	}
	meta := map[string]string{
		metaScope:    scope.String(),
		metaTenant:   strconv.FormatInt(c.TenantID, 10),
		metaBot:      bot,
		metaDocument: strconv.FormatInt(c.DocumentID, 10),
	}
	if idx, ok := c.Metadata[models.MetaChunkIndex]; ok {
		meta[metaChunkIndex] = fmt.Sprint(idx)
	}
	return meta
}
