package rag

import (
	"context"
	"errors"
	"sync"

	"knowledge-rag/internal/models"
)

var errProviderDown = models.NewDependencyError("embedding", models.KindUnavailable, 503, errors.New("service unavailable"))

// fakeEmbedder returns fixed vectors per text, [1,0,0] for unknown texts.
type fakeEmbedder struct {
	mu        sync.Mutex
	batchSize int
	vectors   map[string][]float32
	failBatch func(texts []string) bool
	err       error
	batches   int
}

func (f *fakeEmbedder) BatchSize() int { return f.batchSize }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.err != nil {
		return nil, f.err
	}
	if f.failBatch != nil && f.failBatch(texts) {
		return nil, errProviderDown
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// recordingStore keeps inserted chunks in memory and can fail chosen inserts.
type recordingStore struct {
	mu       sync.Mutex
	chunks   []models.Chunk
	failText string
	queryErr error
	deleted  []int64
}

func (r *recordingStore) InsertChunk(_ context.Context, c *models.Chunk) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failText != "" && c.Text == r.failText {
		return 0, errors.New("insert failed")
	}
	c.ID = int64(len(r.chunks) + 1)
	r.chunks = append(r.chunks, *c)
	return c.ID, nil
}

func (r *recordingStore) QuerySimilar(context.Context, models.Scope, []float32, int, float64) ([]models.ScoredChunk, error) {
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	return nil, nil
}

func (r *recordingStore) DeleteByDocument(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *recordingStore) DeleteByBot(context.Context, int64) error { return nil }

type memDocs struct {
	mu      sync.Mutex
	nextID  int64
	docs    map[int64]models.Document
	deleted []int64
}

func newMemDocs() *memDocs { return &memDocs{docs: make(map[int64]models.Document)} }

func (m *memDocs) CreateDocument(_ context.Context, d *models.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	m.docs[d.ID] = *d
	return d.ID, nil
}

func (m *memDocs) DeleteDocument(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type fakeLLM struct {
	system  string
	history []models.Message
	reply   string
	err     error
}

func (f *fakeLLM) Complete(_ context.Context, system string, history []models.Message) (string, error) {
	f.system = system
	f.history = history
	return f.reply, f.err
}

func ptr(v int64) *int64 { return &v }
