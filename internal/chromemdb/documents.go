package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"knowledge-rag/internal/models"
)

const documentsFile = "documents.json"

// indexFile is the on-disk form. NextID is kept so ids of deleted documents
// are never handed out again.
type indexFile struct {
	NextID    int64             `json:"nextId"`
	Documents []models.Document `json:"documents"`
}

// DocumentIndex keeps document records next to a Store. When the store is
// persistent the records are written to documents.json in the same directory,
// so ids keep increasing across processes sharing that directory.
type DocumentIndex struct {
	chunks *Store
	path   string

	mu     sync.RWMutex
	nextID int64
	docs   map[int64]models.Document
}

func NewDocumentIndex(chunks *Store) (*DocumentIndex, error) {
	d := &DocumentIndex{chunks: chunks, docs: make(map[int64]models.Document)}
	if chunks != nil && chunks.path != "" {
		d.path = filepath.Join(chunks.path, documentsFile)
		if err := d.load(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *DocumentIndex) CreateDocument(_ context.Context, doc *models.Document) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// pick up records written by another process since we loaded
	if err := d.loadLocked(); err != nil {
		return 0, err
	}
	d.nextID++
	doc.ID = d.nextID
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	d.docs[doc.ID] = *doc
	if err := d.saveLocked(); err != nil {
		delete(d.docs, doc.ID)
		return 0, err
	}
	return doc.ID, nil
}

func (d *DocumentIndex) GetDocument(_ context.Context, id int64) (*models.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	return &doc, nil
}

func (d *DocumentIndex) ListWebsiteDocuments(_ context.Context, botID, tenantID int64) ([]models.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.Document
	for _, doc := range d.docs {
		if doc.TenantID != tenantID || doc.BotID == nil || *doc.BotID != botID {
			continue
		}
		if doc.ContentType != models.ContentTypeWebsite || doc.SourceURL == nil {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteDocument drops the document's chunks first, then the record.
func (d *DocumentIndex) DeleteDocument(ctx context.Context, id int64) error {
	if d.chunks != nil {
		if err := d.chunks.DeleteByDocument(ctx, id); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(); err != nil {
		return err
	}
	delete(d.docs, id)
	return d.saveLocked()
}

func (d *DocumentIndex) load() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked()
}

func (d *DocumentIndex) loadLocked() error {
	if d.path == "" {
		return nil
	}
	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read document index: %w", err)
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse document index %s: %w", d.path, err)
	}
	d.docs = make(map[int64]models.Document, len(f.Documents))
	d.nextID = max(d.nextID, f.NextID)
	for _, doc := range f.Documents {
		d.docs[doc.ID] = doc
		d.nextID = max(d.nextID, doc.ID)
	}
	return nil
}

// saveLocked writes through a temp file so readers never see a partial index.
func (d *DocumentIndex) saveLocked() error {
	if d.path == "" {
		return nil
	}
	docs := make([]models.Document, 0, len(d.docs))
	for _, doc := range d.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	data, err := json.Marshal(indexFile{NextID: d.nextID, Documents: docs})
	if err != nil {
		return fmt.Errorf("encode document index: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write document index: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("write document index: %w", err)
	}
	return nil
}
