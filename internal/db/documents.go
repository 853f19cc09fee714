package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"knowledge-rag/internal/models"

	"github.com/uptrace/bun"
)

type DocumentStore struct {
	db *bun.DB
}

func NewDocumentStore(db *bun.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) CreateDocument(ctx context.Context, doc *models.Document) (int64, error) {
	row := documentRow(doc)
	if _, err := s.db.NewInsert().Model(row).Returning("id, created_at").Exec(ctx); err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	doc.ID = row.ID
	doc.CreatedAt = row.CreatedAt
	return row.ID, nil
}

func (s *DocumentStore) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	row := new(Document)
	err := s.db.NewSelect().Model(row).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return row.toModel(), nil
}

// ListWebsiteDocuments returns the bot's scraped pages that still carry a source url.
func (s *DocumentStore) ListWebsiteDocuments(ctx context.Context, botID, tenantID int64) ([]models.Document, error) {
	var rows []Document
	err := s.db.NewSelect().
		Model(&rows).
		ExcludeColumn("content").
		Where("d.bot_id = ?", botID).
		Where("d.tenant_id = ?", tenantID).
		Where("d.content_type = ?", string(models.ContentTypeWebsite)).
		Where("d.source_url IS NOT NULL").
		Order("d.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list website documents of bot %d: %w", botID, err)
	}
	docs := make([]models.Document, len(rows))
	for i := range rows {
		docs[i] = *rows[i].toModel()
	}
	return docs, nil
}

// DeleteDocument removes the document's chunks before the document itself.
func (s *DocumentStore) DeleteDocument(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Chunk)(nil)).Where("document_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete chunks of document %d: %w", id, err)
		}
		if _, err := tx.NewDelete().Model((*Document)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete document %d: %w", id, err)
		}
		return nil
	})
}

func documentRow(doc *models.Document) *Document {
	return &Document{
		ID:              doc.ID,
		TenantID:        doc.TenantID,
		BotID:           doc.BotID,
		Title:           doc.Title,
		ContentType:     string(doc.ContentType),
		SourceURL:       doc.SourceURL,
		Content:         doc.Content,
		Metadata:        doc.Metadata,
		LastRetrainedAt: doc.LastRetrainedAt,
	}
}

func (d *Document) toModel() *models.Document {
	return &models.Document{
		ID:              d.ID,
		TenantID:        d.TenantID,
		BotID:           d.BotID,
		Title:           d.Title,
		ContentType:     models.ContentType(d.ContentType),
		SourceURL:       d.SourceURL,
		Content:         d.Content,
		Metadata:        d.Metadata,
		CreatedAt:       d.CreatedAt,
		LastRetrainedAt: d.LastRetrainedAt,
	}
}
