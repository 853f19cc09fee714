package models

import (
	"fmt"
	"time"
)

type ContentType string

func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeText, ContentTypeFile, ContentTypeWebsite, ContentTypeYouTube:
		return true
	}
	return false
}

// Document is one ingested source. Its raw content is never edited in place,
// a refresh deletes it and ingests a new one.
type Document struct {
	ID              int64
	TenantID        int64
	BotID           *int64
	Title           string
	ContentType     ContentType
	SourceURL       *string
	Content         string
	Metadata        map[string]any
	CreatedAt       time.Time
	LastRetrainedAt *time.Time
}

// Scope returns the scope the document's chunks are searchable in.
func (d *Document) Scope() Scope {
	if d.BotID != nil {
		return ByBot(*d.BotID)
	}
	return ByTenant(d.TenantID)
}

type IngestRequest struct {
	TenantID    int64
	BotID       *int64
	Title       string
	ContentType ContentType
	SourceURL   *string
	Content     string
	Metadata    map[string]any
}

func (r *IngestRequest) Validate() error {
	if r.TenantID <= 0 {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	if r.BotID != nil && *r.BotID <= 0 {
		return fmt.Errorf("%w: bot id must be positive", ErrInvalidInput)
	}
	if !r.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidInput, r.ContentType)
	}
	if (r.ContentType == ContentTypeWebsite || r.ContentType == ContentTypeYouTube) && (r.SourceURL == nil || *r.SourceURL == "") {
		return fmt.Errorf("%w: %s content needs a source url", ErrInvalidInput, r.ContentType)
	}
	return nil
}

// IngestResult reports how many chunks landed in the store. ChunksEmbedded
// below ChunksStored means some chunks were stored without a vector.
type IngestResult struct {
	DocumentID     int64 `json:"documentId"`
	ChunksStored   int   `json:"chunksStored"`
	ChunksEmbedded int   `json:"chunksEmbedded"`
}

func (r IngestResult) Degraded() bool {
	return r.ChunksEmbedded < r.ChunksStored
}

// Page is a fetched web page reduced to text.
type Page struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"wordCount"`
}

type Transcript struct {
	VideoID   string `json:"videoId"`
	Text      string `json:"text"`
	WordCount int    `json:"wordCount"`
}
