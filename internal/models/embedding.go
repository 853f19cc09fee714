package models

import "time"

// Chunk is a bounded slice of a document's text. Embedding is nil when the
// chunk was stored without a vector.
type Chunk struct {
	ID         int64
	TenantID   int64
	BotID      *int64
	DocumentID int64
	Text       string
	Embedding  []float32
	Metadata   map[string]any
	CreatedAt  time.Time
}

type ScoredChunk struct {
	ChunkID    int64   `json:"chunkId"`
	DocumentID int64   `json:"documentId"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatReply struct {
	Message     string   `json:"message"`
	ContextUsed bool     `json:"contextUsed"`
	Sources     []string `json:"-"`
}
