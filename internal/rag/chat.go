package rag

import (
	"context"
	"fmt"
	"strings"

	"knowledge-rag/internal/llmservice"
	"knowledge-rag/internal/models"

	"github.com/rs/zerolog/log"
)

type ContextRetriever interface {
	Retrieve(ctx context.Context, scope models.Scope, query string, k int) ([]string, error)
}

type ChatRequest struct {
	Scope models.Scope
	// bot instructions, the default assistant prompt when empty
	Instructions string
	History      []models.Message
	Message      string
	TopK         int
}

// Orchestrator answers a visitor message with the bot's knowledge base as context.
type Orchestrator struct {
	retriever ContextRetriever
	llm       llmservice.Provider
}

func NewOrchestrator(retriever ContextRetriever, llm llmservice.Provider) *Orchestrator {
	return &Orchestrator{retriever: retriever, llm: llm}
}

func (o *Orchestrator) Reply(ctx context.Context, req ChatRequest) (models.ChatReply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return models.ChatReply{}, fmt.Errorf("%w: message is empty", models.ErrInvalidInput)
	}

	chunks, err := o.retriever.Retrieve(ctx, req.Scope, req.Message, req.TopK)
	if err != nil {
		// answering continues without context
		log.Warn().Err(err).Stringer("scope", req.Scope).Msg("Retrieval failed")
	}

	history := make([]models.Message, 0, len(req.History)+1)
	history = append(history, req.History...)
	history = append(history, models.Message{Role: models.RoleUser, Content: req.Message})

	answer, err := o.llm.Complete(ctx, BuildSystemPrompt(req.Instructions, chunks), history)
	if err != nil {
		return models.ChatReply{}, fmt.Errorf("generate reply: %w", err)
	}
	return models.ChatReply{Message: answer, ContextUsed: len(chunks) > 0, Sources: chunks}, nil
}

// BuildSystemPrompt appends the numbered knowledge base chunks to the bot
// instructions. Without chunks the model is told the knowledge base has nothing.
func BuildSystemPrompt(instructions string, chunks []string) string {
	var b strings.Builder
	if strings.TrimSpace(instructions) == "" {
		instructions = models.DefaultInstructions
	}
	b.WriteString(instructions)

	if len(chunks) == 0 {
		b.WriteString(models.NoContextNotice)
		return b.String()
	}

	b.WriteString(models.ContextHeader)
	for i, c := range chunks {
		if i > 0 {
			b.WriteString(models.ContextSeparator)
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, c)
	}
	b.WriteString(models.ContextFooter)
	return b.String()
}
