package main

import (
	"errors"
	"fmt"
	"strings"

	"knowledge-rag/internal/llmservice"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/rag"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	scopeTenant      int64
	scopeBot         int64
	queryK           int
	chatInstructions string
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Print the knowledge base chunks most similar to a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := flagScope()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.retriever.RetrieveScored(cmd.Context(), scope, strings.Join(args, " "), queryK)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			cmd.Println("No relevant chunks found.")
		}
		for i, r := range results {
			cmd.Printf("[%d] document %d (%.3f)\n    %s\n", i+1, r.DocumentID, r.Similarity, r.Text)
		}

		missing, err := a.unembedded(cmd.Context(), scope)
		if err != nil {
			log.Warn().Err(err).Msg("Could not count unembedded chunks")
		} else if missing > 0 {
			cmd.Printf("\n%d chunks in %s have no embedding and are not searchable.\n", missing, scope)
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Answer a message with retrieved context",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := flagScope()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		llm, err := llmservice.New(cfg.LLM)
		if err != nil {
			return err
		}
		reply, err := rag.NewOrchestrator(a.retriever, llm).Reply(cmd.Context(), rag.ChatRequest{
			Scope:        scope,
			Instructions: chatInstructions,
			Message:      strings.Join(args, " "),
			TopK:         queryK,
		})
		if err != nil {
			return userFacing(err)
		}
		cmd.Println(reply.Message)
		if reply.ContextUsed {
			cmd.Printf("\n(%d knowledge base chunks used)\n", len(reply.Sources))
		}
		return nil
	},
}

func flagScope() (models.Scope, error) {
	switch {
	case scopeBot > 0:
		return models.ByBot(scopeBot), nil
	case scopeTenant > 0:
		return models.ByTenant(scopeTenant), nil
	}
	return models.Scope{}, fmt.Errorf("%w: --bot or --tenant is required", models.ErrInvalidInput)
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, chatCmd} {
		c.Flags().Int64Var(&scopeBot, "bot", 0, "search the bot's knowledge base")
		c.Flags().Int64Var(&scopeTenant, "tenant", 0, "search the tenant-wide knowledge base")
		c.Flags().IntVar(&queryK, "k", 0, "number of chunks, defaults to rag.top_k")
		c.MarkFlagsMutuallyExclusive("bot", "tenant")
	}
	chatCmd.Flags().StringVar(&chatInstructions, "instructions", "", "bot instructions for the system prompt")
	rootCmd.AddCommand(queryCmd, chatCmd)
}

var errNothingToDelete = errors.New("pass --document or --bot")

var (
	deleteDocument int64
	deleteBot      int64
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove a document or all of a bot's chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if deleteDocument <= 0 && deleteBot <= 0 {
			return errNothingToDelete
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if deleteDocument > 0 {
			doc, err := a.docs.GetDocument(cmd.Context(), deleteDocument)
			if err != nil {
				return err
			}
			log.Info().Int64("document_id", doc.ID).Str("title", doc.Title).Stringer("scope", doc.Scope()).Msg("Deleting document")
			if err := a.pipeline.DeleteDocument(cmd.Context(), deleteDocument); err != nil {
				return err
			}
			cmd.Printf("Deleted document %d\n", deleteDocument)
		}
		if deleteBot > 0 {
			if err := a.pipeline.DeleteBot(cmd.Context(), deleteBot); err != nil {
				return err
			}
			cmd.Printf("Deleted chunks of bot %d\n", deleteBot)
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().Int64Var(&deleteDocument, "document", 0, "document id")
	deleteCmd.Flags().Int64Var(&deleteBot, "bot", 0, "bot id")
	rootCmd.AddCommand(deleteCmd)
}
