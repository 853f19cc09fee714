package main

import (
	"knowledge-rag/internal/db"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the vector extension, tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bunDB, err := db.Open(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		defer bunDB.Close()

		if err := db.Migrate(ctx, bunDB, cfg.VectorStore.Dimensions); err != nil {
			return err
		}
		kind, err := db.EnsureVectorIndex(ctx, bunDB, cfg.VectorStore.IndexLists)
		if err != nil {
			return err
		}
		log.Info().Str("vector_index", string(kind)).Msg("Migration complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
