package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

const DefaultDimensions = 1536

type Bot struct {
	bun.BaseModel    `bun:"table:bots,alias:b"`
	ID               int64      `bun:"id,pk,autoincrement"`
	TenantID         int64      `bun:"tenant_id,notnull"`
	Name             string     `bun:"name,notnull,default:''"`
	RetrainFrequency string     `bun:"retrain_frequency,notnull,default:'none'"`
	RetrainTime      string     `bun:"retrain_time,notnull,default:'03:00'"`
	LastRetrainedAt  *time.Time `bun:"last_retrained_at"`
	CreatedAt        time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

type Document struct {
	bun.BaseModel   `bun:"table:documents,alias:d"`
	ID              int64          `bun:"id,pk,autoincrement"`
	TenantID        int64          `bun:"tenant_id,notnull"`
	BotID           *int64         `bun:"bot_id"`
	Title           string         `bun:"title,notnull,default:''"`
	ContentType     string         `bun:"content_type,notnull"`
	SourceURL       *string        `bun:"source_url"`
	Content         string         `bun:"content,notnull"`
	Metadata        map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt       time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	LastRetrainedAt *time.Time     `bun:"last_retrained_at"`
}

// Chunk rows keep a NULL embedding when the vector could not be produced.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            int64            `bun:"id,pk,autoincrement"`
	TenantID      int64            `bun:"tenant_id,notnull"`
	BotID         *int64           `bun:"bot_id"`
	DocumentID    int64            `bun:"document_id,notnull"`
	Text          string           `bun:"chunk_text,notnull"`
	Embedding     *pgvector.Vector `bun:"embedding,type:vector(1536)"`
	Metadata      map[string]any   `bun:"metadata,type:jsonb"`
	CreatedAt     time.Time        `bun:"created_at,notnull,default:current_timestamp"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver. Both drivers
// accept a postgres:// url.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: database url is required", models.ErrInvalidInput)
	}
	dsn := cfg.URL
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}

	switch cfg.Driver {
	case "pq":
		return sql.Open("postgres", dsn)
	case "", "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
	return nil, fmt.Errorf("%w: unknown database driver %q", models.ErrInvalidInput, cfg.Driver)
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*bun.DB, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

func toVector(v []float32) *pgvector.Vector {
	if v == nil {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func fromVector(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}
