package db

import (
	"context"
	"fmt"
	"time"

	"knowledge-rag/internal/models"

	"github.com/uptrace/bun"
)

type BotStore struct {
	db *bun.DB
}

func NewBotStore(db *bun.DB) *BotStore {
	return &BotStore{db: db}
}

// ListRetrainCandidates returns bots with a retrain frequency whose retrain
// time equals slot ("HH:00").
func (s *BotStore) ListRetrainCandidates(ctx context.Context, slot string) ([]models.Bot, error) {
	var rows []Bot
	err := s.db.NewSelect().
		Model(&rows).
		Where("b.retrain_frequency != ?", string(models.RetrainNone)).
		Where("b.retrain_time = ?", slot).
		Order("b.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list retrain candidates at %s: %w", slot, err)
	}
	bots := make([]models.Bot, len(rows))
	for i, r := range rows {
		bots[i] = models.Bot{
			ID:               r.ID,
			TenantID:         r.TenantID,
			Name:             r.Name,
			RetrainFrequency: models.RetrainFrequency(r.RetrainFrequency),
			RetrainTime:      r.RetrainTime,
			LastRetrainedAt:  r.LastRetrainedAt,
		}
	}
	return bots, nil
}

func (s *BotStore) MarkRetrained(ctx context.Context, botID int64, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*Bot)(nil)).
		Set("last_retrained_at = ?", at.UTC()).
		Where("id = ?", botID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark bot %d retrained: %w", botID, err)
	}
	return nil
}

// CreateBot is used by the CLI and tests to register a bot's retrain policy.
func (s *BotStore) CreateBot(ctx context.Context, bot *models.Bot) (int64, error) {
	row := &Bot{
		TenantID:         bot.TenantID,
		Name:             bot.Name,
		RetrainFrequency: string(bot.RetrainFrequency),
		RetrainTime:      bot.RetrainTime,
	}
	if row.RetrainFrequency == "" {
		row.RetrainFrequency = string(models.RetrainNone)
	}
	if row.RetrainTime == "" {
		row.RetrainTime = "03:00"
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return 0, fmt.Errorf("insert bot: %w", err)
	}
	bot.ID = row.ID
	return row.ID, nil
}
