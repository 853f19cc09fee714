package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/helper"
	"knowledge-rag/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrRunInProgress is returned when a scan is requested while another one,
// in this process or holding the shared lock, has not finished.
var ErrRunInProgress = errors.New("retrain run already in progress")

type BotStore interface {
	ListRetrainCandidates(ctx context.Context, slot string) ([]models.Bot, error)
	MarkRetrained(ctx context.Context, botID int64, at time.Time) error
}

type DocumentLister interface {
	ListWebsiteDocuments(ctx context.Context, botID, tenantID int64) ([]models.Document, error)
}

type PageFetcher interface {
	Scrape(ctx context.Context, url string) (models.Page, error)
}

type Ingester interface {
	Ingest(ctx context.Context, req models.IngestRequest) (models.IngestResult, error)
	DeleteDocument(ctx context.Context, documentID int64) error
}

// Locker guards a scan across processes. Acquire reports false when another
// holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithAfterRun registers a hook called after every completed scan.
func WithAfterRun(fn func(context.Context, models.RetrainSummary)) Option {
	return func(s *Scheduler) { s.afterRun = fn }
}

// Scheduler re-scrapes the website documents of bots whose retrain slot is
// the current UTC hour and whose frequency says they are due.
type Scheduler struct {
	bots     BotStore
	docs     DocumentLister
	fetcher  PageFetcher
	ingester Ingester

	interval     time.Duration
	startupDelay time.Duration
	fetchDelay   time.Duration

	now      func() time.Time
	locker   Locker
	afterRun func(context.Context, models.RetrainSummary)

	running atomic.Bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func New(bots BotStore, docs DocumentLister, fetcher PageFetcher, ingester Ingester, cfg config.SchedulerConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		bots:         bots,
		docs:         docs,
		fetcher:      fetcher,
		ingester:     ingester,
		interval:     cfg.Interval,
		startupDelay: cfg.StartupDelay,
		fetchDelay:   cfg.FetchDelay,
		now:          time.Now,
		logger:       log.With().Str("component", "scheduler").Logger(),
	}
	if s.interval <= 0 {
		s.interval = time.Hour
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans once after the startup delay and then on every interval until
// ctx is cancelled. A tick that lands while a scan is still running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Dur("startup_delay", s.startupDelay).Msg("Retrain scheduler started")
	defer s.wg.Wait()

	startup := time.NewTimer(s.startupDelay)
	defer startup.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-startup.C:
		s.launch(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Retrain scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.launch(ctx)
		}
	}
}

func (s *Scheduler) launch(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.RunScheduledRetrain(ctx)
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.logger.Warn().Msg("Previous retrain run still in progress, skipping")
		case err != nil:
			s.logger.Error().Err(err).Msg("Scheduled retrain failed")
		}
	}()
}

// RunScheduledRetrain performs one scan. Per-page failures are logged and
// counted, never returned; every attempted bot is marked retrained.
func (s *Scheduler) RunScheduledRetrain(ctx context.Context) (models.RetrainSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return models.RetrainSummary{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx)
		if err != nil {
			return models.RetrainSummary{}, fmt.Errorf("acquire retrain lock: %w", err)
		}
		if !ok {
			return models.RetrainSummary{}, ErrRunInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to release retrain lock")
			}
		}()
	}

	runID, err := helper.GenerateUUID()
	if err != nil {
		return models.RetrainSummary{}, err
	}
	now := s.now()
	summary := models.RetrainSummary{RunID: runID, Slot: models.RetrainSlot(now)}
	logger := s.logger.With().Str("run_id", summary.RunID).Str("slot", summary.Slot).Logger()

	bots, err := s.bots.ListRetrainCandidates(ctx, summary.Slot)
	if err != nil {
		return summary, fmt.Errorf("list retrain candidates: %w", err)
	}
	summary.Checked = len(bots)
	logger.Info().Int("candidates", len(bots)).Msg("Checking bots for scheduled retrain")

	for i := range bots {
		bot := &bots[i]
		if !bot.IsDue(now) {
			summary.NotDue++
			logger.Debug().Int64("bot_id", bot.ID).Str("frequency", string(bot.RetrainFrequency)).Msg("Bot not due for retrain")
			continue
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		botLogger := logger.With().Int64("bot_id", bot.ID).Int64("tenant_id", bot.TenantID).Logger()
		docs, err := s.docs.ListWebsiteDocuments(ctx, bot.ID, bot.TenantID)
		if err != nil {
			// not marked, the bot is tried again on the next scan of its slot
			summary.ListFailed++
			botLogger.Error().Err(err).Msg("Failed to list website documents")
			continue
		}
		pages := withSourceURL(docs)
		if len(pages) == 0 {
			summary.NoPages++
			botLogger.Debug().Msg("No website pages to retrain")
			continue
		}
		summary.Bots = append(summary.Bots, s.retrainBot(ctx, botLogger, bot, pages))
	}

	if s.afterRun != nil {
		s.afterRun(ctx, summary)
	}
	logger.Info().
		Int("retrained", len(summary.Bots)).
		Int("not_due", summary.NotDue).
		Int("no_pages", summary.NoPages).
		Int("list_failed", summary.ListFailed).
		Msg("Scheduled retrain finished")
	return summary, nil
}

func (s *Scheduler) retrainBot(ctx context.Context, logger zerolog.Logger, bot *models.Bot, docs []models.Document) models.BotRetrain {
	result := models.BotRetrain{BotID: bot.ID, Pages: len(docs)}

	limiter := newLimiter(s.fetchDelay)
	for _, doc := range docs {
		if err := limiter.Wait(ctx); err != nil {
			result.Failed += result.Pages - result.Updated - result.Failed
			break
		}
		if err := s.refreshPage(ctx, bot, doc); err != nil {
			result.Failed++
			logger.Warn().Err(err).Str("url", *doc.SourceURL).Int64("document_id", doc.ID).Msg("Failed to retrain page")
			continue
		}
		result.Updated++
	}

	// marked even when every page failed
	if err := s.bots.MarkRetrained(ctx, bot.ID, s.now()); err != nil {
		logger.Error().Err(err).Msg("Failed to mark bot retrained")
	}
	logger.Info().
		Str("bot_name", bot.Name).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Int("pages", result.Pages).
		Msg("Retrained bot")
	return result
}

func withSourceURL(docs []models.Document) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.SourceURL != nil && *doc.SourceURL != "" {
			out = append(out, doc)
		}
	}
	return out
}

func (s *Scheduler) refreshPage(ctx context.Context, bot *models.Bot, doc models.Document) error {
	url := *doc.SourceURL
	page, err := s.fetcher.Scrape(ctx, url)
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	if err := s.ingester.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document %d: %w", doc.ID, err)
	}

	botID := bot.ID
	_, err = s.ingester.Ingest(ctx, models.IngestRequest{
		TenantID:    doc.TenantID,
		BotID:       &botID,
		Title:       page.Title,
		ContentType: models.ContentTypeWebsite,
		SourceURL:   &url,
		Content:     page.Content,
		Metadata: map[string]any{
			models.MetaScrapedAt:        s.now().UTC().Format(time.RFC3339),
			models.MetaWordCount:        page.WordCount,
			models.MetaURL:              url,
			models.MetaScheduledRetrain: true,
		},
	})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

// first request passes immediately, later ones wait delay
func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
