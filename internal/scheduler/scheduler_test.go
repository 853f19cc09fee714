package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 10, 3, 15, 0, 0, time.UTC)

type fakeBots struct {
	mu         sync.Mutex
	candidates []models.Bot
	slots      []string
	marked     map[int64]time.Time
}

func (f *fakeBots) ListRetrainCandidates(_ context.Context, slot string) ([]models.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = append(f.slots, slot)
	return append([]models.Bot(nil), f.candidates...), nil
}

func (f *fakeBots) MarkRetrained(_ context.Context, botID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marked == nil {
		f.marked = map[int64]time.Time{}
	}
	f.marked[botID] = at
	return nil
}

type fakeDocs map[int64][]models.Document

func (f fakeDocs) ListWebsiteDocuments(_ context.Context, botID, _ int64) ([]models.Document, error) {
	return f[botID], nil
}

type failingDocs struct{}

func (failingDocs) ListWebsiteDocuments(context.Context, int64, int64) ([]models.Document, error) {
	return nil, errors.New("connection reset by peer")
}

type fakeFetcher struct {
	mu      sync.Mutex
	fail    map[string]bool
	calls   []string
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeFetcher) Scrape(_ context.Context, url string) (models.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	if f.fail[url] {
		return models.Page{}, models.NewDependencyError("scraper", models.KindNotFound, 404, errors.New("gone"))
	}
	return models.Page{URL: url, Title: "Fresh " + url, Content: "fresh content for " + url, WordCount: 4}, nil
}

type fakeIngester struct {
	mu       sync.Mutex
	deleted  []int64
	ingested []models.IngestRequest
}

func (f *fakeIngester) Ingest(_ context.Context, req models.IngestRequest) (models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, req)
	return models.IngestResult{DocumentID: int64(100 + len(f.ingested)), ChunksStored: 1, ChunksEmbedded: 1}, nil
}

func (f *fakeIngester) DeleteDocument(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeLocker struct {
	ok       bool
	released bool
}

func (l *fakeLocker) Acquire(context.Context) (func(context.Context) error, bool, error) {
	if !l.ok {
		return nil, false, nil
	}
	return func(context.Context) error { l.released = true; return nil }, true, nil
}

func ago(d time.Duration) *time.Time {
	t := fixedNow.Add(-d)
	return &t
}

func websiteDoc(id, tenant, bot int64, url string) models.Document {
	return models.Document{ID: id, TenantID: tenant, BotID: &bot, ContentType: models.ContentTypeWebsite, SourceURL: &url}
}

func newTestScheduler(bots *fakeBots, docs fakeDocs, fetcher *fakeFetcher, ing *fakeIngester, opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(bots, docs, fetcher, ing, config.SchedulerConfig{Interval: time.Hour}, opts...)
}

func TestRunScheduledRetrainRefreshesDueBots(t *testing.T) {
	bots := &fakeBots{candidates: []models.Bot{
		{ID: 1, TenantID: 7, Name: "recent", RetrainFrequency: models.RetrainDaily, RetrainTime: "03:00", LastRetrainedAt: ago(22 * time.Hour)},
		{ID: 2, TenantID: 7, Name: "never", RetrainFrequency: models.RetrainDaily, RetrainTime: "03:00"},
		{ID: 3, TenantID: 8, Name: "weekly", RetrainFrequency: models.RetrainWeekly, RetrainTime: "03:00", LastRetrainedAt: ago(200 * time.Hour)},
		{ID: 4, TenantID: 8, Name: "off", RetrainFrequency: models.RetrainNone, RetrainTime: "03:00"},
	}}
	docs := fakeDocs{
		1: {websiteDoc(10, 7, 1, "https://a.example/one")},
		2: {websiteDoc(20, 7, 2, "https://b.example/one"), websiteDoc(21, 7, 2, "https://b.example/two")},
		3: {websiteDoc(30, 8, 3, "https://c.example/")},
	}
	fetcher := &fakeFetcher{}
	ing := &fakeIngester{}

	summary, err := newTestScheduler(bots, docs, fetcher, ing).RunScheduledRetrain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"03:00"}, bots.slots)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "03:00", summary.Slot)
	assert.Equal(t, 4, summary.Checked)
	assert.Equal(t, 2, summary.NotDue)
	assert.Equal(t, []models.BotRetrain{
		{BotID: 2, Pages: 2, Updated: 2},
		{BotID: 3, Pages: 1, Updated: 1},
	}, summary.Bots)

	assert.Equal(t, []string{"https://b.example/one", "https://b.example/two", "https://c.example/"}, fetcher.calls)
	assert.Equal(t, []int64{20, 21, 30}, ing.deleted)
	assert.Equal(t, map[int64]time.Time{2: fixedNow, 3: fixedNow}, bots.marked)

	require.Len(t, ing.ingested, 3)
	req := ing.ingested[0]
	assert.Equal(t, int64(7), req.TenantID)
	assert.Equal(t, int64(2), *req.BotID)
	assert.Equal(t, models.ContentTypeWebsite, req.ContentType)
	assert.Equal(t, "https://b.example/one", *req.SourceURL)
	assert.Equal(t, "Fresh https://b.example/one", req.Title)
	assert.Equal(t, map[string]any{
		models.MetaScrapedAt:        "2026-03-10T03:15:00Z",
		models.MetaWordCount:        4,
		models.MetaURL:              "https://b.example/one",
		models.MetaScheduledRetrain: true,
	}, req.Metadata)
}

func TestRunScheduledRetrainSkipsFailedPages(t *testing.T) {
	bots := &fakeBots{candidates: []models.Bot{{ID: 5, TenantID: 1, RetrainFrequency: models.RetrainMonthly}}}
	docs := fakeDocs{5: {
		websiteDoc(50, 1, 5, "https://site.example/ok"),
		websiteDoc(51, 1, 5, "https://site.example/gone"),
		{ID: 52, TenantID: 1, ContentType: models.ContentTypeWebsite},
	}}
	fetcher := &fakeFetcher{fail: map[string]bool{"https://site.example/gone": true}}
	ing := &fakeIngester{}

	summary, err := newTestScheduler(bots, docs, fetcher, ing).RunScheduledRetrain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.BotRetrain{{BotID: 5, Pages: 2, Updated: 1, Failed: 1}}, summary.Bots)
	// the failed page keeps its old document
	assert.Equal(t, []int64{50}, ing.deleted)
	assert.Contains(t, bots.marked, int64(5))
}

func TestRunScheduledRetrainMarksEvenWhenAllPagesFail(t *testing.T) {
	bots := &fakeBots{candidates: []models.Bot{{ID: 6, TenantID: 1, RetrainFrequency: models.RetrainDaily, LastRetrainedAt: ago(30 * time.Hour)}}}
	docs := fakeDocs{6: {websiteDoc(60, 1, 6, "https://down.example/")}}
	fetcher := &fakeFetcher{fail: map[string]bool{"https://down.example/": true}}
	ing := &fakeIngester{}

	summary, err := newTestScheduler(bots, docs, fetcher, ing).RunScheduledRetrain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.BotRetrain{{BotID: 6, Pages: 1, Failed: 1}}, summary.Bots)
	assert.Empty(t, ing.ingested)
	assert.Equal(t, fixedNow, bots.marked[6])
}

func TestRunScheduledRetrainLeavesBotUnmarkedWhenListingFails(t *testing.T) {
	bots := &fakeBots{candidates: []models.Bot{{ID: 1, TenantID: 1, RetrainFrequency: models.RetrainDaily}}}
	fetcher := &fakeFetcher{}

	s := New(bots, failingDocs{}, fetcher, &fakeIngester{}, config.SchedulerConfig{}, WithClock(func() time.Time { return fixedNow }))
	summary, err := s.RunScheduledRetrain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ListFailed)
	assert.Empty(t, summary.Bots)
	assert.Empty(t, bots.marked)
	assert.Empty(t, fetcher.calls)
}

func TestRunScheduledRetrainSkipsBotsWithoutPages(t *testing.T) {
	bots := &fakeBots{candidates: []models.Bot{
		{ID: 1, TenantID: 1, RetrainFrequency: models.RetrainDaily},
		{ID: 2, TenantID: 1, RetrainFrequency: models.RetrainWeekly},
	}}
	// bot 2 only has a website document that lost its url
	docs := fakeDocs{2: {{ID: 9, TenantID: 1, ContentType: models.ContentTypeWebsite}}}

	summary, err := newTestScheduler(bots, docs, &fakeFetcher{}, &fakeIngester{}).RunScheduledRetrain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.NoPages)
	assert.Empty(t, summary.Bots)
	assert.Empty(t, bots.marked)
}

func TestRunScheduledRetrainUsesInjectedClockForSlot(t *testing.T) {
	bots := &fakeBots{}
	late := time.Date(2026, 3, 10, 23, 59, 0, 0, time.FixedZone("CET", 3600))

	s := New(bots, fakeDocs{}, &fakeFetcher{}, &fakeIngester{}, config.SchedulerConfig{}, WithClock(func() time.Time { return late }))
	summary, err := s.RunScheduledRetrain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "22:00", summary.Slot)
}

func TestRunScheduledRetrainGuardsOverlap(t *testing.T) {
	bots := &fakeBots{candidates: []models.Bot{{ID: 1, TenantID: 1, RetrainFrequency: models.RetrainDaily}}}
	docs := fakeDocs{1: {websiteDoc(1, 1, 1, "https://slow.example/")}}
	fetcher := &fakeFetcher{entered: make(chan struct{}), block: make(chan struct{})}
	s := newTestScheduler(bots, docs, fetcher, &fakeIngester{})

	done := make(chan error, 1)
	go func() {
		_, err := s.RunScheduledRetrain(context.Background())
		done <- err
	}()
	<-fetcher.entered

	_, err := s.RunScheduledRetrain(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(fetcher.block)
	require.NoError(t, <-done)

	// guard is released once the first run finishes
	fetcher.entered = nil
	_, err = s.RunScheduledRetrain(context.Background())
	assert.NoError(t, err)
}

func TestRunScheduledRetrainRespectsLock(t *testing.T) {
	bots := &fakeBots{}
	held := &fakeLocker{ok: false}
	_, err := newTestScheduler(bots, fakeDocs{}, &fakeFetcher{}, &fakeIngester{}, WithLocker(held)).RunScheduledRetrain(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, bots.slots)

	free := &fakeLocker{ok: true}
	_, err = newTestScheduler(bots, fakeDocs{}, &fakeFetcher{}, &fakeIngester{}, WithLocker(free)).RunScheduledRetrain(context.Background())
	require.NoError(t, err)
	assert.True(t, free.released)
}

func TestRunStopsOnCancel(t *testing.T) {
	bots := &fakeBots{}
	ctx, cancel := context.WithCancel(context.Background())
	scanned := make(chan models.RetrainSummary, 1)

	s := New(bots, fakeDocs{}, &fakeFetcher{}, &fakeIngester{},
		config.SchedulerConfig{Interval: time.Hour, StartupDelay: time.Millisecond},
		WithClock(func() time.Time { return fixedNow }),
		WithAfterRun(func(_ context.Context, sum models.RetrainSummary) { scanned <- sum }),
	)

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case sum := <-scanned:
		assert.Equal(t, "03:00", sum.Slot)
	case <-time.After(5 * time.Second):
		t.Fatal("first scan did not run")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
