package scraper

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// links with these extensions never lead to an html page
var skippedExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".css": true, ".js": true, ".json": true, ".xml": true,
	".zip": true, ".gz": true, ".tar": true, ".mp3": true, ".mp4": true, ".mov": true,
	".avi": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true,
	".pptx": true, ".csv": true, ".txt": true, ".woff": true, ".woff2": true,
}

// visits allowed per accepted page, bounds crawls through thin pages
const visitsPerPage = 10

// Crawler walks a site breadth first from a start url, staying on its host.
type Crawler struct {
	scraper  *Scraper
	maxPages int
	minWords int
	limiter  *rate.Limiter
}

func NewCrawler(s *Scraper, cfg config.ScraperConfig) *Crawler {
	return &Crawler{
		scraper:  s,
		maxPages: max(1, cfg.MaxPages),
		minWords: cfg.MinWords,
		limiter:  NewLimiter(cfg.RequestDelay),
	}
}

// NewLimiter allows one request per delay, the first one immediately.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Crawl returns up to maxPages pages with at least minWords words. Pages that
// fail to load are logged and skipped.
func (c *Crawler) Crawl(ctx context.Context, startURL string) ([]models.Page, error) {
	start, err := NormalizeURL(startURL)
	if err != nil {
		return nil, err
	}
	startHost, _ := url.Parse(start)

	var (
		pages    []models.Page
		firstErr error
		queue    = []string{start}
		visited  = map[string]bool{start: true}
		visits   int
	)
	for len(queue) > 0 && len(pages) < c.maxPages && visits < c.maxPages*visitsPerPage {
		next := queue[0]
		queue = queue[1:]
		visits++

		if err := c.limiter.Wait(ctx); err != nil {
			return pages, err
		}

		page, links, err := c.scraper.scrape(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return pages, ctx.Err()
			}
			log.Warn().Err(err).Str("url", next).Msg("Failed to scrape page")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if page.WordCount < c.minWords {
			log.Debug().Str("url", next).Int("words", page.WordCount).Msg("Skipping thin page")
		} else {
			pages = append(pages, page)
		}

		for _, link := range links {
			norm, err := NormalizeURL(link)
			if err != nil || visited[norm] {
				continue
			}
			u, _ := url.Parse(norm)
			if !strings.EqualFold(u.Hostname(), startHost.Hostname()) || skippedExtensions[strings.ToLower(path.Ext(u.Path))] {
				continue
			}
			visited[norm] = true
			queue = append(queue, norm)
		}
	}

	if len(pages) == 0 && firstErr != nil {
		return nil, firstErr
	}
	log.Info().Str("start", start).Int("pages", len(pages)).Int("visited", visits).Msg("Crawl finished")
	return pages, nil
}

// NormalizeURL drops the fragment and trailing slash and lowercases the host,
// so links to the same page compare equal.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an http(s) url", models.ErrInvalidInput, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}
