package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"knowledge-rag/internal/helper"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/parser"
	"knowledge-rag/internal/scraper"
	"knowledge-rag/internal/transcript"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	ingestTenant   int64
	ingestBot      int64
	ingestFile     string
	ingestURL      string
	ingestCrawl    bool
	ingestMaxPages int
	ingestYouTube  string
	ingestText     string
	ingestTitle    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a document to a tenant or bot knowledge base",
	Long: `Ingest exactly one source: --text, --file, --url (optionally --crawl) or --youtube.
Without --bot the document belongs to the tenant-wide knowledge base.`,
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.Int64Var(&ingestTenant, "tenant", 0, "owning tenant id")
	f.Int64Var(&ingestBot, "bot", 0, "bot id, omit for the tenant-wide knowledge base")
	f.StringVar(&ingestFile, "file", "", "path to a pdf, docx, pptx, xlsx, ods, md, txt or csv file")
	f.StringVar(&ingestURL, "url", "", "web page to scrape")
	f.BoolVar(&ingestCrawl, "crawl", false, "follow same-site links from --url")
	f.IntVar(&ingestMaxPages, "max-pages", 0, "crawl page limit, defaults to scraper.max_pages")
	f.StringVar(&ingestYouTube, "youtube", "", "youtube video url or id")
	f.StringVar(&ingestText, "text", "", "raw text content")
	f.StringVar(&ingestTitle, "title", "", "document title")
	_ = ingestCmd.MarkFlagRequired("tenant")
	ingestCmd.MarkFlagsMutuallyExclusive("file", "url", "youtube", "text")
	ingestCmd.MarkFlagsOneRequired("file", "url", "youtube", "text")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	base := models.IngestRequest{TenantID: ingestTenant, Title: ingestTitle}
	if ingestBot > 0 {
		base.BotID = &ingestBot
	}

	var requests []models.IngestRequest
	switch {
	case ingestText != "":
		req := base
		req.ContentType = models.ContentTypeText
		req.Content = ingestText
		requests = append(requests, req)
	case ingestFile != "":
		req, err := fileRequest(base, ingestFile)
		if err != nil {
			return err
		}
		requests = append(requests, req)
	case ingestURL != "":
		requests, err = websiteRequests(ctx, base, ingestURL)
		if err != nil {
			return err
		}
	case ingestYouTube != "":
		req, err := youtubeRequest(ctx, base, ingestYouTube)
		if err != nil {
			return err
		}
		requests = append(requests, req)
	}

	results := make([]models.IngestResult, 0, len(requests))
	for _, req := range requests {
		res, err := a.pipeline.Ingest(ctx, req)
		if err != nil {
			return fmt.Errorf("ingest %q: %w", req.Title, err)
		}
		if res.Degraded() {
			log.Warn().Int64("document_id", res.DocumentID).
				Int("stored", res.ChunksStored).Int("embedded", res.ChunksEmbedded).
				Msg("Some chunks were stored without embeddings")
		}
		results = append(results, res)
	}
	helper.PrettyPrint(cmd.OutOrStdout(), results)
	return nil
}

func fileRequest(base models.IngestRequest, path string) (models.IngestRequest, error) {
	text, err := parser.ExtractText(path)
	if err != nil {
		return base, err
	}
	req := base
	req.ContentType = models.ContentTypeFile
	req.Content = text
	if req.Title == "" {
		req.Title = filepath.Base(path)
	}
	req.Metadata = map[string]any{models.MetaFilename: filepath.Base(path)}
	return req, nil
}

func websiteRequests(ctx context.Context, base models.IngestRequest, url string) ([]models.IngestRequest, error) {
	s := scraper.New(cfg.Scraper)

	var pages []models.Page
	if ingestCrawl {
		scfg := cfg.Scraper
		if ingestMaxPages > 0 {
			scfg.MaxPages = ingestMaxPages
		}
		crawled, err := scraper.NewCrawler(s, scfg).Crawl(ctx, url)
		if err != nil {
			return nil, userFacing(err)
		}
		pages = crawled
	} else {
		page, err := s.Scrape(ctx, url)
		if err != nil {
			return nil, userFacing(err)
		}
		pages = append(pages, page)
	}

	scrapedAt := time.Now().UTC().Format(time.RFC3339)
	requests := make([]models.IngestRequest, 0, len(pages))
	for _, page := range pages {
		req := base
		pageURL := page.URL
		req.ContentType = models.ContentTypeWebsite
		req.SourceURL = &pageURL
		req.Content = page.Content
		if req.Title == "" || len(pages) > 1 {
			req.Title = page.Title
		}
		req.Metadata = map[string]any{
			models.MetaScrapedAt: scrapedAt,
			models.MetaWordCount: page.WordCount,
			models.MetaURL:       page.URL,
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func youtubeRequest(ctx context.Context, base models.IngestRequest, video string) (models.IngestRequest, error) {
	tr, err := transcript.New(cfg.Transcript).Fetch(ctx, video)
	if err != nil {
		return base, userFacing(err)
	}
	req := base
	req.ContentType = models.ContentTypeYouTube
	req.SourceURL = &video
	req.Content = tr.Text
	if req.Title == "" {
		req.Title = "YouTube video " + tr.VideoID
	}
	req.Metadata = map[string]any{
		models.MetaVideoID:   tr.VideoID,
		models.MetaWordCount: tr.WordCount,
	}
	return req, nil
}

// userFacing prefixes dependency failures with the message shown to tenants.
func userFacing(err error) error {
	var de *models.DependencyError
	if errors.As(err, &de) {
		return fmt.Errorf("%s: %w", de.UserMessage(), err)
	}
	return err
}
