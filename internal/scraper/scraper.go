package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	serviceName  = "scraper"
	maxBodyBytes = 10 << 20
)

// elements whose text never counts as page content
var strippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Iframe:   true,
	atom.Noscript: true,
}

// Scraper fetches a single page and reduces it to readable text.
type Scraper struct {
	client    *http.Client
	userAgent string
}

func New(cfg config.ScraperConfig) *Scraper {
	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return NewWithClient(client, cfg.UserAgent)
}

func NewWithClient(client *http.Client, userAgent string) *Scraper {
	if client == nil {
		client = http.DefaultClient
	}
	return &Scraper{client: client, userAgent: userAgent}
}

// Scrape fetches rawURL and returns its title and body text.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (models.Page, error) {
	page, _, err := s.scrape(ctx, rawURL)
	return page, err
}

// ExtractLinks returns the absolute, de-duplicated links of the page that
// stay on the page's host.
func (s *Scraper) ExtractLinks(ctx context.Context, rawURL string) ([]string, error) {
	_, links, err := s.scrape(ctx, rawURL)
	return links, err
}

func (s *Scraper) scrape(ctx context.Context, rawURL string) (models.Page, []string, error) {
	doc, base, err := s.fetch(ctx, rawURL)
	if err != nil {
		return models.Page{}, nil, err
	}
	links := sameHostLinks(doc, base)
	page := extractPage(doc)
	page.URL = rawURL
	return page, links, nil
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) (*html.Node, *url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, nil, fmt.Errorf("%w: %q is not an http(s) url", models.ErrInvalidInput, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, classifyFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, statusError(resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			return nil, nil, models.NewDependencyError(serviceName, models.KindUnknown, resp.StatusCode,
				fmt.Errorf("unsupported content type %q", mediaType))
		}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, models.NewDependencyError(serviceName, models.KindUnknown, resp.StatusCode, fmt.Errorf("parse html: %w", err))
	}
	// relative links resolve against the final url after redirects
	return doc, resp.Request.URL, nil
}

func extractPage(doc *html.Node) models.Page {
	removeElements(doc)

	title := strings.TrimSpace(collapse(textOf(findFirst(doc, atom.Title))))
	if title == "" {
		title = strings.TrimSpace(collapse(textOf(findFirst(doc, atom.H1))))
	}
	if title == "" {
		title = models.UntitledPage
	}

	body := findFirst(doc, atom.Body)
	if body == nil {
		body = doc
	}
	content := collapse(textOf(body))
	return models.Page{Title: title, Content: content, WordCount: len(strings.Fields(content))}
}

func removeElements(n *html.Node) {
	var doomed []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strippedElements[c.DataAtom] {
				doomed = append(doomed, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	for _, d := range doomed {
		d.Parent.RemoveChild(d)
	}
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// textOf concatenates the text nodes under n, separating elements by a space.
func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sameHostLinks(doc *html.Node, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if (abs.Scheme != "http" && abs.Scheme != "https") || !strings.EqualFold(abs.Hostname(), base.Hostname()) {
					continue
				}
				abs.Fragment = ""
				if link := abs.String(); !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func classifyFetchError(err error) error {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return models.NewDependencyError(serviceName, models.KindNotFound, 0, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return models.NewDependencyError(serviceName, models.KindConnectionRefused, 0, err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewDependencyError(serviceName, models.KindUnavailable, 0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewDependencyError(serviceName, models.KindUnavailable, 0, err)
	}
	return models.NewDependencyError(serviceName, models.KindUnknown, 0, err)
}

func statusError(status int) error {
	err := fmt.Errorf("unexpected status %d", status)
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return models.NewDependencyError(serviceName, models.KindNotFound, status, err)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return models.NewDependencyError(serviceName, models.KindForbidden, status, err)
	case status == http.StatusTooManyRequests:
		return models.NewDependencyError(serviceName, models.KindRateLimited, status, err)
	case status >= 500:
		return models.NewDependencyError(serviceName, models.KindUnavailable, status, err)
	}
	return models.NewDependencyError(serviceName, models.KindUnknown, status, err)
}
