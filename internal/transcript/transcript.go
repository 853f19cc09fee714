package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"

	"github.com/rs/zerolog/log"
)

const serviceName = "transcript"

var (
	videoURLRegex = regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/shorts/)([^&\n?#/]+)`)
	videoIDRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	spaceRegex    = regexp.MustCompile(`\s+`)

	ErrInvalidVideo = fmt.Errorf("%w: not a youtube video url or id", models.ErrInvalidInput)
	ErrNoTranscript = errors.New("video has no transcript")
)

// ExtractVideoID accepts watch, short, embed and shorts urls or a bare id.
func ExtractVideoID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if m := videoURLRegex.FindStringSubmatch(input); m != nil {
		return m[1], nil
	}
	if videoIDRegex.MatchString(input) {
		return input, nil
	}
	return "", ErrInvalidVideo
}

type segment struct {
	Text string `json:"text"`
}

type transcriptResponse struct {
	Transcript []segment `json:"transcript"`
}

// Client fetches video transcripts from the hosted transcript API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func New(cfg config.TranscriptConfig) *Client {
	return NewWithClient(&http.Client{Timeout: cfg.Timeout}, cfg.BaseURL, cfg.APIKey)
}

func NewWithClient(client *http.Client, baseURL, apiKey string) *Client {
	return &Client{http: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// Fetch resolves the video id from videoURL and returns its transcript as one
// whitespace-normalized text.
func (c *Client) Fetch(ctx context.Context, videoURL string) (models.Transcript, error) {
	id, err := ExtractVideoID(videoURL)
	if err != nil {
		return models.Transcript{}, err
	}
	if c.apiKey == "" {
		return models.Transcript{}, models.NewDependencyError(serviceName, models.KindAuthFailed, 0, errors.New("api key not configured"))
	}

	q := url.Values{"video_url": {id}, "format": {"json"}}
	endpoint := c.baseURL + "/api/v2/youtube/transcript?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Transcript{}, fmt.Errorf("build transcript request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("video_id", id).Msg("Fetching transcript")
	resp, err := c.http.Do(req)
	if err != nil {
		return models.Transcript{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return models.Transcript{}, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.Transcript{}, models.NewDependencyError(serviceName, models.KindUnknown, resp.StatusCode, fmt.Errorf("decode transcript: %w", err))
	}

	parts := make([]string, 0, len(payload.Transcript))
	for _, s := range payload.Transcript {
		parts = append(parts, s.Text)
	}
	text := strings.TrimSpace(spaceRegex.ReplaceAllString(strings.Join(parts, " "), " "))
	if text == "" {
		return models.Transcript{}, fmt.Errorf("%s: %w", id, ErrNoTranscript)
	}
	return models.Transcript{VideoID: id, Text: text, WordCount: len(strings.Fields(text))}, nil
}

func statusError(status int, body string) error {
	err := fmt.Errorf("unexpected status %d: %s", status, body)
	switch {
	case status == http.StatusNotFound:
		return models.NewDependencyError(serviceName, models.KindNotFound, status, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.NewDependencyError(serviceName, models.KindAuthFailed, status, err)
	case status == http.StatusTooManyRequests:
		return models.NewDependencyError(serviceName, models.KindRateLimited, status, err)
	case status >= 500:
		return models.NewDependencyError(serviceName, models.KindUnavailable, status, err)
	}
	return models.NewDependencyError(serviceName, models.KindUnknown, status, err)
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return models.NewDependencyError(serviceName, models.KindUnavailable, 0, err)
	}
	return models.NewDependencyError(serviceName, models.KindUnknown, 0, err)
}
