// Package scoreapi is the HTTP client for a remote credibility scoring API.
package scoreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/credscore/internal/domain/model"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "credscore/1.0"
	maxBodyBytes     = 1 << 20
)

// ScoreResponse is the body of GET /scores/{subject}. Score is a pointer so a
// reply without one is told apart from a real zero.
type ScoreResponse struct {
	Subject string `json:"subject"`
	Score   *int   `json:"score"`
}

// Client fetches scores over HTTP.
type Client struct {
	base      *url.URL
	http      *http.Client
	timeout   time.Duration
	userAgent string
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrEmptyBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse base url %q: missing scheme or host", baseURL)
	}
	c := &Client{
		base:      base,
		http:      &http.Client{},
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchScore looks up subject's score.
func (c *Client) FetchScore(ctx context.Context, subject string) (int, error) {
	var body ScoreResponse
	if err := c.getJSON(ctx, "/scores/"+url.PathEscape(subject), &body); err != nil {
		return 0, fmt.Errorf("fetch score for %q: %w", subject, err)
	}
	if body.Score == nil {
		return 0, fmt.Errorf("fetch score for %q: %w: missing score", subject, ErrDecode)
	}
	return *body.Score, nil
}

// Stats returns the server's /stats document.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var body map[string]any
	if err := c.getJSON(ctx, "/stats", &body); err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	return body, nil
}

// Scores returns every score the server has resolved.
func (c *Client) Scores(ctx context.Context) (map[string]int, error) {
	var body struct {
		Scores map[string]int `json:"scores"`
	}
	if err := c.getJSON(ctx, "/scores", &body); err != nil {
		return nil, fmt.Errorf("fetch scores: %w", err)
	}
	return body.Scores, nil
}

// Prefetch asks the server to resolve subjects in the background. A server
// that could queue none of them answers with ErrBackpressure.
func (c *Client) Prefetch(ctx context.Context, subjects []string) (model.PrefetchResult, error) {
	var res model.PrefetchResult
	payload, err := json.Marshal(struct {
		Subjects []string `json:"subjects"`
	}{subjects})
	if err != nil {
		return res, fmt.Errorf("encode prefetch: %w", err)
	}
	if err := c.doJSON(ctx, http.MethodPost, "/prefetch", bytes.NewReader(payload), http.StatusAccepted, &res); err != nil {
		return res, fmt.Errorf("prefetch %d subjects: %w", len(subjects), err)
	}
	return res, nil
}

// Leaderboard returns the server's top n entries.
func (c *Client) Leaderboard(ctx context.Context, n int) ([]model.Entry, error) {
	var entries []model.Entry
	if err := c.getJSON(ctx, "/leaderboard?limit="+strconv.Itoa(n), &entries); err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	return entries, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, want int, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return ErrBackpressure
	case resp.StatusCode != want:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
