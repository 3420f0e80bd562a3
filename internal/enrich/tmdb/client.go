// Package tmdb enriches listing items with metadata from The Movie Database
// v3 API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/media-harvester/internal/crawler"
	"github.com/JakeFAU/media-harvester/internal/metrics"
)

// DefaultBaseURL is the public v3 endpoint.
const DefaultBaseURL = "https://api.themoviedb.org/3"

const maxBodyBytes = 8 << 20

// Config controls the API client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client resolves IMDb identifiers into TMDB metadata.
type Client struct {
	http   *http.Client
	base   string
	apiKey string
	retry  *crawler.ExponentialRetryPolicy
	logger *zap.Logger
}

// New builds a Client. httpClient is shared by every caller and should
// carry the pooled, rate-limited transport.
func New(cfg Config, httpClient *http.Client, retry *crawler.ExponentialRetryPolicy, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("tmdb api key is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse tmdb base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy(crawler.RetryConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		base:   base,
		apiKey: cfg.APIKey,
		retry:  retry,
		logger: logger,
	}, nil
}

// Enrich looks globalID up, then fetches details and videos concurrently.
// Any failure other than a missing trailer makes the result absent.
func (c *Client) Enrich(ctx context.Context, globalID string) (crawler.Metadata, bool) {
	log := c.logger.With(zap.String("global_id", globalID))

	id, kind, err := c.Lookup(ctx, globalID)
	if err != nil {
		c.logAbsent(log, "lookup", err)
		return crawler.Metadata{}, false
	}

	var (
		md     crawler.Metadata
		videos []crawler.Video
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		details, err := c.Details(gctx, kind, id)
		if err != nil {
			return err
		}
		md = details
		return nil
	})
	g.Go(func() error {
		list, err := c.Videos(gctx, kind, id)
		if err != nil {
			// A missing trailer is not worth dropping the record.
			log.Debug("videos unavailable", zap.Int64("tmdb_id", id), zap.Error(err))
			return nil
		}
		videos = list
		return nil
	})
	if err := g.Wait(); err != nil {
		c.logAbsent(log, "details", err)
		return crawler.Metadata{}, false
	}

	md.ID = id
	md.MediaType = kind
	md.TrailerURL = TrailerURL(videos)
	return md, true
}

func (c *Client) logAbsent(log *zap.Logger, stage string, err error) {
	if errors.Is(err, crawler.ErrNotFound) {
		log.Debug("no metadata match", zap.String("stage", stage))
		return
	}
	log.Warn("enrichment failed", zap.String("stage", stage), zap.Error(err))
}

type findResult struct {
	ID int64 `json:"id"`
}

type findResponse struct {
	MovieResults []findResult `json:"movie_results"`
	TVResults    []findResult `json:"tv_results"`
}

// Lookup maps an IMDb id to a TMDB id and media kind. Movie matches win
// over tv matches.
func (c *Client) Lookup(ctx context.Context, globalID string) (int64, string, error) {
	var resp findResponse
	q := url.Values{"external_source": {"imdb_id"}}
	if err := c.getJSON(ctx, "find", "/find/"+url.PathEscape(globalID), q, &resp); err != nil {
		return 0, "", err
	}
	switch {
	case len(resp.MovieResults) > 0:
		return resp.MovieResults[0].ID, crawler.MediaMovie, nil
	case len(resp.TVResults) > 0:
		return resp.TVResults[0].ID, crawler.MediaTV, nil
	default:
		return 0, "", fmt.Errorf("find %s: %w", globalID, crawler.ErrNotFound)
	}
}

// Details fetches the full record with credits and keywords appended.
func (c *Client) Details(ctx context.Context, kind string, id int64) (crawler.Metadata, error) {
	var md crawler.Metadata
	q := url.Values{"append_to_response": {"credits,keywords"}}
	if err := c.getJSON(ctx, "details", fmt.Sprintf("/%s/%d", kind, id), q, &md); err != nil {
		return crawler.Metadata{}, err
	}
	return md, nil
}

type videosResponse struct {
	Results []crawler.Video `json:"results"`
}

// Videos fetches the video listing for a title.
func (c *Client) Videos(ctx context.Context, kind string, id int64) ([]crawler.Video, error) {
	var resp videosResponse
	if err := c.getJSON(ctx, "videos", fmt.Sprintf("/%s/%d/videos", kind, id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// TrailerURL returns the watch URL of the first trailer, or "".
func TrailerURL(videos []crawler.Video) string {
	for _, v := range videos {
		if !strings.EqualFold(v.Type, "trailer") || v.Key == "" {
			continue
		}
		if strings.EqualFold(v.Site, "vimeo") {
			return "https://vimeo.com/" + v.Key
		}
		return "https://www.youtube.com/watch?v=" + v.Key
	}
	return ""
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	target := c.base + path + "?" + query.Encode()

	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.fetch(ctx, endpoint, path, target, out)
	})
	if err != nil {
		return fmt.Errorf("%s after %d attempt(s): %w", endpoint, attempts, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint, path, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, scrubURLError(err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveAPIRequest(endpoint, 0, time.Since(start))
		return fmt.Errorf("%s request: %w", endpoint, scrubURLError(err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
	}()
	metrics.ObserveAPIRequest(endpoint, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", endpoint, path, crawler.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &crawler.StatusError{
			URL:        path,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", endpoint, crawler.ErrMalformed, err)
	}
	return nil
}

// scrubURLError masks the key inside a *url.Error, whose message carries
// the full request URL.
func scrubURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redactKey(urlErr.URL)
	}
	return err
}

// redactKey masks the api_key query value so transport errors can be
// logged.
func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
