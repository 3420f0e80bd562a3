// Package listing renders monthly title listings in a browser session,
// expands their "load more" pagination and extracts raw items.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// DefaultBaseURL is the advanced title search page.
const DefaultBaseURL = "https://www.imdb.com/search/title/"

// Config controls query construction and every bounded wait.
type Config struct {
	BaseURL       string
	TitleTypes    []string
	PageSize      int
	IncludeAdult  bool
	ExpandTimeout time.Duration
	SettleDelay   time.Duration
	MaxExpansions int
	ItemsTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if len(c.TitleTypes) == 0 {
		c.TitleTypes = []string{"feature", "tv_series"}
	}
	if c.PageSize <= 0 {
		c.PageSize = 250
	}
	if c.ExpandTimeout <= 0 {
		c.ExpandTimeout = 5 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.MaxExpansions <= 0 {
		c.MaxExpansions = 200
	}
	if c.ItemsTimeout <= 0 {
		c.ItemsTimeout = 10 * time.Second
	}
	return c
}

// BuildURL returns the listing query covering exactly the unit's month.
func BuildURL(cfg Config, unit crawler.WorkUnit) string {
	cfg = cfg.withDefaults()
	first, last := unit.Bounds()
	q := url.Values{}
	q.Set("title_type", strings.Join(cfg.TitleTypes, ","))
	q.Set("release_date", first.Format(time.DateOnly)+","+last.Format(time.DateOnly))
	if cfg.IncludeAdult {
		q.Set("adult", "include")
	}
	q.Set("count", strconv.Itoa(cfg.PageSize))
	return cfg.BaseURL + "?" + q.Encode()
}

// Extractor drives one session through a listing page.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExtractor builds an Extractor.
func NewExtractor(cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg.withDefaults(), logger: logger, sleep: sleepContext}
}

// Extract loads the unit's listing, expands it and parses the items.
// Errors wrap crawler.ErrInteraction or crawler.ErrSessionFatal.
func (e *Extractor) Extract(ctx context.Context, s crawler.Session, unit crawler.WorkUnit) ([]crawler.RawListingItem, error) {
	target := BuildURL(e.cfg, unit)
	log := e.logger.With(zap.String("unit", unit.String()))

	if err := s.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", unit, err)
	}
	clicks, err := e.expand(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", unit, err)
	}
	log.Debug("listing expanded", zap.Int("clicks", clicks))

	if err := s.WaitFor(ctx, ItemSelector, e.cfg.ItemsTimeout); err != nil {
		return nil, fmt.Errorf("wait for items %s: %w", unit, err)
	}
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", unit, err)
	}
	items, err := Parse(html, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrInteraction, err)
	}
	return items, nil
}

// expand clicks the "load more" control until it stops appearing within
// the per-attempt timeout or the click budget runs out.
func (e *Extractor) expand(ctx context.Context, s crawler.Session) (int, error) {
	for clicks := 0; clicks < e.cfg.MaxExpansions; clicks++ {
		if err := s.WaitFor(ctx, SeeMoreSelector, e.cfg.ExpandTimeout); err != nil {
			if errors.Is(err, crawler.ErrSessionFatal) || ctx.Err() != nil {
				return clicks, err
			}
			return clicks, nil
		}
		if err := s.Click(ctx, SeeMoreSelector); err != nil {
			return clicks, err
		}
		if err := e.sleep(ctx, e.cfg.SettleDelay); err != nil {
			return clicks + 1, fmt.Errorf("%w: %w", crawler.ErrInteraction, err)
		}
	}
	e.logger.Warn("expansion budget exhausted", zap.Int("max_expansions", e.cfg.MaxExpansions))
	return e.cfg.MaxExpansions, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
