// Package pwbrowser drives Chromium through playwright-go.
package pwbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/browser/dom"
	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// Config controls the launched browser.
type Config struct {
	Headless          bool
	UserAgent         string
	ExecPath          string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// Browser owns the playwright driver and one Chromium process.
type Browser struct {
	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *zap.Logger
}

// New starts the playwright driver and launches Chromium.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
		},
	}
	if cfg.ExecPath != "" {
		launchOpts.ExecutablePath = playwright.String(cfg.ExecPath)
	}
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &Browser{cfg: cfg, pw: pw, browser: browser, logger: logger}, nil
}

// NewSession opens an isolated browser context with a single page.
func (b *Browser) NewSession(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := playwright.BrowserNewContextOptions{
		JavaScriptEnabled: playwright.Bool(true),
	}
	if b.cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(b.cfg.UserAgent)
	}
	bctx, err := b.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w: %w", crawler.ErrSessionFatal, err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w: %w", crawler.ErrSessionFatal, err)
	}
	return &Session{cfg: b.cfg, browser: b.browser, bctx: bctx, page: page}, nil
}

// Close shuts down Chromium and the driver.
func (b *Browser) Close() error {
	var errs []error
	if err := b.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := b.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

// Session is one page in its own browser context.
type Session struct {
	cfg     Config
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
}

// Navigate loads url and waits for DOMContentLoaded.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout, err := budget(ctx, s.cfg.NavigationTimeout)
	if err != nil {
		return err
	}
	_, err = s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeout),
	})
	return s.classify("navigate", err)
}

// WaitFor waits until selector is visible.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	_, err = s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms),
	})
	return s.classify("wait for "+selector, err)
}

// Click clicks the first match of selector from script.
func (s *Session) Click(ctx context.Context, selector string) error {
	var res any
	err := s.bounded(ctx, "click "+selector, func() error {
		var err error
		res, err = s.page.Evaluate(dom.ClickScript(selector))
		return err
	})
	if err != nil {
		return err
	}
	if found, _ := res.(bool); !found {
		return fmt.Errorf("click %s: %w: element missing", selector, crawler.ErrInteraction)
	}
	return nil
}

// RunScript evaluates an expression and decodes the result into out.
func (s *Session) RunScript(ctx context.Context, script string, out any) error {
	var res any
	err := s.bounded(ctx, "run script", func() error {
		var err error
		res, err = s.page.Evaluate(script)
		return err
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("run script: %w: %w", crawler.ErrInteraction, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("run script: %w: %w", crawler.ErrInteraction, err)
	}
	return nil
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.bounded(ctx, "content", func() error {
		var err error
		html, err = s.page.Content()
		return err
	})
	if err != nil {
		return "", err
	}
	return html, nil
}

// Close closes the page's browser context.
func (s *Session) Close() error {
	if err := s.bctx.Close(); err != nil {
		return fmt.Errorf("close context: %w", err)
	}
	return nil
}

func (s *Session) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.page.IsClosed() || !s.browser.IsConnected() {
		return fmt.Errorf("%s: %w: %w", op, crawler.ErrSessionFatal, err)
	}
	return fmt.Errorf("%s: %w: %w", op, crawler.ErrInteraction, err)
}

// bounded runs a playwright call that takes no timeout option under the
// action ceiling. When the ceiling or ctx fires first the page is closed,
// which unblocks the call and ends the session.
func (s *Session) bounded(ctx context.Context, op string, fn func() error) error {
	timeout, err := budget(ctx, s.cfg.ActionTimeout)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = withCeiling(ctx, time.Duration(timeout)*time.Millisecond, func() { _ = s.page.Close() }, fn)
	if errors.Is(err, errAborted) {
		return fmt.Errorf("%s: %w: %w", op, crawler.ErrSessionFatal, err)
	}
	return s.classify(op, err)
}

var errAborted = errors.New("call exceeded its ceiling")

// withCeiling waits for fn at most timeout or until ctx ends, calling
// abort on expiry. abort must make fn return.
func withCeiling(ctx context.Context, timeout time.Duration, abort func(), fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		abort()
		return fmt.Errorf("%w: %w", errAborted, context.DeadlineExceeded)
	case <-ctx.Done():
		abort()
		return fmt.Errorf("%w: %w", errAborted, ctx.Err())
	}
}

// budget converts the smaller of timeout and the context deadline into
// playwright's millisecond timeouts.
func budget(ctx context.Context, timeout time.Duration) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	// playwright reads 0 as no timeout.
	if timeout < time.Millisecond {
		return 0, context.DeadlineExceeded
	}
	return float64(timeout.Milliseconds()), nil
}
