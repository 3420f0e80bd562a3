// Package headless drives Chrome through the DevTools protocol with chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/browser/dom"
	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// Config controls the browser process and per-call ceilings.
type Config struct {
	Headless          bool
	UserAgent         string
	ExecPath          string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// Browser owns one Chrome process; each session is a tab.
type Browser struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// New launches Chrome and verifies it answers.
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

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// NewSession opens a fresh tab.
func (b *Browser) NewSession(ctx context.Context) (crawler.Session, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	s := &Session{tab: tabCtx, cancel: cancel, cfg: b.cfg}
	if err := s.attach(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w: %w", crawler.ErrSessionFatal, err)
	}
	return s, nil
}

// attach runs the tab's first action. The first chromedp.Run binds the
// tab's event loop to the context it is given, so it must be the tab
// context itself; the ceiling is enforced by canceling the whole tab.
func (s *Session) attach(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("chromedp setup: %w", err)
	}
	timer := time.AfterFunc(s.cfg.ActionTimeout, s.cancel)
	stopForward := forwardCancel(ctx, s.cancel)
	err := chromedp.Run(s.tab, s.setupAction())
	stopForward()
	if !timer.Stop() && err == nil {
		err = context.DeadlineExceeded
	}
	if err == nil && s.tab.Err() != nil {
		err = s.tab.Err()
	}
	if err != nil {
		return fmt.Errorf("chromedp setup: %w", err)
	}
	return nil
}

// Close tears down the chromedp allocator and browser contexts.
func (b *Browser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

// Session is one tab. It must only be used by a single goroutine.
type Session struct {
	tab    context.Context
	cancel context.CancelFunc
	cfg    Config
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	return s.classify("navigate", err)
}

// WaitFor waits until selector is visible.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	return s.classify("wait for "+selector, err)
}

// Click clicks the first match of selector from script.
func (s *Session) Click(ctx context.Context, selector string) error {
	var found bool
	err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(dom.ClickScript(selector), &found))
	if err != nil {
		return s.classify("click "+selector, err)
	}
	if !found {
		return fmt.Errorf("click %s: %w: element missing", selector, crawler.ErrInteraction)
	}
	return nil
}

// RunScript evaluates script and decodes its result into out.
func (s *Session) RunScript(ctx context.Context, script string, out any) error {
	err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(script, out))
	return s.classify("run script", err)
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, s.cfg.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return "", s.classify("outer html", err)
	}
	return html, nil
}

// Close closes the tab.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// classify maps driver errors onto the crawler error taxonomy. A dead tab
// or browser is fatal; everything else only costs the current unit.
func (s *Session) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.tab.Err() != nil ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidTarget) {
		return fmt.Errorf("%s: %w: %w", op, crawler.ErrSessionFatal, err)
	}
	return fmt.Errorf("%s: %w: %w", op, crawler.ErrInteraction, err)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
