// Package rodbrowser drives Chrome through go-rod.
package rodbrowser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
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

// Browser wraps one rod-controlled browser process.
type Browser struct {
	cfg      Config
	browser  *rod.Browser
	launcher *launcher.Launcher
	logger   *zap.Logger
}

// New launches the browser and connects to it.
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

	l := launcher.New().Headless(cfg.Headless)
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &Browser{cfg: cfg, browser: b, launcher: l, logger: logger}, nil
}

// NewSession opens a new page.
func (b *Browser) NewSession(ctx context.Context) (crawler.Session, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w: %w", crawler.ErrSessionFatal, err)
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("set user-agent: %w: %w", crawler.ErrSessionFatal, err)
		}
	}
	return &Session{page: page, browser: b.browser, cfg: b.cfg}, nil
}

// Close closes the browser and kills the launched process.
func (b *Browser) Close() error {
	var closeErr error
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			closeErr = fmt.Errorf("close browser: %w", err)
		}
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return closeErr
}

// Session is one rod page.
type Session struct {
	page    *rod.Page
	browser *rod.Browser
	cfg     Config
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.with(ctx, s.cfg.NavigationTimeout, "navigate", func(p *rod.Page) error {
		if err := p.Navigate(url); err != nil {
			return err
		}
		return p.WaitLoad()
	})
}

// WaitFor waits until selector exists and is visible.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return s.with(ctx, timeout, "wait for "+selector, func(p *rod.Page) error {
		el, err := p.Element(selector)
		if err != nil {
			return err
		}
		return el.WaitVisible()
	})
}

// Click clicks the first match of selector from script.
func (s *Session) Click(ctx context.Context, selector string) error {
	var found bool
	err := s.with(ctx, s.cfg.ActionTimeout, "click "+selector, func(p *rod.Page) error {
		res, err := p.Evaluate(rod.Eval(dom.ClickFunc(selector)))
		if err != nil {
			return err
		}
		found = res.Value.Bool()
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("click %s: %w: element missing", selector, crawler.ErrInteraction)
	}
	return nil
}

// RunScript evaluates an expression and decodes the result into out.
func (s *Session) RunScript(ctx context.Context, script string, out any) error {
	return s.with(ctx, s.cfg.ActionTimeout, "run script", func(p *rod.Page) error {
		res, err := p.Evaluate(rod.Eval(dom.AsFunc(script)))
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return res.Value.Unmarshal(out)
	})
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.with(ctx, s.cfg.ActionTimeout, "outer html", func(p *rod.Page) error {
		var err error
		html, err = p.HTML()
		return err
	})
	return html, err
}

// Close closes the page.
func (s *Session) Close() error {
	if err := s.page.Close(); err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}

func (s *Session) with(ctx context.Context, timeout time.Duration, op string, fn func(p *rod.Page) error) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := fn(s.page.Context(runCtx)); err != nil {
		return s.classify(op, err)
	}
	return nil
}

// classify pings the browser after a failure; an unreachable browser is
// fatal for the session, anything else only costs the current unit.
func (s *Session) classify(op string, err error) error {
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, pingErr := (proto.BrowserGetVersion{}).Call(s.browser.Context(pingCtx)); pingErr != nil {
		return fmt.Errorf("%s: %w: %w", op, crawler.ErrSessionFatal, err)
	}
	return fmt.Errorf("%s: %w: %w", op, crawler.ErrInteraction, err)
}
