// Package browser selects a browser driver by name.
package browser

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/browser/headless"
	"github.com/JakeFAU/media-harvester/internal/browser/pwbrowser"
	"github.com/JakeFAU/media-harvester/internal/browser/rodbrowser"
	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// Supported driver names.
const (
	DriverChromedp   = "chromedp"
	DriverRod        = "rod"
	DriverPlaywright = "playwright"
)

// Config is the driver-independent browser configuration.
type Config struct {
	Driver            string
	Headless          bool
	UserAgent         string
	ExecPath          string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// New launches the configured driver.
func New(cfg Config, logger *zap.Logger) (crawler.Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverChromedp
	}
	logger = logger.With(zap.String("driver", driver))

	switch driver {
	case DriverChromedp:
		return headless.New(headless.Config{
			Headless:          cfg.Headless,
			UserAgent:         cfg.UserAgent,
			ExecPath:          cfg.ExecPath,
			NavigationTimeout: cfg.NavigationTimeout,
			ActionTimeout:     cfg.ActionTimeout,
		}, logger)
	case DriverRod:
		return rodbrowser.New(rodbrowser.Config{
			Headless:          cfg.Headless,
			UserAgent:         cfg.UserAgent,
			ExecPath:          cfg.ExecPath,
			NavigationTimeout: cfg.NavigationTimeout,
			ActionTimeout:     cfg.ActionTimeout,
		}, logger)
	case DriverPlaywright:
		return pwbrowser.New(pwbrowser.Config{
			Headless:          cfg.Headless,
			UserAgent:         cfg.UserAgent,
			ExecPath:          cfg.ExecPath,
			NavigationTimeout: cfg.NavigationTimeout,
			ActionTimeout:     cfg.ActionTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}
