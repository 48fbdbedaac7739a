// Package browser manages Playwright-backed browser sessions for the
// configured browser targets. Only the state processors and the runner use
// it; the orchestration core never touches the browser protocol.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/playwright-community/playwright-go"

	"github.com/loupe-ci/loupe/config"
)

// Session is one launched browser plus the page states are captured on.
type Session struct {
	ID   string
	page playwright.Page

	browser playwright.Browser
}

// Pool lazily launches one session per browser id and reuses it for the
// rest of the run.
type Pool struct {
	cfg *config.Config
	log log.Logger

	mu       sync.Mutex
	pw       *playwright.Playwright
	sessions map[string]*Session
}

// NewPool creates a session pool over the configured browsers. The
// Playwright driver process is started lazily on first use.
func NewPool(cfg *config.Config, logger log.Logger) *Pool {
	if logger == nil {
		logger = log.New()
	}
	return &Pool{
		cfg:      cfg,
		log:      logger,
		sessions: make(map[string]*Session),
	}
}

// Session returns the session for a configured browser id, launching it on
// first use.
func (p *Pool) Session(id string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[id]; ok {
		return s, nil
	}

	bc := p.cfg.ForBrowser(id)
	if bc == nil {
		return nil, fmt.Errorf("browser %q is not configured", id)
	}

	if p.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("starting playwright driver: %w", err)
		}
		p.pw = pw
	}

	browserType, err := p.browserType(bc.Capabilities["browserName"])
	if err != nil {
		return nil, err
	}

	p.log.Debug("Launching browser", "id", id, "browserName", bc.Capabilities["browserName"])
	b, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("launching browser %q: %w", id, err)
	}

	page, err := b.NewPage()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("opening page for browser %q: %w", id, err)
	}

	if bc.WindowSize != "" {
		w, h, err := config.ParseWindowSize(bc.WindowSize)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		if err := page.SetViewportSize(w, h); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("setting viewport for browser %q: %w", id, err)
		}
	}

	s := &Session{ID: id, page: page, browser: b}
	p.sessions[id] = s
	return s, nil
}

func (p *Pool) browserType(name string) (playwright.BrowserType, error) {
	switch strings.ToLower(name) {
	case "chromium", "chrome", "edge":
		return p.pw.Chromium, nil
	case "firefox":
		return p.pw.Firefox, nil
	case "webkit", "safari":
		return p.pw.WebKit, nil
	default:
		return nil, fmt.Errorf("unsupported browserName %q (supported: chromium, firefox, webkit)", name)
	}
}

// Capture navigates the browser to pageURL (resolved against the
// configured root URL when relative) and returns a full-page PNG.
func (p *Pool) Capture(ctx context.Context, browserID, pageURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := p.Session(browserID)
	if err != nil {
		return nil, err
	}

	target, err := p.resolveURL(pageURL)
	if err != nil {
		return nil, err
	}

	if _, err := s.page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return nil, fmt.Errorf("navigating %q to %q: %w", browserID, target, err)
	}

	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("capturing %q at %q: %w", browserID, target, err)
	}
	return data, nil
}

func (p *Pool) resolveURL(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid state url %q: %w", pageURL, err)
	}
	if u.IsAbs() || p.cfg.RootURL == "" {
		return pageURL, nil
	}
	root, err := url.Parse(p.cfg.RootURL)
	if err != nil {
		return "", fmt.Errorf("invalid root url %q: %w", p.cfg.RootURL, err)
	}
	return root.ResolveReference(u).String(), nil
}

// Close shuts down every launched browser and the driver process.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, s := range p.sessions {
		if err := s.browser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing browser %q: %w", id, err)
		}
		delete(p.sessions, id)
	}
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping playwright driver: %w", err)
		}
		p.pw = nil
	}
	return firstErr
}
