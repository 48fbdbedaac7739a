// Package processor implements the state processors that decide what a run
// does with each captured state: compare it against a stored reference
// ("test") or write it as the new reference ("update").
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/loupe-ci/loupe/config"
	"github.com/loupe-ci/loupe/suite"
)

// ErrNoReference marks a state that has no stored reference image yet.
var ErrNoReference = errors.New("no reference image")

// StateRef identifies one state capture: which browser, which suite, which
// state.
type StateRef struct {
	Browser string
	Suite   *suite.Suite
	State   string
}

// StateResult is the outcome of processing one state.
type StateResult struct {
	Ref           StateRef
	ReferencePath string
	Equal         bool // capture matched the reference (test mode)
	Updated       bool // reference was (re)written (update mode)
	NoReference   bool // no reference existed to compare against
}

// Capturer produces a PNG capture of a state in a given browser. The
// browser session pool implements it; tests substitute their own.
type Capturer interface {
	Capture(ctx context.Context, browserID, pageURL string) ([]byte, error)
	Close() error
}

// StateProcessor is the strategy object a runner hands every state to.
type StateProcessor interface {
	Prepare(ctx context.Context) error
	ProcessState(ctx context.Context, ref StateRef) (*StateResult, error)
	Close() error
}

// Tester compares captures against stored references. Comparison is exact
// byte equality; anything smarter belongs to a dedicated differ.
type Tester struct {
	cfg *config.Config
	cap Capturer
	log log.Logger
}

// NewTester creates the test-mode processor.
func NewTester(cfg *config.Config, cap Capturer, logger log.Logger) *Tester {
	if logger == nil {
		logger = log.New()
	}
	return &Tester{cfg: cfg, cap: cap, log: logger}
}

func (t *Tester) Prepare(ctx context.Context) error { return nil }

func (t *Tester) ProcessState(ctx context.Context, ref StateRef) (*StateResult, error) {
	data, err := t.cap.Capture(ctx, ref.Browser, ref.Suite.URL)
	if err != nil {
		return nil, fmt.Errorf("capturing state %q: %w", stateName(ref), err)
	}

	result := &StateResult{
		Ref:           ref,
		ReferencePath: t.cfg.ScreenshotPath(ref.Browser, ref.Suite.FullName(), ref.State),
	}

	reference, err := os.ReadFile(result.ReferencePath)
	if errors.Is(err, os.ErrNotExist) {
		t.log.Warn("No reference image", "state", stateName(ref), "path", result.ReferencePath)
		result.NoReference = true
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading reference for %q: %w", stateName(ref), err)
	}

	result.Equal = bytes.Equal(data, reference)
	return result, nil
}

func (t *Tester) Close() error { return t.cap.Close() }

// UpdaterOptions control the update-mode processor.
type UpdaterOptions struct {
	// DiffOnly leaves existing references untouched and only writes the
	// missing ones.
	DiffOnly bool
}

// ScreenUpdater writes captures as new reference images.
type ScreenUpdater struct {
	cfg  *config.Config
	cap  Capturer
	opts UpdaterOptions
	log  log.Logger
}

// NewScreenUpdater creates the update-mode processor.
func NewScreenUpdater(cfg *config.Config, cap Capturer, opts UpdaterOptions, logger log.Logger) *ScreenUpdater {
	if logger == nil {
		logger = log.New()
	}
	return &ScreenUpdater{cfg: cfg, cap: cap, opts: opts, log: logger}
}

func (u *ScreenUpdater) Prepare(ctx context.Context) error { return nil }

func (u *ScreenUpdater) ProcessState(ctx context.Context, ref StateRef) (*StateResult, error) {
	result := &StateResult{
		Ref:           ref,
		ReferencePath: u.cfg.ScreenshotPath(ref.Browser, ref.Suite.FullName(), ref.State),
	}

	if u.opts.DiffOnly {
		if _, err := os.Stat(result.ReferencePath); err == nil {
			result.Equal = true
			return result, nil
		}
	}

	data, err := u.cap.Capture(ctx, ref.Browser, ref.Suite.URL)
	if err != nil {
		return nil, fmt.Errorf("capturing state %q: %w", stateName(ref), err)
	}

	if err := os.MkdirAll(filepath.Dir(result.ReferencePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating reference dir for %q: %w", stateName(ref), err)
	}
	if err := os.WriteFile(result.ReferencePath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing reference for %q: %w", stateName(ref), err)
	}

	u.log.Info("Updated reference", "state", stateName(ref), "path", result.ReferencePath)
	result.Updated = true
	return result, nil
}

func (u *ScreenUpdater) Close() error { return u.cap.Close() }

func stateName(ref StateRef) string {
	return ref.Suite.FullName() + "." + ref.State + "@" + ref.Browser
}
