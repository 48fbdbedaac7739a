// Package reader discovers test suites and builds the suite tree the
// orchestrator runs against.
package reader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/loupe-ci/loupe/config"
	"github.com/loupe-ci/loupe/suite"
)

// ManifestSuffix is the filename suffix suite manifests are discovered by.
const ManifestSuffix = ".suite.yaml"

// Options control a single discovery pass.
type Options struct {
	Paths []string       // files or directories to discover manifests in
	Grep  *regexp.Regexp // optional full-name filter applied after discovery
}

// Reader produces a suite tree from test sources.
type Reader interface {
	Discover(ctx context.Context, cfg *config.Config, opts Options) (*suite.Suite, error)
}

// ManifestReader discovers YAML suite manifests on the filesystem.
type ManifestReader struct {
	log log.Logger
}

// NewManifestReader creates a reader logging through the given logger.
func NewManifestReader(logger log.Logger) *ManifestReader {
	if logger == nil {
		logger = log.New()
	}
	return &ManifestReader{log: logger}
}

type manifest struct {
	Suites []suiteDecl `yaml:"suites"`
}

type suiteDecl struct {
	Name   string      `yaml:"name"`
	URL    string      `yaml:"url,omitempty"`
	States []string    `yaml:"states,omitempty"`
	Suites []suiteDecl `yaml:"suites,omitempty"`
}

// Discover reads every manifest under opts.Paths, builds the suite tree and
// applies the grep filter when a pattern is supplied.
func (r *ManifestReader) Discover(ctx context.Context, cfg *config.Config, opts Options) (*suite.Suite, error) {
	files, err := r.collectManifests(opts.Paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s manifests found under %v", ManifestSuffix, opts.Paths)
	}

	root := suite.NewRoot()
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.loadManifest(file, root); err != nil {
			return nil, err
		}
	}
	r.log.Debug("Discovered suites", "manifests", len(files), "topLevel", len(root.Children))

	if opts.Grep != nil {
		suite.Grep(root, opts.Grep)
		r.log.Debug("Applied grep filter", "pattern", opts.Grep.String(), "topLevel", len(root.Children))
	}

	return root, nil
}

func (r *ManifestReader) collectManifests(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("reading test source %q: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ManifestSuffix) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning test source %q: %w", p, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (r *ManifestReader) loadManifest(path string, root *suite.Suite) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading manifest %q: %w", path, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parsing manifest %q: %w", path, err)
	}
	if len(m.Suites) == 0 {
		return fmt.Errorf("manifest %q declares no suites", path)
	}
	for _, decl := range m.Suites {
		node, err := buildSuite(decl, path)
		if err != nil {
			return err
		}
		root.AddChild(node)
	}
	return nil
}

func buildSuite(decl suiteDecl, path string) (*suite.Suite, error) {
	if strings.TrimSpace(decl.Name) == "" {
		return nil, fmt.Errorf("manifest %q: suite name must not be empty", path)
	}
	if len(decl.States) > 0 && len(decl.Suites) > 0 {
		return nil, fmt.Errorf("manifest %q: suite %q declares both states and sub-suites", path, decl.Name)
	}
	node := suite.New(decl.Name)
	node.URL = decl.URL
	for _, state := range decl.States {
		node.AddState(state)
	}
	for _, child := range decl.Suites {
		sub, err := buildSuite(child, path)
		if err != nil {
			return nil, err
		}
		node.AddChild(sub)
	}
	return node, nil
}
