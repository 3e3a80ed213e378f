package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includeResolver overlays config fragments onto a Config. Fragments are
// decoded strictly: a key that names no router setting is an error, so a
// misspelled section in a split config fails loudly instead of being
// dropped.
type includeResolver struct {
	root    string          // directory of the main config; includes may not leave it
	visited map[string]bool // absolute paths already overlaid
}

func newIncludeResolver(mainPath string) *includeResolver {
	return &includeResolver{
		root:    filepath.Dir(mainPath),
		visited: map[string]bool{mainPath: true},
	}
}

// apply overlays every fragment named by cfg.Includes, in order, resolving
// relative entries against dir.
func (r *includeResolver) apply(cfg *Config, dir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	entries := cfg.Includes
	cfg.Includes = nil

	for _, entry := range entries {
		paths, err := r.expand(entry, dir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if r.visited[p] {
				return fmt.Errorf("config includes: circular include detected for %q", p)
			}
			r.visited[p] = true
			if err := r.overlay(cfg, p, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// expand turns one includes entry into absolute file paths. An entry may be
// a file, a glob, or a directory, which contributes its *.yaml and *.yml
// files in name order. A missing literal file is returned so the read
// reports it; a glob with no match contributes nothing.
func (r *includeResolver) expand(entry, dir string) ([]string, error) {
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(dir, entry)
	}
	entry, err := filepath.Abs(entry)
	if err != nil {
		return nil, fmt.Errorf("config includes: abs path %q: %w", entry, err)
	}
	if escapes(r.root, entry) {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", entry)
	}

	if info, err := os.Stat(entry); err == nil && info.IsDir() {
		var out []string
		for _, ext := range []string{"*.yaml", "*.yml"} {
			m, err := filepath.Glob(filepath.Join(entry, ext))
			if err != nil {
				return nil, fmt.Errorf("config includes: glob %q: %w", entry, err)
			}
			out = append(out, m...)
		}
		slices.Sort(out)
		return out, nil
	}

	matches, err := filepath.Glob(entry)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", entry, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(entry, "*?[") {
		return []string{entry}, nil
	}
	return matches, nil
}

// escapes reports whether path lies outside root.
func escapes(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *includeResolver) overlay(cfg *Config, path string, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	if touchesTokens(data) {
		if err := validateSecretFile(path); err != nil {
			return fmt.Errorf("config includes: %w", err)
		}
	}

	if len(cfg.Includes) > 0 {
		return r.apply(cfg, filepath.Dir(path), depth)
	}
	return nil
}

// touchesTokens reports whether a fragment sets gateway bearer tokens.
func touchesTokens(data []byte) bool {
	var frag struct {
		Gateway struct {
			Auth struct {
				Tokens []TokenConfig `yaml:"tokens"`
			} `yaml:"auth"`
		} `yaml:"gateway"`
	}
	if err := yaml.Unmarshal(data, &frag); err != nil {
		return false
	}
	return len(frag.Gateway.Auth.Tokens) > 0
}

// validateSecretFile rejects fragments carrying bearer tokens that other
// users can read.
func validateSecretFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		return fmt.Errorf("config file %s holds gateway tokens but has permissions %o (want 0600)", path, mode)
	}
	return nil
}
