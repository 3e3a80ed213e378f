// Package registrysource loads agents and skill files from a directory.
//
// A directory may hold a single catalog file (catalog.yaml, catalog.yml or
// catalog.toml) and/or markdown files with YAML frontmatter:
//
//	agents/<id>.md              one agent per file
//	skills/<id>.md              one skill file per file
//	skills/<id>/SKILL.md        one skill file per directory
//
// Records from the catalog come first, then markdown records in name order.
package registrysource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// maxRecordFileSize is the maximum allowed size of one definition file (1 MiB).
const maxRecordFileSize = 1 << 20

var catalogNames = []string{"catalog.yaml", "catalog.yml", "catalog.toml"}

// FileSource implements domain.RegistrySource over a directory. Every call
// rereads the directory, so edits take effect on the next registry load.
type FileSource struct {
	dir string
}

// NewFileSource creates a source reading dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Name() string { return "file:" + s.dir }

// Dir returns the watched directory.
func (s *FileSource) Dir() string { return s.dir }

// ListAgents implements domain.RegistrySource.
func (s *FileSource) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	cat, err := s.catalog()
	if err != nil {
		return nil, err
	}
	agents := make([]domain.Agent, 0, len(cat.Agents))
	for _, a := range cat.Agents {
		agents = append(agents, domain.Agent(a))
	}

	paths, err := markdownFiles(filepath.Join(s.dir, "agents"), false)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var a agentDoc
		body, err := readFrontmatter(path, &a)
		if err != nil {
			return nil, err
		}
		if a.ID == "" {
			a.ID = stem(path)
		}
		if a.Description == "" {
			a.Description = firstParagraph(body)
		}
		agents = append(agents, domain.Agent(a))
	}

	if len(agents) == 0 {
		return nil, fmt.Errorf("no agent definitions in %s", s.dir)
	}
	return agents, nil
}

// ListSkillFiles implements domain.RegistrySource.
func (s *FileSource) ListSkillFiles(ctx context.Context) ([]domain.SkillFile, error) {
	cat, err := s.catalog()
	if err != nil {
		return nil, err
	}
	skills := append([]domain.SkillFile(nil), cat.SkillFiles...)

	paths, err := markdownFiles(filepath.Join(s.dir, "skills"), true)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var sf domain.SkillFile
		body, err := readFrontmatter(path, &sf)
		if err != nil {
			return nil, err
		}
		if sf.ID == "" {
			sf.ID = skillID(path)
		}
		if sf.Name == "" {
			sf.Name = sf.ID
		}
		if sf.Description == "" {
			sf.Description = firstParagraph(body)
		}
		sf.Path = path
		skills = append(skills, sf)
	}
	return skills, nil
}

// catalogFile is the single-file layout.
type catalogFile struct {
	Agents     []agentDoc         `yaml:"agents"      toml:"agents"`
	SkillFiles []domain.SkillFile `yaml:"skill_files" toml:"skill_files"`
}

func (s *FileSource) catalog() (catalogFile, error) {
	if _, err := os.Stat(s.dir); err != nil {
		return catalogFile{}, fmt.Errorf("registry dir %s: %w", s.dir, err)
	}
	var cat catalogFile
	for _, name := range catalogNames {
		path := filepath.Join(s.dir, name)
		data, err := readLimited(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return catalogFile{}, err
		}
		if strings.HasSuffix(name, ".toml") {
			if _, err := toml.Decode(string(data), &cat); err != nil {
				return catalogFile{}, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cat); err != nil {
			return catalogFile{}, fmt.Errorf("parse %s: %w", path, err)
		}
		return cat, nil
	}
	return cat, nil
}

// agentDoc decodes an agent with enabled defaulting to true.
type agentDoc domain.Agent

func (a *agentDoc) UnmarshalYAML(n *yaml.Node) error {
	p := domain.Agent{Enabled: true}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*a = agentDoc(p)
	return nil
}

// UnmarshalTOML receives the table as a map. The TOML and JSON field names
// of domain.Agent agree, so the map is decoded through JSON.
func (a *agentDoc) UnmarshalTOML(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p := domain.Agent{Enabled: true}
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	*a = agentDoc(p)
	return nil
}

// markdownFiles lists *.md in dir, and <sub>/SKILL.md when nested is set.
// A missing dir yields no files.
func markdownFiles(dir string, nested bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		switch {
		case e.IsDir() && nested:
			candidate := filepath.Join(dir, e.Name(), "SKILL.md")
			if _, err := os.Stat(candidate); err == nil {
				paths = append(paths, candidate)
			}
		case !e.IsDir() && strings.HasSuffix(e.Name(), ".md"):
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxRecordFileSize {
		return nil, fmt.Errorf("%s too large (%d bytes, max %d)", path, info.Size(), maxRecordFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// readFrontmatter decodes the --- delimited YAML header of path into out and
// returns the markdown body.
func readFrontmatter(path string, out any) (string, error) {
	data, err := readLimited(path)
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, "---") {
		return "", fmt.Errorf("parse %s: missing frontmatter delimiter", path)
	}
	front, body, ok := strings.Cut(content[3:], "\n---")
	if !ok {
		return "", fmt.Errorf("parse %s: missing closing frontmatter delimiter", path)
	}
	if err := yaml.Unmarshal([]byte(front), out); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	return strings.TrimSpace(body), nil
}

func firstParagraph(body string) string {
	para, _, _ := strings.Cut(body, "\n\n")
	lines := strings.Fields(strings.TrimLeft(para, "# "))
	return strings.Join(lines, " ")
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func skillID(path string) string {
	if filepath.Base(path) == "SKILL.md" {
		return filepath.Base(filepath.Dir(path))
	}
	return stem(path)
}

var _ domain.RegistrySource = (*FileSource)(nil)
