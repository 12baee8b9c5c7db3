// Package pipelines exposes the pipeline catalog consumed at submission.
// The catalog itself is an external concern; this file-backed
// implementation covers single-node deployments and tests.
package pipelines

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("pipeline not found")

// Pipeline describes one runnable workflow: where the workflow code lives
// and how the engine should be invoked.
type Pipeline struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Repo        string            `yaml:"repo"`
	Revision    string            `yaml:"revision,omitempty"`
	Profile     string            `yaml:"profile,omitempty"`
	Defaults    map[string]string `yaml:"defaults,omitempty"`
}

func (p Pipeline) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("pipeline id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("pipeline name is required")
	}
	if strings.TrimSpace(p.Repo) == "" {
		return errors.New("pipeline repo is required")
	}
	return nil
}

// Catalog resolves pipeline ids for job submission.
type Catalog interface {
	Get(id string) (Pipeline, error)
	List() []Pipeline
}

type catalogFile struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

// FileCatalog is an immutable catalog parsed from a YAML file at startup.
type FileCatalog struct {
	byID  map[string]Pipeline
	order []Pipeline
}

func ParseCatalog(input []byte) (*FileCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(input, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(file.Pipelines) == 0 {
		return nil, errors.New("catalog has no pipelines")
	}
	byID := make(map[string]Pipeline, len(file.Pipelines))
	for i, p := range file.Pipelines {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("pipeline %d: %w", i, err)
		}
		if _, ok := byID[p.ID]; ok {
			return nil, fmt.Errorf("duplicate pipeline id %q", p.ID)
		}
		byID[p.ID] = p
	}
	return &FileCatalog{byID: byID, order: file.Pipelines}, nil
}

func LoadCatalog(path string) (*FileCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func (c *FileCatalog) Get(id string) (Pipeline, error) {
	if c == nil {
		return Pipeline{}, ErrNotFound
	}
	p, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Pipeline{}, ErrNotFound
	}
	return p, nil
}

func (c *FileCatalog) List() []Pipeline {
	if c == nil {
		return nil
	}
	out := make([]Pipeline, len(c.order))
	copy(out, c.order)
	return out
}
