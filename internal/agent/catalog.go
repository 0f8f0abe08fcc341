package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"gopkg.in/yaml.v3"
)

const DefaultTimeout = 2 * time.Minute

// Definition describes one agent available for selection.
type Definition struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Timeout     time.Duration `yaml:"timeout" json:"-"`
}

// Catalog is the set of known agents, including the consolidator.
type Catalog struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	Agents         []Definition  `yaml:"agents"`

	byID map[string]Definition
}

// ParseCatalog decodes a YAML catalog and validates it.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing agent catalog: %w", err)
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}

	c.byID = make(map[string]Definition, len(c.Agents))
	for _, def := range c.Agents {
		if def.ID == "" {
			return nil, fmt.Errorf("agent catalog: agent without id")
		}
		if _, dup := c.byID[def.ID]; dup {
			return nil, fmt.Errorf("agent catalog: duplicate agent %q", def.ID)
		}
		c.byID[def.ID] = def
	}
	if _, ok := c.byID[model.ConsolidatorAgentID]; !ok {
		return nil, fmt.Errorf("agent catalog: missing %q", model.ConsolidatorAgentID)
	}
	return &c, nil
}

// LoadCatalog reads the catalog at path, or parses fallback when path is empty.
func LoadCatalog(path string, fallback []byte) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(fallback)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent catalog: %w", err)
	}
	return ParseCatalog(data)
}

func (c *Catalog) Lookup(id string) (Definition, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// Timeout returns the per-invocation timeout for agent id.
func (c *Catalog) Timeout(id string) time.Duration {
	if def, ok := c.byID[id]; ok && def.Timeout > 0 {
		return def.Timeout
	}
	return c.DefaultTimeout
}

// Validate rejects selections naming agents the catalog does not know.
func (c *Catalog) Validate(ids []string) error {
	for _, id := range ids {
		if _, ok := c.byID[id]; !ok {
			return fmt.Errorf("%w: %q", domain.ErrUnknownAgent, id)
		}
	}
	return nil
}

// Selectable lists the agents a caller may choose, excluding the consolidator.
func (c *Catalog) Selectable() []Definition {
	out := make([]Definition, 0, len(c.Agents))
	for _, def := range c.Agents {
		if def.ID != model.ConsolidatorAgentID {
			out = append(out, def)
		}
	}
	return out
}
