package capability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/aegis/internal/types"
)

// Catalog is the on-disk capability definition file: the capabilities the
// deployment exposes plus their fallback chains.
type Catalog struct {
	Capabilities []Capability        `yaml:"capabilities"`
	Fallbacks    map[string][]string `yaml:"fallbacks,omitempty"`
}

// LoadCatalog reads a capability catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
			fmt.Sprintf("read capability catalog %s", path), err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML and validates every entry.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "parse capability catalog", err)
	}

	names := make(map[string]bool, len(catalog.Capabilities))
	for _, c := range catalog.Capabilities {
		if c.Name == "" {
			return nil, types.NewError(types.CONFIG_PARSE_FAILED, "catalog capability with empty name")
		}
		if len(c.Args) == 0 {
			return nil, types.NewError(types.CONFIG_PARSE_FAILED,
				fmt.Sprintf("catalog capability %q has no argument template", c.Name))
		}
		if names[c.Name] {
			return nil, types.NewError(types.CONFIG_PARSE_FAILED,
				fmt.Sprintf("duplicate capability %q in catalog", c.Name))
		}
		names[c.Name] = true
	}

	for primary, chain := range catalog.Fallbacks {
		if !names[primary] {
			return nil, types.NewError(types.CONFIG_PARSE_FAILED,
				fmt.Sprintf("fallback chain references unknown capability %q", primary))
		}
		for _, sub := range chain {
			if !names[sub] {
				return nil, types.NewError(types.CONFIG_PARSE_FAILED,
					fmt.Sprintf("fallback chain for %q references unknown capability %q", primary, sub))
			}
		}
	}
	return &catalog, nil
}

// Build registers every catalog capability and constructs the fallback
// registry, verifying the chains are acyclic.
func (c *Catalog) Build() (*Registry, *FallbackRegistry, error) {
	registry := NewRegistry()
	for _, capDef := range c.Capabilities {
		if err := registry.Register(capDef); err != nil {
			return nil, nil, err
		}
	}
	fallbacks, err := NewFallbackRegistry(c.Fallbacks)
	if err != nil {
		return nil, nil, err
	}
	return registry, fallbacks, nil
}
