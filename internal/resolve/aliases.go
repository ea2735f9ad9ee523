package resolve

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// AliasTable maps alias paths to canonical paths.
// Lookup is exact and case-sensitive. Targets are not re-aliased.
type AliasTable map[string]string

// Lookup returns the canonical target for alias.
func (t AliasTable) Lookup(alias string) (string, bool) {
	target, ok := t[alias]
	return target, ok
}

// Aliases returns the alias paths in sorted order.
func (t AliasTable) Aliases() []string {
	return slices.Sorted(maps.Keys(t))
}

// Merge returns a table holding t's rules plus other's.
// A conflicting redefinition is an error.
func (t AliasTable) Merge(other AliasTable) (AliasTable, error) {
	out := make(AliasTable, len(t)+len(other))
	maps.Copy(out, t)
	for _, alias := range other.Aliases() {
		target := other[alias]
		if existing, ok := out[alias]; ok && existing != target {
			return nil, fmt.Errorf("alias %q maps to both %q and %q", alias, existing, target)
		}
		out[alias] = target
	}
	return out, nil
}

// ParseAliases decodes a flat YAML mapping of alias path to canonical path.
func ParseAliases(data []byte) (AliasTable, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}
	table := make(AliasTable, len(raw))
	for alias, target := range raw {
		if alias == "" || target == "" {
			return nil, fmt.Errorf("parse aliases: empty alias or target (%q: %q)", alias, target)
		}
		table[alias] = target
	}
	return table, nil
}

// LoadAliases reads an alias table file.
func LoadAliases(path string) (AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load aliases: %w", err)
	}
	table, err := ParseAliases(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}
