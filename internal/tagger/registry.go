package tagger

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"gopkg.in/yaml.v3"
)

//go:embed default_registry.yaml
var defaultRegistryYAML []byte

// PatternGroup is a named list of compiled patterns.
type PatternGroup struct {
	Name     string
	Patterns []*regexp.Regexp
}

// NumberPattern tags every match of Pattern with Type.
type NumberPattern struct {
	Type    string
	Pattern *regexp.Regexp
}

// QueryCategory is one entry of the ordered categorisation table.
type QueryCategory struct {
	Name     Category
	Keywords []string
}

// Registry holds every pattern table the tagger uses. It is built once at
// startup and read-only afterwards, so one Registry can back any number of
// concurrent Tag calls.
type Registry struct {
	Categories      []PatternGroup
	Dosages         []*regexp.Regexp
	VitalSigns      []PatternGroup
	Numbers         []NumberPattern
	QueryCategories []QueryCategory
}

type groupSpec struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

type registryFile struct {
	Categories []groupSpec `yaml:"categories"`
	Dosages    []string    `yaml:"dosages"`
	VitalSigns []groupSpec `yaml:"vital_signs"`
	Numbers    []struct {
		Type    string `yaml:"type"`
		Pattern string `yaml:"pattern"`
	} `yaml:"numbers"`
	QueryCategories []struct {
		Name     string   `yaml:"name"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"query_categories"`
}

// DefaultRegistry returns the built-in registry.
func DefaultRegistry() *Registry {
	reg, err := ParseRegistry(defaultRegistryYAML)
	if err != nil {
		panic(fmt.Sprintf("tagger: built-in registry is invalid: %v", err))
	}
	return reg
}

// LoadRegistry reads a registry YAML file. An empty path returns the default.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Errorf(apperr.ConfigError, "tagger.LoadRegistry", "read %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry compiles a registry from YAML. All patterns are made
// case-insensitive. Any bad pattern is a ConfigError.
func ParseRegistry(data []byte) (*Registry, error) {
	const op = "tagger.ParseRegistry"
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperr.Errorf(apperr.ConfigError, op, "parse registry: %w", err)
	}

	reg := &Registry{}
	var err error
	if reg.Categories, err = compileGroups(f.Categories); err != nil {
		return nil, apperr.Wrap(apperr.ConfigError, op, err)
	}
	if reg.VitalSigns, err = compileGroups(f.VitalSigns); err != nil {
		return nil, apperr.Wrap(apperr.ConfigError, op, err)
	}
	for _, p := range f.Dosages {
		re, err := compile(p)
		if err != nil {
			return nil, apperr.Wrap(apperr.ConfigError, op, err)
		}
		reg.Dosages = append(reg.Dosages, re)
	}
	for _, n := range f.Numbers {
		re, err := compile(n.Pattern)
		if err != nil {
			return nil, apperr.Wrap(apperr.ConfigError, op, err)
		}
		reg.Numbers = append(reg.Numbers, NumberPattern{Type: n.Type, Pattern: re})
	}
	for _, q := range f.QueryCategories {
		if q.Name == "" {
			return nil, apperr.New(apperr.ConfigError, op, "query category without a name")
		}
		kw := make([]string, 0, len(q.Keywords))
		for _, k := range q.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		reg.QueryCategories = append(reg.QueryCategories, QueryCategory{Name: Category(q.Name), Keywords: kw})
	}
	return reg, nil
}

func compileGroups(specs []groupSpec) ([]PatternGroup, error) {
	groups := make([]PatternGroup, 0, len(specs))
	for _, g := range specs {
		if g.Name == "" {
			return nil, fmt.Errorf("pattern group without a name")
		}
		pg := PatternGroup{Name: g.Name}
		for _, p := range g.Patterns {
			re, err := compile(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", g.Name, err)
			}
			pg.Patterns = append(pg.Patterns, re)
		}
		groups = append(groups, pg)
	}
	return groups, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return re, nil
}
