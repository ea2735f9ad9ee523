package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/paramgraph/internal/param"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Sources lists CUE parameter source files, unified as one package.
	// Paths are relative to the scenario file location.
	Sources []string `yaml:"sources"`

	// Strict makes failed cross-checks fatal to the build.
	Strict bool `yaml:"strict,omitempty"`

	// Aliases are merged with the alias block of the sources.
	Aliases map[string]string `yaml:"aliases,omitempty"`

	// Documents is the corpus checked by the validator.
	Documents []DocumentSpec `yaml:"documents,omitempty"`

	// Bindings are references resolved and rendered by a binder.
	Bindings []BindingStep `yaml:"bindings,omitempty"`

	// Expect names the build failure the scenario must produce.
	// If nil, the build must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Assertions validate the snapshot, report and bindings.
	Assertions []Assertion `yaml:"assertions"`
}

// DocumentSpec is one corpus document. The kind follows the name's extension.
type DocumentSpec struct {
	Name string `yaml:"name"`
	Body string `yaml:"body"`
}

// BindingStep is one reference bound at runtime. Ref is a dotted path;
// Category and Key form a pair reference instead.
type BindingStep struct {
	Ref      string `yaml:"ref,omitempty"`
	Category string `yaml:"category,omitempty"`
	Key      string `yaml:"key,omitempty"`
	Format   string `yaml:"format,omitempty"`
}

// ExpectClause specifies an expected build failure.
type ExpectClause struct {
	// Error is one of the BuildError kinds: invalid, duplicate, cycle,
	// dangling, cross_check or alias.
	Error string `yaml:"error"`
}

// Assertion validates one property of a run.
type Assertion struct {
	Type string `yaml:"type"`

	// Path is the parameter path (value, unavailable, provenance).
	Path string `yaml:"path,omitempty"`

	// Value is the expected value (value). Numbers compare within Tolerance.
	Value any `yaml:"value,omitempty"`

	// Tolerance bounds numeric comparison (value). Default 1e-9.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Cause is the expected root failing entry (unavailable).
	Cause string `yaml:"cause,omitempty"`

	// Deps are the expected consumed dependencies (provenance).
	Deps []string `yaml:"deps,omitempty"`

	// Entries is the expected relative evaluation order (order).
	Entries []string `yaml:"entries,omitempty"`

	// Count is the expected number of occurrences
	// (warning_count, unresolved, strategy_count).
	Count int `yaml:"count"`

	// Strategy names a resolution strategy (strategy_count).
	Strategy string `yaml:"strategy,omitempty"`

	// Document and Line narrow an unresolved assertion to one location.
	Document string `yaml:"document,omitempty"`
	Line     int    `yaml:"line,omitempty"`

	// Ref and Text identify a binding and its expected rendering (binding).
	Ref  string `yaml:"ref,omitempty"`
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertValue         = "value"
	AssertUnavailable   = "unavailable"
	AssertProvenance    = "provenance"
	AssertOrder         = "order"
	AssertWarningCount  = "warning_count"
	AssertUnresolved    = "unresolved"
	AssertStrategyCount = "strategy_count"
	AssertBinding       = "binding"
)

// LoadScenario reads and parses a scenario YAML file, resolving source
// paths relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving source paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, src := range scenario.Sources {
		if !filepath.IsAbs(src) && basePath != "" {
			scenario.Sources[i] = filepath.Join(basePath, src)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Sources) == 0 {
		return fmt.Errorf("sources list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 && s.Expect == nil {
		return fmt.Errorf("assertions list is required unless expect names a build error")
	}

	for _, src := range s.Sources {
		if _, err := os.Stat(src); os.IsNotExist(err) {
			return fmt.Errorf("source file not found: %s", src)
		}
	}

	if s.Expect != nil && !isBuildErrorKind(s.Expect.Error) {
		return fmt.Errorf("expect.error: unknown build error %q", s.Expect.Error)
	}

	seen := make(map[string]bool)
	for i, doc := range s.Documents {
		if doc.Name == "" {
			return fmt.Errorf("documents[%d]: name is required", i)
		}
		if seen[doc.Name] {
			return fmt.Errorf("documents[%d]: duplicate name %q", i, doc.Name)
		}
		seen[doc.Name] = true
	}

	for i, b := range s.Bindings {
		if b.Ref == "" && (b.Category == "" || b.Key == "") {
			return fmt.Errorf("bindings[%d]: ref or category and key are required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertValue, AssertUnavailable, AssertProvenance:
		if _, err := param.ParsePath(a.Path); err != nil {
			return fmt.Errorf("assertions[%d]: %s needs a valid path: %w", index, a.Type, err)
		}
		if a.Type == AssertValue && a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for value", index)
		}
	case AssertOrder:
		if len(a.Entries) < 2 {
			return fmt.Errorf("assertions[%d]: order needs at least two entries", index)
		}
	case AssertWarningCount, AssertUnresolved:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertStrategyCount:
		if a.Strategy == "" {
			return fmt.Errorf("assertions[%d]: strategy is required for strategy_count", index)
		}
	case AssertBinding:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for binding", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
