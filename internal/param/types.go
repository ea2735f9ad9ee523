package param

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Source values for Parameter.Source.
const (
	SourceCanonical     = "canonical"
	SourceDerivedPrefix = "derived:"
)

// DerivedSource returns the Source string for a derivation entry.
func DerivedSource(entryID string) string {
	return SourceDerivedPrefix + entryID
}

// Path addresses one parameter: (category, key).
type Path struct {
	Category string
	Key      string
}

// P is a shorthand for constructing a Path.
func P(category, key string) Path {
	return Path{Category: category, Key: key}
}

// String returns the dotted form "<category>.<key>".
func (p Path) String() string {
	return p.Category + "." + p.Key
}

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool {
	return p.Category == "" && p.Key == ""
}

// ErrDottedCategory is returned for a category containing '.'. Such a path
// would split differently when parsed back from its dotted form.
var ErrDottedCategory = errors.New("category must not contain '.'")

// Validate reports whether p survives a String/ParsePath round trip.
func (p Path) Validate() error {
	if p.Category == "" || p.Key == "" {
		return fmt.Errorf("invalid parameter path %q: category and key are required", p.String())
	}
	if strings.Contains(p.Category, ".") {
		return fmt.Errorf("invalid parameter path %q: %w", p.String(), ErrDottedCategory)
	}
	return nil
}

// ParsePath splits a dotted path at its first dot.
// "cosmology.H0.planck" → ("cosmology", "H0.planck").
func ParsePath(s string) (Path, error) {
	category, key, ok := strings.Cut(s, ".")
	if !ok || category == "" || key == "" {
		return Path{}, fmt.Errorf("invalid parameter path %q: expected \"<category>.<key>\"", s)
	}
	return Path{Category: category, Key: key}, nil
}

// MustParsePath is like ParsePath but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ComparePaths orders paths by category, then key (byte order).
func ComparePaths(a, b Path) int {
	if c := strings.Compare(a.Category, b.Category); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}

// Experimental holds an optional measured value to compare against.
type Experimental struct {
	Value       Value  `json:"value"`
	Uncertainty Value  `json:"uncertainty,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Metadata is the descriptive part of a parameter.
type Metadata struct {
	Unit         string        `json:"unit,omitempty"`
	Formula      string        `json:"formula,omitempty"`      // display text
	Derivation   string        `json:"derivation,omitempty"`   // human-readable description
	Uncertainty  Value         `json:"uncertainty,omitempty"`  // Number or Text
	Experimental *Experimental `json:"experimental,omitempty"` // optional comparison
	References   []string      `json:"references,omitempty"`
}

// Merge returns m with every empty field filled from fallback.
func (m Metadata) Merge(fallback Metadata) Metadata {
	if m.Unit == "" {
		m.Unit = fallback.Unit
	}
	if m.Formula == "" {
		m.Formula = fallback.Formula
	}
	if m.Derivation == "" {
		m.Derivation = fallback.Derivation
	}
	if m.Uncertainty == nil {
		m.Uncertainty = fallback.Uncertainty
	}
	if m.Experimental == nil {
		m.Experimental = fallback.Experimental
	}
	if len(m.References) == 0 {
		m.References = slices.Clone(fallback.References)
	}
	return m
}

// Parameter is one named value with its metadata.
// Category and Key are carried by the enclosing snapshot maps on the wire.
type Parameter struct {
	Category string `json:"-"`
	Key      string `json:"-"`
	Value    Value  `json:"value"`
	Source   string `json:"source"` // "canonical" or "derived:<id>"
	Metadata
}

// Path returns the parameter's address.
func (p Parameter) Path() Path {
	return Path{Category: p.Category, Key: p.Key}
}

// IsDerived reports whether the parameter was produced by a derivation entry.
func (p Parameter) IsDerived() bool {
	return strings.HasPrefix(p.Source, SourceDerivedPrefix)
}

// Warning is a non-fatal build diagnostic carried downstream in a snapshot.
type Warning struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Paths   []string `json:"paths,omitempty"`
}

// Unavailable records a derived parameter that could not be evaluated.
type Unavailable struct {
	Entry  string `json:"entry"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Cause  string `json:"cause,omitempty"` // root failing entry when propagated
}

// Diagnostics is the build-diagnostics block of a snapshot.
type Diagnostics struct {
	Warnings    []Warning     `json:"warnings"`
	Unavailable []Unavailable `json:"unavailable"`
}

// Snapshot is the immutable, versioned export of the full parameter set.
type Snapshot struct {
	Version         string                          `json:"version"`
	GeneratedAt     time.Time                       `json:"generatedAt"`
	Digest          string                          `json:"digest,omitempty"`
	Categories      map[string]map[string]Parameter `json:"categories"`
	ProvenanceGraph map[string][]string             `json:"provenanceGraph"`
	Diagnostics     Diagnostics                     `json:"diagnostics"`
}

// NewSnapshot returns an empty snapshot with initialised maps.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Categories:      make(map[string]map[string]Parameter),
		ProvenanceGraph: make(map[string][]string),
		Diagnostics: Diagnostics{
			Warnings:    []Warning{},
			Unavailable: []Unavailable{},
		},
	}
}

// Put stores p under its (category, key). Existing entries are replaced.
func (s *Snapshot) Put(p Parameter) {
	if s.Categories == nil {
		s.Categories = make(map[string]map[string]Parameter)
	}
	cat, ok := s.Categories[p.Category]
	if !ok {
		cat = make(map[string]Parameter)
		s.Categories[p.Category] = cat
	}
	cat[p.Key] = p
}

// Lookup returns the parameter at p using exact (case-sensitive) matching.
func (s *Snapshot) Lookup(p Path) (Parameter, bool) {
	if s == nil {
		return Parameter{}, false
	}
	cat, ok := s.Categories[p.Category]
	if !ok {
		return Parameter{}, false
	}
	param, ok := cat[p.Key]
	return param, ok
}

// Paths returns every parameter path in deterministic order.
func (s *Snapshot) Paths() []Path {
	var paths []Path
	for category, keys := range s.Categories {
		for key := range keys {
			paths = append(paths, Path{Category: category, Key: key})
		}
	}
	slices.SortFunc(paths, ComparePaths)
	return paths
}

// Len returns the number of parameters in the snapshot.
func (s *Snapshot) Len() int {
	n := 0
	for _, keys := range s.Categories {
		n += len(keys)
	}
	return n
}

// MarshalJSON implements json.Marshaler using the canonical encoding.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return MarshalSnapshot(s)
}

// MarshalJSON implements json.Marshaler for Parameter.
func (p Parameter) MarshalJSON() ([]byte, error) {
	tree, err := parameterTree(p)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(tree)
}

// wireExperimental mirrors Experimental with raw values for decoding.
type wireExperimental struct {
	Value       json.RawMessage `json:"value"`
	Uncertainty json.RawMessage `json:"uncertainty"`
	Source      string          `json:"source"`
}

// wireParameter mirrors Parameter with raw values for decoding.
// Unknown fields are ignored by encoding/json, which keeps readers
// forward-compatible.
type wireParameter struct {
	Value        json.RawMessage   `json:"value"`
	Source       string            `json:"source"`
	Unit         string            `json:"unit"`
	Formula      string            `json:"formula"`
	Derivation   string            `json:"derivation"`
	Uncertainty  json.RawMessage   `json:"uncertainty"`
	Experimental *wireExperimental `json:"experimental"`
	References   []string          `json:"references"`
}

// UnmarshalJSON implements json.Unmarshaler for Parameter.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	var w wireParameter
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Value) == 0 {
		return fmt.Errorf("parameter is missing \"value\"")
	}
	value, err := UnmarshalValue(w.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	p.Value = value
	p.Source = w.Source
	p.Unit = w.Unit
	p.Formula = w.Formula
	p.Derivation = w.Derivation
	p.References = w.References
	if p.Uncertainty, err = optionalValue(w.Uncertainty); err != nil {
		return fmt.Errorf("uncertainty: %w", err)
	}
	if w.Experimental != nil {
		exp := &Experimental{Source: w.Experimental.Source}
		if exp.Value, err = optionalValue(w.Experimental.Value); err != nil {
			return fmt.Errorf("experimental.value: %w", err)
		}
		if exp.Uncertainty, err = optionalValue(w.Experimental.Uncertainty); err != nil {
			return fmt.Errorf("experimental.uncertainty: %w", err)
		}
		p.Experimental = exp
	}
	return nil
}

func optionalValue(raw json.RawMessage) (Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return UnmarshalValue(raw)
}

// wireSnapshot mirrors Snapshot for decoding.
type wireSnapshot struct {
	Version         string                          `json:"version"`
	GeneratedAt     string                          `json:"generatedAt"`
	Digest          string                          `json:"digest"`
	Categories      map[string]map[string]Parameter `json:"categories"`
	ProvenanceGraph map[string][]string             `json:"provenanceGraph"`
	Diagnostics     *Diagnostics                    `json:"diagnostics"`
}

// UnmarshalJSON implements json.Unmarshaler for Snapshot.
// Category and Key are filled in from the enclosing map labels.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Version == "" {
		return fmt.Errorf("snapshot is missing \"version\"")
	}
	if w.Categories == nil {
		return fmt.Errorf("snapshot is missing \"categories\"")
	}

	fresh := NewSnapshot()
	fresh.Version = w.Version
	fresh.Digest = w.Digest
	if w.GeneratedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.GeneratedAt)
		if err != nil {
			return fmt.Errorf("generatedAt: %w", err)
		}
		fresh.GeneratedAt = ts
	}
	for category, keys := range w.Categories {
		for key, param := range keys {
			param.Category = category
			param.Key = key
			fresh.Put(param)
		}
	}
	for path, deps := range w.ProvenanceGraph {
		fresh.ProvenanceGraph[path] = deps
	}
	if w.Diagnostics != nil {
		if w.Diagnostics.Warnings != nil {
			fresh.Diagnostics.Warnings = w.Diagnostics.Warnings
		}
		if w.Diagnostics.Unavailable != nil {
			fresh.Diagnostics.Unavailable = w.Diagnostics.Unavailable
		}
	}

	*s = *fresh
	return nil
}
