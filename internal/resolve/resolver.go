package resolve

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/paramgraph/internal/param"
)

// Strategy names, in resolution order.
const (
	StrategyAlias           = "alias"
	StrategyExact           = "exact"
	StrategyCaseInsensitive = "case-insensitive"
	StrategyFallback        = "fallback"
)

// Attempt records one strategy tried against one path.
type Attempt struct {
	Strategy string
	Path     string
	Found    bool
}

func (a Attempt) String() string {
	if a.Found {
		return fmt.Sprintf("%s(%s): hit", a.Strategy, a.Path)
	}
	return fmt.Sprintf("%s(%s): miss", a.Strategy, a.Path)
}

// Outcome is the result of resolving one request. A miss is data:
// Found is false and Attempts lists everything that was tried.
type Outcome struct {
	Request   Request
	Found     bool
	Parameter param.Parameter // valid when Found
	Strategy  string          // winning strategy when Found
	Path      param.Path      // path the value was read from when Found
	Attempts  []Attempt
}

// Value returns the resolved value, or nil on a miss.
func (o Outcome) Value() param.Value {
	if !o.Found {
		return nil
	}
	return o.Parameter.Value
}

// FromFallback reports whether the value came from the fallback table
// rather than the snapshot.
func (o Outcome) FromFallback() bool {
	return o.Found && o.Strategy == StrategyFallback
}

// Strategies returns the distinct strategies tried, in order.
func (o Outcome) Strategies() []string {
	var out []string
	for _, a := range o.Attempts {
		if !slices.Contains(out, a.Strategy) {
			out = append(out, a.Strategy)
		}
	}
	return out
}

// Err returns a *ResolutionMiss for a miss and nil otherwise.
func (o Outcome) Err() error {
	if o.Found {
		return nil
	}
	return &ResolutionMiss{Request: o.Request, Attempts: o.Attempts}
}

// ResolutionMiss reports a reference no strategy could resolve.
type ResolutionMiss struct {
	Request  Request
	Attempts []Attempt
}

func (e *ResolutionMiss) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("unresolved reference %q (tried %s)", e.Request.String(), strings.Join(parts, ", "))
}

// Resolver resolves requests against one immutable snapshot.
// It is safe for concurrent use.
type Resolver struct {
	snap     *param.Snapshot
	aliases  AliasTable
	fallback FallbackTable
	folded   map[foldedPath]param.Path
}

// foldedPath is a case-folded path used as the case-insensitive index key.
type foldedPath struct {
	category, key string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAliases sets the alias table.
func WithAliases(aliases AliasTable) Option {
	return func(r *Resolver) {
		r.aliases = aliases
	}
}

// WithFallback sets the fallback table. Default: DefaultFallback().
func WithFallback(table FallbackTable) Option {
	return func(r *Resolver) {
		r.fallback = table
	}
}

// New creates a resolver over snap. A nil snapshot is allowed: only the
// alias rewrite and the fallback table can then produce values.
func New(snap *param.Snapshot, opts ...Option) *Resolver {
	r := &Resolver{
		snap:     snap,
		fallback: DefaultFallback(),
		folded:   make(map[foldedPath]param.Path),
	}
	for _, opt := range opts {
		opt(r)
	}

	// Paths are visited in sorted order, so the first exact path wins when
	// several fold to the same key.
	if snap != nil {
		for _, p := range snap.Paths() {
			key := fold(p)
			if _, taken := r.folded[key]; !taken {
				r.folded[key] = p
			}
		}
	}
	return r
}

// Snapshot returns the snapshot the resolver reads.
func (r *Resolver) Snapshot() *param.Snapshot {
	return r.snap
}

// reference is the per-request state threaded through the strategies.
type reference struct {
	req       Request
	requested string // as written
	current   string // after alias rewriting
	aliased   bool
	path      param.Path
	parseErr  error
}

// hit is a strategy's non-empty result.
type hit struct {
	param param.Parameter
	path  param.Path
}

// strategyFunc tries one strategy. A nil hit means the strategy had nothing
// to offer; the attempts it made are returned either way.
type strategyFunc func(r *Resolver, ref *reference) (*hit, []Attempt)

type strategy struct {
	name string
	fn   strategyFunc
}

// strategies is the resolution order. The validator and the binder both go
// through Resolve, so they always agree.
var strategies = []strategy{
	{StrategyAlias, aliasStrategy},
	{StrategyExact, exactStrategy},
	{StrategyCaseInsensitive, caseInsensitiveStrategy},
	{StrategyFallback, fallbackStrategy},
}

// Strategies returns the strategy names in resolution order.
func Strategies() []string {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.name
	}
	return names
}

// ResolvePath is shorthand for Resolve(PathRequest(path)).
func (r *Resolver) ResolvePath(path string) Outcome {
	return r.Resolve(PathRequest(path))
}

// Resolve runs the strategies in order and returns the first hit.
// An exact hit reached through an alias rewrite is credited to the alias.
func (r *Resolver) Resolve(req Request) Outcome {
	ref := &reference{req: req, requested: req.String()}
	ref.current = ref.requested
	ref.path, ref.parseErr = pathOf(req, ref.current, false)

	out := Outcome{Request: req}
	for _, s := range strategies {
		h, attempts := s.fn(r, ref)
		out.Attempts = append(out.Attempts, attempts...)
		if h == nil {
			continue
		}
		name := s.name
		if name == StrategyExact && ref.aliased {
			name = StrategyAlias
		}
		return out.hit(h.param, h.path, name)
	}
	return out
}

// aliasStrategy rewrites the reference on an exact alias match. It never
// produces a value itself.
func aliasStrategy(r *Resolver, ref *reference) (*hit, []Attempt) {
	target, ok := r.aliases.Lookup(ref.requested)
	if ok {
		ref.current = target
		ref.aliased = true
		ref.path, ref.parseErr = pathOf(ref.req, target, true)
	}
	return nil, []Attempt{{Strategy: StrategyAlias, Path: ref.requested, Found: ok}}
}

func exactStrategy(r *Resolver, ref *reference) (*hit, []Attempt) {
	if ref.parseErr == nil {
		if p, ok := r.snap.Lookup(ref.path); ok {
			return &hit{param: p, path: ref.path}, []Attempt{{Strategy: StrategyExact, Path: ref.current, Found: true}}
		}
	}
	return nil, []Attempt{{Strategy: StrategyExact, Path: ref.current}}
}

func caseInsensitiveStrategy(r *Resolver, ref *reference) (*hit, []Attempt) {
	if ref.parseErr == nil {
		if match, ok := r.folded[fold(ref.path)]; ok {
			p, _ := r.snap.Lookup(match)
			return &hit{param: p, path: match}, []Attempt{{Strategy: StrategyCaseInsensitive, Path: ref.current, Found: true}}
		}
	}
	return nil, []Attempt{{Strategy: StrategyCaseInsensitive, Path: ref.current}}
}

// fallbackStrategy tries the rewritten path first, then the path as written.
func fallbackStrategy(r *Resolver, ref *reference) (*hit, []Attempt) {
	type candidate struct {
		text string
		path param.Path
		err  error
	}
	candidates := []candidate{{ref.current, ref.path, ref.parseErr}}
	if ref.aliased && ref.requested != ref.current {
		original, err := pathOf(ref.req, ref.requested, false)
		candidates = append(candidates, candidate{ref.requested, original, err})
	}

	var attempts []Attempt
	for _, c := range candidates {
		if c.err == nil {
			if p, ok := r.fallback.Lookup(c.path); ok {
				attempts = append(attempts, Attempt{Strategy: StrategyFallback, Path: c.text, Found: true})
				return &hit{param: p, path: c.path}, attempts
			}
		}
		attempts = append(attempts, Attempt{Strategy: StrategyFallback, Path: c.text})
	}
	return nil, attempts
}

// pathOf turns a reference into a Path. An unaliased pair request keeps its
// explicit split even when the key contains dots.
func pathOf(req Request, current string, aliased bool) (param.Path, error) {
	if req.Kind() == KindPair && !aliased {
		if req.Category == "" || req.Key == "" {
			return param.Path{}, fmt.Errorf("incomplete reference %q", current)
		}
		return param.P(req.Category, req.Key), nil
	}
	return param.ParsePath(current)
}

func (o Outcome) hit(p param.Parameter, path param.Path, strategy string) Outcome {
	o.Found = true
	o.Parameter = p
	o.Path = path
	o.Strategy = strategy
	return o
}

// fold case-folds both segments. A fresh Caser is used per call because
// Casers are not safe for concurrent use.
func fold(p param.Path) foldedPath {
	caser := cases.Fold()
	return foldedPath{category: caser.String(p.Category), key: caser.String(p.Key)}
}
