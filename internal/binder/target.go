package binder

import (
	"github.com/roach88/paramgraph/internal/content"
	"github.com/roach88/paramgraph/internal/resolve"
)

// State is a binding target's render state.
type State string

const (
	StatePending  State = "pending"
	StateRendered State = "rendered"
	StateError    State = "error"
)

// Attributes the binder writes onto rendered nodes.
const (
	AttrState    = "data-param-state"
	AttrError    = "data-param-error"    // verbose mode only
	AttrStrategy = "data-param-strategy" // verbose mode only
)

// Surface is what a target renders into. *content.Node implements it.
type Surface interface {
	SetText(string)
	SetAttr(key, val string)
	RemoveAttr(key string)
}

// Target is one binding target: a reference, an optional directive and the
// surface its value renders into.
type Target struct {
	ID        string
	Request   resolve.Request
	Directive string

	surface Surface
	state   State
	text    string
	outcome resolve.Outcome
	reason  string // why the target is in the error state
	warning error  // non-fatal directive warning from the last render
}

// NewTarget creates a target rendering into surface.
func NewTarget(id string, req resolve.Request, directive string, surface Surface) *Target {
	return &Target{ID: id, Request: req, Directive: directive, surface: surface, state: StatePending}
}

// TargetFromNode reads a target from a node's reference marker attributes.
// A data-param path takes precedence over a data-category/data-key pair.
func TargetFromNode(n *content.Node) *Target {
	m := n.Marker()
	return NewTarget(n.ID(), resolve.MarkerRequest(m.Path, m.Category, m.Key), m.Format, n)
}

// State returns the target's render state.
func (t *Target) State() State { return t.state }

// Text returns what the target last rendered.
func (t *Target) Text() string { return t.text }

// Outcome returns the last resolution outcome.
func (t *Target) Outcome() resolve.Outcome { return t.outcome }

// Warning returns the directive warning from the last render, if any.
func (t *Target) Warning() error { return t.warning }

// Placeholder is the text rendered for a target in the error state.
func Placeholder(req resolve.Request) string {
	return "[unresolved: " + req.String() + "]"
}
