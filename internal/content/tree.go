// Package content is the live content surface binders render into: an HTML
// document tree that can grow at runtime and notifies subscribers when
// reference-carrying nodes are inserted.
package content

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Reference marker attributes.
const (
	AttrParam    = "data-param"    // dotted path
	AttrCategory = "data-category" // with AttrKey
	AttrKey      = "data-key"
	AttrFormat   = "data-format"
)

// IDGenerator generates node IDs.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 node IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Event announces reference nodes that entered the tree, in document order.
type Event struct {
	Nodes []*Node
}

// Tree is a mutable HTML document.
//
// Thread-safety: all methods are safe for concurrent use. Subscribers are
// called synchronously on the inserting goroutine after the tree lock is
// released, so they may read the tree but must not block for long.
type Tree struct {
	mu     sync.RWMutex
	root   *html.Node
	ids    IDGenerator
	nodes  map[*html.Node]*Node
	subs   map[int]func(Event)
	nextID int
}

// Option configures a Tree.
type Option func(*Tree)

// WithIDGenerator sets the node ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tree) {
		t.ids = g
	}
}

func newTree(root *html.Node, opts []Option) *Tree {
	t := &Tree{
		root:  root,
		ids:   UUIDv7Generator{},
		nodes: make(map[*html.Node]*Node),
		subs:  make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTree creates an empty document.
func NewTree(opts ...Option) *Tree {
	root, _ := html.Parse(strings.NewReader(""))
	return newTree(root, opts)
}

// ParseHTML parses a full HTML document.
func ParseHTML(r io.Reader, opts ...Option) (*Tree, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return newTree(root, opts), nil
}

// Body returns the document body.
func (t *Tree) Body() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	body := findFirst(t.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
	if body == nil {
		return nil
	}
	return t.wrap(body)
}

// Targets returns every reference node in document order.
func (t *Tree) Targets() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collectTargets(t.root)
}

// Find returns the node with id, or nil.
func (t *Tree) Find(id string) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, n := range t.nodes {
		if n.id == id {
			return n
		}
	}
	return nil
}

// Subscribe registers fn for insert events. The returned function
// unsubscribes.
func (t *Tree) Subscribe(fn func(Event)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Insert parses fragment in the context of parent, appends the result to
// parent and notifies subscribers of any reference nodes it contained.
// It returns those reference nodes.
func (t *Tree) Insert(parent *Node, fragment string) ([]*Node, error) {
	if parent == nil || parent.tree != t {
		return nil, fmt.Errorf("insert: parent does not belong to this tree")
	}

	t.mu.Lock()
	children, err := html.ParseFragment(strings.NewReader(fragment), parent.n)
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("insert: parse fragment: %w", err)
	}
	var inserted []*Node
	for _, child := range children {
		parent.n.AppendChild(child)
		inserted = append(inserted, t.collectTargets(child)...)
	}
	subs := make([]func(Event), 0, len(t.subs))
	for id := 0; id < t.nextID; id++ {
		if fn, ok := t.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	t.mu.Unlock()

	if len(inserted) > 0 {
		ev := Event{Nodes: inserted}
		for _, fn := range subs {
			fn(ev)
		}
	}
	return inserted, nil
}

// Render writes the document as HTML.
func (t *Tree) Render(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return html.Render(w, t.root)
}

// String renders the document, ignoring errors.
func (t *Tree) String() string {
	var buf bytes.Buffer
	_ = t.Render(&buf)
	return buf.String()
}

// collectTargets walks n and wraps every reference node. Caller holds mu.
func (t *Tree) collectTargets(n *html.Node) []*Node {
	var out []*Node
	walk(n, func(c *html.Node) {
		if IsTarget(c) {
			out = append(out, t.wrap(c))
		}
	})
	return out
}

// wrap returns the Node for n, assigning an ID on first sight. Caller holds mu.
func (t *Tree) wrap(n *html.Node) *Node {
	if node, ok := t.nodes[n]; ok {
		return node
	}
	node := &Node{id: t.ids.Generate(), tree: t, n: n}
	t.nodes[n] = node
	return node
}

// IsTarget reports whether n is an element carrying a reference marker.
func IsTarget(n *html.Node) bool {
	return n.Type == html.ElementNode && HasMarker(n.Attr)
}

// HasMarker reports whether attrs carry a reference marker attribute.
func HasMarker(attrs []html.Attribute) bool {
	for _, a := range attrs {
		if a.Namespace == "" && (a.Key == AttrParam || a.Key == AttrCategory || a.Key == AttrKey) {
			return true
		}
	}
	return false
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}
