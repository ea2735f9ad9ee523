package content

import (
	"strings"

	"golang.org/x/net/html"
)

// Node is a handle on one element of a Tree.
type Node struct {
	id   string
	tree *Tree
	n    *html.Node
}

// ID returns the node's stable identifier.
func (n *Node) ID() string {
	return n.id
}

// Tag returns the element name.
func (n *Node) Tag() string {
	return n.n.Data
}

// Attr returns the value of attribute key.
func (n *Node) Attr(key string) (string, bool) {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	for _, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Marker is the reference marker of a target node, as written.
type Marker struct {
	Path     string
	Category string
	Key      string
	Format   string
}

// ReadMarker reads the marker attributes from attrs. When an attribute is
// repeated the first occurrence wins, the same rule Attr applies.
func ReadMarker(attrs []html.Attribute) Marker {
	var m Marker
	seen := make(map[string]bool, 4)
	for _, a := range attrs {
		if a.Namespace != "" || seen[a.Key] {
			continue
		}
		switch a.Key {
		case AttrParam:
			m.Path = a.Val
		case AttrCategory:
			m.Category = a.Val
		case AttrKey:
			m.Key = a.Val
		case AttrFormat:
			m.Format = a.Val
		default:
			continue
		}
		seen[a.Key] = true
	}
	return m
}

// Marker returns the node's reference marker.
func (n *Node) Marker() Marker {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	return ReadMarker(n.n.Attr)
}

// SetAttr sets attribute key to val.
func (n *Node) SetAttr(key, val string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.n.Attr[i].Val = val
			return
		}
	}
	n.n.Attr = append(n.n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes attribute key if present.
func (n *Node) RemoveAttr(key string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	attrs := n.n.Attr[:0]
	for _, a := range n.n.Attr {
		if a.Namespace != "" || a.Key != key {
			attrs = append(attrs, a)
		}
	}
	n.n.Attr = attrs
}

// Text returns the concatenated text content.
func (n *Node) Text() string {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	var b strings.Builder
	walk(n.n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

// SetText replaces the node's children with a single text node.
func (n *Node) SetText(s string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	for c := n.n.FirstChild; c != nil; {
		next := c.NextSibling
		n.n.RemoveChild(c)
		delete(n.tree.nodes, c)
		c = next
	}
	n.n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
}
