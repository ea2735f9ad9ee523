package resolve

import (
	"strings"

	"github.com/roach88/paramgraph/internal/param"
)

// Kind distinguishes how a reference was written.
type Kind int

const (
	// KindPath is a single dotted path reference.
	KindPath Kind = iota
	// KindPair is a (category, key) reference.
	KindPair
)

func (k Kind) String() string {
	if k == KindPair {
		return "category/key"
	}
	return "path"
}

// Request is one reference to resolve.
type Request struct {
	Path     string // set for KindPath
	Category string // set for KindPair
	Key      string // set for KindPair
}

// PathRequest builds a dotted-path request.
func PathRequest(path string) Request {
	return Request{Path: path}
}

// MarkerRequest builds the request a reference marker asks for. Values are
// trimmed; a blank path counts as absent, so the category/key pair is used.
// The validator and the binder both read markers through this function.
func MarkerRequest(path, category, key string) Request {
	if path = strings.TrimSpace(path); path != "" {
		return PathRequest(path)
	}
	return PairRequest(strings.TrimSpace(category), strings.TrimSpace(key))
}

// PairRequest builds a (category, key) request.
func PairRequest(category, key string) Request {
	return Request{Category: category, Key: key}
}

// Kind reports how the request was written.
func (r Request) Kind() Kind {
	if r.Path == "" && (r.Category != "" || r.Key != "") {
		return KindPair
	}
	return KindPath
}

// String returns the dotted form of the request.
func (r Request) String() string {
	if r.Kind() == KindPair {
		return param.P(r.Category, r.Key).String()
	}
	return r.Path
}
