package validate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"

	"golang.org/x/net/html"

	"github.com/roach88/paramgraph/internal/content"
	"github.com/roach88/paramgraph/internal/resolve"
)

// Reference is one reference marker found in a document.
type Reference struct {
	Document  string
	Line      int
	Request   resolve.Request
	Directive string
}

// Location returns "document:line".
func (r Reference) Location() string {
	return fmt.Sprintf("%s:%d", r.Document, r.Line)
}

var (
	textMarker = regexp.MustCompile(`\{\{\s*param\b([^}]*)\}\}`)
	markerAttr = regexp.MustCompile(`([A-Za-z_]+)\s*=\s*(?:"([^"]*)"|([^\s"}]+))`)
)

// Scan returns every reference marker in doc, in document order.
func Scan(doc Document) ([]Reference, error) {
	switch doc.Kind {
	case KindHTML:
		return scanHTML(doc)
	case KindText:
		return scanText(doc), nil
	default:
		return nil, fmt.Errorf("%s: unsupported document kind %v", doc.Name, doc.Kind)
	}
}

// scanText finds {{param path=...}} and {{param category=... key=...}}
// markers.
func scanText(doc Document) []Reference {
	var refs []Reference
	for _, m := range textMarker.FindAllSubmatchIndex(doc.Body, -1) {
		attrs := make(map[string]string)
		for _, a := range markerAttr.FindAllSubmatch(doc.Body[m[2]:m[3]], -1) {
			val := a[2]
			if val == nil {
				val = a[3]
			}
			if _, dup := attrs[string(a[1])]; !dup {
				attrs[string(a[1])] = string(val)
			}
		}
		refs = append(refs, Reference{
			Document:  doc.Name,
			Line:      1 + bytes.Count(doc.Body[:m[0]], []byte("\n")),
			Request:   resolve.MarkerRequest(attrs["path"], attrs["category"], attrs["key"]),
			Directive: attrs["format"],
		})
	}
	return refs
}

// scanHTML finds elements carrying data-param or data-category/data-key.
func scanHTML(doc Document) ([]Reference, error) {
	var refs []Reference
	z := html.NewTokenizer(bytes.NewReader(doc.Body))
	line := 1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%s:%d: %w", doc.Name, line, err)
			}
			return refs, nil
		}
		start := line
		line += bytes.Count(z.Raw(), []byte("\n"))

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		if _, hasAttr := z.TagName(); !hasAttr {
			continue
		}

		var attrs []html.Attribute
		for more := true; more; {
			var key, val []byte
			key, val, more = z.TagAttr()
			attrs = append(attrs, html.Attribute{Key: string(key), Val: string(val)})
		}
		if !content.HasMarker(attrs) {
			continue
		}
		m := content.ReadMarker(attrs)
		refs = append(refs, Reference{
			Document:  doc.Name,
			Line:      start,
			Request:   resolve.MarkerRequest(m.Path, m.Category, m.Key),
			Directive: m.Format,
		})
	}
}
