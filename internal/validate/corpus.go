package validate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Kind is how a document's markers are written.
type Kind int

const (
	KindText Kind = iota + 1
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindHTML:
		return "html"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var extensions = map[string]Kind{
	".md":   KindText,
	".txt":  KindText,
	".tmpl": KindText,
	".html": KindHTML,
	".htm":  KindHTML,
}

// KindFor returns the document kind for a file name, or false if the
// extension is not scanned.
func KindFor(name string) (Kind, bool) {
	k, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return k, ok
}

// Document is one consumer document.
type Document struct {
	Name string // slash-separated, relative to the corpus root
	Kind Kind
	Body []byte
}

// LoadCorpus reads every scannable document under root, in lexical order.
// Hidden directories are skipped.
func LoadCorpus(root string) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	if !info.IsDir() {
		doc, err := loadDocument(filepath.Dir(root), root)
		if err != nil {
			return nil, err
		}
		return []Document{doc}, nil
	}

	var docs []Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := KindFor(path); !ok {
			return nil
		}
		doc, err := loadDocument(root, path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	return docs, nil
}

func loadDocument(root, path string) (Document, error) {
	kind, ok := KindFor(path)
	if !ok {
		return Document{}, fmt.Errorf("load corpus: %s: unsupported extension", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("load corpus: %w", err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return Document{Name: filepath.ToSlash(rel), Kind: kind, Body: body}, nil
}
