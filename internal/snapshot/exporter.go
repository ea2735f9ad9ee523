// Package snapshot turns an evaluated parameter graph into the versioned,
// self-describing artifact read by validators and runtime binders.
//
// The exporter performs no computation. Exporting the same graph state twice
// yields byte-identical artifacts apart from the version and generatedAt
// stamps, and both share one content digest.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/paramgraph/internal/graph"
	"github.com/roach88/paramgraph/internal/param"
)

// VersionSource hands out monotonically increasing snapshot versions.
// Implemented by Counter (in-memory) and store.Store (persistent).
type VersionSource interface {
	NextVersion(ctx context.Context) (int64, error)
}

// Clock returns the generatedAt stamp.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Counter is an in-memory VersionSource starting at 1.
type Counter struct {
	mu   sync.Mutex
	last int64
}

// NewCounter creates a counter whose first version is last+1.
func NewCounter(last int64) *Counter {
	return &Counter{last: last}
}

// NextVersion implements VersionSource.
func (c *Counter) NextVersion(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last, nil
}

// Exporter serializes graph results into snapshots.
type Exporter struct {
	versions VersionSource
	clock    Clock
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithVersionSource sets where versions come from. Default: a fresh Counter.
func WithVersionSource(v VersionSource) Option {
	return func(e *Exporter) {
		e.versions = v
	}
}

// WithClock sets the clock used for generatedAt. Default: wall clock.
func WithClock(c Clock) Option {
	return func(e *Exporter) {
		e.clock = c
	}
}

// NewExporter creates an exporter.
func NewExporter(opts ...Option) *Exporter {
	e := &Exporter{
		versions: NewCounter(0),
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export builds the snapshot for result, assigning the next version and
// stamping generatedAt and the content digest.
func (e *Exporter) Export(ctx context.Context, result *graph.Result) (*param.Snapshot, error) {
	if result == nil {
		return nil, fmt.Errorf("export: no graph result")
	}

	snap := param.NewSnapshot()
	for _, p := range result.Parameters {
		if _, exists := snap.Lookup(p.Path()); exists {
			return nil, fmt.Errorf("export: parameter %s appears twice", p.Path())
		}
		snap.Put(p)
	}

	for path, deps := range result.Provenance {
		for _, dep := range deps {
			depPath, err := param.ParsePath(dep)
			if err != nil {
				return nil, fmt.Errorf("export: provenance of %s: %w", path, err)
			}
			if _, ok := snap.Lookup(depPath); !ok {
				return nil, fmt.Errorf("export: provenance of %s references missing %s", path, dep)
			}
		}
		snap.ProvenanceGraph[path] = append([]string{}, deps...)
	}

	for _, w := range result.Warnings {
		snap.Diagnostics.Warnings = append(snap.Diagnostics.Warnings, w.Diagnostic())
	}
	snap.Diagnostics.Unavailable = append(snap.Diagnostics.Unavailable, result.Unavailable...)

	digest, err := param.SnapshotDigest(snap)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	version, err := e.versions.NextVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: next version: %w", err)
	}

	snap.Digest = digest
	snap.Version = strconv.FormatInt(version, 10)
	snap.GeneratedAt = e.clock.Now().UTC()
	return snap, nil
}

// Marshal returns the canonical artifact bytes.
func Marshal(s *param.Snapshot) ([]byte, error) {
	return param.MarshalSnapshot(s)
}

// Parse decodes artifact bytes. Unknown fields are ignored.
func Parse(data []byte) (*param.Snapshot, error) {
	var s param.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &s, nil
}

// WriteFile writes the artifact to path, replacing any existing file
// atomically.
func WriteFile(path string, s *param.Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadFile reads and parses the artifact at path.
func ReadFile(path string) (*param.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Parse(data)
}
