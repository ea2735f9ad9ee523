// Package binder is the runtime resolver and binder: it loads a snapshot,
// resolves the references carried by content nodes, renders formatted values
// into them and keeps doing so as new content is inserted.
//
// Each Binder is an explicit, independent context with an Init/Reset
// lifecycle; nothing is shared between instances.
package binder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/paramgraph/internal/content"
	"github.com/roach88/paramgraph/internal/format"
	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/resolve"
	"github.com/roach88/paramgraph/internal/snapshot"
)

// ErrLoadTimeout is returned by Load when the snapshot did not arrive before
// the deadline. Pending targets move to the error state unless the fallback
// table can serve them.
var ErrLoadTimeout = errors.New("LoadTimeout: snapshot load exceeded its deadline")

// Defaults, overridable through options.
const (
	DefaultDebounce    = 50 * time.Millisecond
	DefaultQueueSize   = 1024
	DefaultLoadTimeout = 5 * time.Second
)

// Timer is the part of time.Timer the debounce loop needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// Binder resolves and renders binding targets.
//
// Thread-safety model:
//   - Bind, RefreshAll, Init, Reset, Load, Resolve, Stats: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - watched trees may be mutated from any goroutine; insertions reach the
//     binder only through the bounded queue
type Binder struct {
	mu sync.Mutex

	id       string
	logger   *slog.Logger
	aliases  resolve.AliasTable
	fallback resolve.FallbackTable
	verbose  bool
	fetcher  Fetcher

	debounce    time.Duration
	loadTimeout time.Duration
	newTimer    func(time.Duration) Timer

	resolver *resolve.Resolver // nil until a snapshot is installed
	loadErr  error             // set when the last load failed

	targets []*Target // registration order
	byID    map[string]*Target
	watched []watch

	queue  *eventQueue
	stats  Stats
	passes int
}

// watch is one watched tree and the handle that ends its subscription.
type watch struct {
	tree        *content.Tree
	unsubscribe func()
}

// Option configures a Binder.
type Option func(*Binder)

// WithAliases sets the alias table.
func WithAliases(aliases resolve.AliasTable) Option {
	return func(b *Binder) { b.aliases = aliases }
}

// WithFallback replaces the built-in fallback table.
func WithFallback(table resolve.FallbackTable) Option {
	return func(b *Binder) { b.fallback = table }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Binder) { b.logger = logger }
}

// WithVerbose exposes failure details on nodes and through Failures.
func WithVerbose(verbose bool) Option {
	return func(b *Binder) { b.verbose = verbose }
}

// WithDebounce sets the coalescing window for insert bursts.
func WithDebounce(d time.Duration) Option {
	return func(b *Binder) { b.debounce = d }
}

// WithTimer replaces the debounce timer source. Tests use it to fire the
// window deterministically.
func WithTimer(newTimer func(time.Duration) Timer) Option {
	return func(b *Binder) { b.newTimer = newTimer }
}

// WithQueueSize bounds the insert queue.
func WithQueueSize(n int) Option {
	return func(b *Binder) { b.queue = newEventQueue(n) }
}

// WithLoadTimeout bounds Load. Zero disables the binder's own deadline;
// the caller's context still applies.
func WithLoadTimeout(d time.Duration) Option {
	return func(b *Binder) { b.loadTimeout = d }
}

// WithFetcher replaces the snapshot fetcher.
func WithFetcher(f Fetcher) Option {
	return func(b *Binder) { b.fetcher = f }
}

// New creates a binder with no snapshot loaded.
func New(opts ...Option) *Binder {
	b := &Binder{
		id:          uuid.Must(uuid.NewV7()).String(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		fallback:    resolve.DefaultFallback(),
		fetcher:     DefaultFetcher{},
		debounce:    DefaultDebounce,
		loadTimeout: DefaultLoadTimeout,
		newTimer: func(d time.Duration) Timer {
			return realTimer{t: time.NewTimer(d)}
		},
		byID:  make(map[string]*Target),
		queue: newEventQueue(DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("binder", b.id)
	return b
}

// Init installs snap as the binder's snapshot. Every registered target
// re-enters pending and is resolved by the next refresh pass.
func (b *Binder) Init(snap *param.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.installLocked(snap)
}

func (b *Binder) installLocked(snap *param.Snapshot) {
	b.resolver = resolve.New(snap, resolve.WithAliases(b.aliases), resolve.WithFallback(b.fallback))
	b.loadErr = nil
	for _, t := range b.targets {
		b.setPendingLocked(t)
	}
}

// Reset drops the snapshot, every target and all statistics, and stops
// watching every tree.
func (b *Binder) Reset() {
	b.mu.Lock()
	watched := b.watched
	b.resolver = nil
	b.loadErr = nil
	b.targets = nil
	b.byID = make(map[string]*Target)
	b.watched = nil
	b.stats = Stats{}
	b.passes = 0
	b.mu.Unlock()

	for _, w := range watched {
		w.unsubscribe()
	}
	b.queue.Drain()
}

// Load fetches and installs the snapshot at uri. While it runs, targets stay
// pending. On success a reload event is queued so a running watch loop
// re-renders every target.
//
// If the deadline passes first, Load returns an error wrapping
// ErrLoadTimeout and pending targets are resolved against the fallback
// table alone, failing with LoadTimeout where it has no value.
func (b *Binder) Load(ctx context.Context, uri string) error {
	if b.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.loadTimeout)
		defer cancel()
	}

	snap, err := b.fetchSnapshot(ctx, uri)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("load %s: %w", uri, ErrLoadTimeout)
		} else {
			err = fmt.Errorf("load %s: %w", uri, err)
		}
		b.mu.Lock()
		b.loadErr = err
		b.refreshLocked()
		b.mu.Unlock()
		b.logger.Warn("snapshot load failed", "uri", uri, "error", err)
		return err
	}

	b.mu.Lock()
	b.installLocked(snap)
	b.mu.Unlock()
	b.queue.Enqueue(Event{Type: EventTypeReload})
	b.logger.Info("snapshot loaded", "uri", uri, "version", snap.Version, "parameters", snap.Len())
	return nil
}

// fetchSnapshot runs the fetch on its own goroutine so a fetcher that
// ignores ctx still cannot hold Load past the deadline.
func (b *Binder) fetchSnapshot(ctx context.Context, uri string) (*param.Snapshot, error) {
	type result struct {
		snap *param.Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := b.fetcher.Fetch(ctx, uri)
		if err != nil {
			done <- result{err: err}
			return
		}
		snap, err := snapshot.Parse(data)
		done <- result{snap: snap, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.snap, r.err
	}
}

// Resolve resolves one request against the current snapshot. Before a
// snapshot is installed only aliases and the fallback table can answer.
func (b *Binder) Resolve(req resolve.Request) resolve.Outcome {
	b.mu.Lock()
	r := b.currentResolverLocked()
	b.mu.Unlock()
	return r.Resolve(req)
}

func (b *Binder) currentResolverLocked() *resolve.Resolver {
	if b.resolver != nil {
		return b.resolver
	}
	return resolve.New(nil, resolve.WithAliases(b.aliases), resolve.WithFallback(b.fallback))
}

// Bind registers t and, if a snapshot is resident, resolves it right away.
// Binding a target ID twice is a no-op.
func (b *Binder) Bind(t *Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.registerLocked(t) {
		return
	}
	if b.ready() {
		b.renderLocked(t)
		b.stats = b.computeStatsLocked(b.stats.Pass, b.stats.Processed)
	}
}

// registerLocked adds t to the registry. It reports false for a known ID.
func (b *Binder) registerLocked(t *Target) bool {
	if _, exists := b.byID[t.ID]; exists {
		return false
	}
	b.byID[t.ID] = t
	b.targets = append(b.targets, t)
	b.setPendingLocked(t)
	return true
}

// ready reports whether pending targets can be resolved now.
func (b *Binder) ready() bool {
	return b.resolver != nil || b.loadErr != nil
}

// RefreshAll resolves every pending target, in registration order, and
// returns the statistics for the whole registry. Targets already rendered
// or failed are left alone, so repeating the call changes nothing.
func (b *Binder) RefreshAll() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshLocked()
}

func (b *Binder) refreshLocked() Stats {
	processed := 0
	if b.ready() {
		for _, t := range b.targets {
			if t.state == StatePending {
				b.renderLocked(t)
				processed++
			}
		}
	}
	b.passes++
	b.stats = b.computeStatsLocked(b.passes, processed)
	b.logger.Debug("refresh pass",
		"pass", b.stats.Pass,
		"processed", processed,
		"resolved", b.stats.Path.Success+b.stats.Pair.Success,
		"failed", b.stats.Path.Failure+b.stats.Pair.Failure,
		"pending", b.stats.Pending,
	)
	return b.stats
}

// renderLocked resolves t once and writes the result to its surface.
func (b *Binder) renderLocked(t *Target) {
	r := b.currentResolverLocked()
	out := r.Resolve(t.Request)
	t.outcome = out
	t.warning = nil
	t.reason = ""

	if !out.Found {
		t.reason = out.Err().Error()
		if b.resolver == nil && b.loadErr != nil {
			t.reason = b.loadErr.Error() + "; " + t.reason
		}
		b.failLocked(t)
		return
	}

	text, warn, err := format.Render(out.Value(), t.Directive)
	if err != nil {
		t.reason = err.Error()
		b.failLocked(t)
		return
	}
	if warn != nil {
		t.warning = warn
		b.logger.Warn("format directive fallback", "target", t.ID, "directive", t.Directive, "error", warn)
	}

	t.state = StateRendered
	t.text = text
	if t.surface != nil {
		t.surface.SetText(text)
		t.surface.SetAttr(AttrState, string(StateRendered))
		t.surface.RemoveAttr(AttrError)
		if b.verbose {
			t.surface.SetAttr(AttrStrategy, out.Strategy)
		}
	}
}

func (b *Binder) failLocked(t *Target) {
	t.state = StateError
	t.text = Placeholder(t.Request)
	if t.surface != nil {
		t.surface.SetText(t.text)
		t.surface.SetAttr(AttrState, string(StateError))
		if b.verbose {
			t.surface.SetAttr(AttrError, t.reason)
		}
	}
	b.logger.Debug("target unresolved", "target", t.ID, "reference", t.Request.String(), "reason", t.reason)
}

func (b *Binder) setPendingLocked(t *Target) {
	t.state = StatePending
	if t.surface != nil {
		t.surface.SetAttr(AttrState, string(StatePending))
	}
}

// Watch subscribes to tree's insertions and binds every reference node
// already in it. Inserted nodes are queued for the Run loop. The returned
// function stops watching.
//
// The subscription is made before the scan, so a node inserted meanwhile
// is seen at least once; registration ignores the second sighting.
func (b *Binder) Watch(tree *content.Tree) (cancel func()) {
	unsubscribe := tree.Subscribe(func(ev content.Event) {
		if !b.queue.Enqueue(Event{Type: EventTypeInsert, Nodes: ev.Nodes}) {
			b.logger.Warn("insert queue full; next pass rescans", "nodes", len(ev.Nodes))
		}
	})

	b.mu.Lock()
	b.watched = append(b.watched, watch{tree: tree, unsubscribe: unsubscribe})
	b.mu.Unlock()

	for _, n := range tree.Targets() {
		b.Bind(TargetFromNode(n))
	}

	return func() {
		unsubscribe()
		b.mu.Lock()
		defer b.mu.Unlock()
		b.watched = slices.DeleteFunc(b.watched, func(w watch) bool { return w.tree == tree })
	}
}

// Run is the debounced consumer of insert and reload events. The first
// event after a quiet period arms the debounce timer; everything queued
// before it fires is handled by exactly one refresh pass.
//
// Run returns when ctx is cancelled.
func (b *Binder) Run(ctx context.Context) error {
	var (
		timer  Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-b.queue.Wait():
			if timer == nil && b.queue.Pending() {
				timer = b.newTimer(b.debounce)
				timerC = timer.C()
			}

		case <-timerC:
			timer, timerC = nil, nil
			b.handleBurst()
		}
	}
}

// handleBurst drains the queue and runs one refresh pass for it.
func (b *Binder) handleBurst() {
	events, overflow := b.queue.Drain()
	if len(events) == 0 && !overflow {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	inserted := 0
	for _, ev := range events {
		if ev.Type != EventTypeInsert {
			continue
		}
		for _, n := range ev.Nodes {
			if b.registerLocked(TargetFromNode(n)) {
				inserted++
			}
		}
	}
	if overflow {
		for _, w := range b.watched {
			for _, n := range w.tree.Targets() {
				if b.registerLocked(TargetFromNode(n)) {
					inserted++
				}
			}
		}
	}

	stats := b.refreshLocked()
	b.logger.Debug("burst handled", "events", len(events), "overflow", overflow, "inserted", inserted, "pass", stats.Pass)
}

// Stats returns the statistics of the last refresh.
func (b *Binder) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Passes returns how many refresh passes have run.
func (b *Binder) Passes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.passes
}

// Targets returns the registered targets in registration order.
func (b *Binder) Targets() []*Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.targets)
}

// Failure describes one target in the error state.
type Failure struct {
	TargetID string
	Kind     resolve.Kind
	Request  string
	Reason   string
	Attempts []resolve.Attempt
}

func (f Failure) String() string {
	parts := make([]string, len(f.Attempts))
	for i, a := range f.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s %q: %s", f.TargetID, f.Request, strings.Join(parts, ", "))
}

// Failures returns every failed target with the path variants attempted.
// It is only populated in verbose mode.
func (b *Binder) Failures() []Failure {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.verbose {
		return nil
	}
	var out []Failure
	for _, t := range b.targets {
		if t.state != StateError {
			continue
		}
		out = append(out, Failure{
			TargetID: t.ID,
			Kind:     t.Request.Kind(),
			Request:  t.Request.String(),
			Reason:   t.reason,
			Attempts: slices.Clone(t.outcome.Attempts),
		})
	}
	return out
}
