package binder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paramgraph/internal/content"
	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/resolve"
	"github.com/roach88/paramgraph/internal/snapshot"
	"github.com/roach88/paramgraph/internal/testutil"
	"github.com/roach88/paramgraph/internal/validate"
)

func testSnapshot(h0 float64) *param.Snapshot {
	s := param.NewSnapshot()
	s.Version = "1"
	s.Put(param.Parameter{Category: "cosmology", Key: "H0", Value: param.Number(h0), Source: param.SourceCanonical})
	s.Put(param.Parameter{Category: "cosmology", Key: "h", Value: param.Number(h0 / 100), Source: "derived:little_h"})
	s.Put(param.Parameter{Category: "cosmology", Key: "Omega_m", Value: param.Number(0.315), Source: param.SourceCanonical})
	s.Put(param.Parameter{Category: "meta", Key: "model", Value: param.Text("LCDM"), Source: param.SourceCanonical})
	return s
}

func snapshotBytes(t *testing.T, s *param.Snapshot) []byte {
	t.Helper()
	data, err := snapshot.Marshal(s)
	require.NoError(t, err)
	return data
}

func testTree(t *testing.T, body string) *content.Tree {
	t.Helper()
	tree, err := content.ParseHTML(strings.NewReader("<html><body>"+body+"</body></html>"),
		content.WithIDGenerator(testutil.NewSequentialIDs("node")))
	require.NoError(t, err)
	return tree
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSurface records what a target rendered.
type fakeSurface struct {
	text  string
	attrs map[string]string
}

func newFakeSurface() *fakeSurface { return &fakeSurface{attrs: map[string]string{}} }

func (f *fakeSurface) SetText(s string)    { f.text = s }
func (f *fakeSurface) SetAttr(k, v string) { f.attrs[k] = v }
func (f *fakeSurface) RemoveAttr(k string) { delete(f.attrs, k) }

func TestBind_RoundTrip(t *testing.T) {
	snap := testSnapshot(67.4)
	b := New(WithLogger(quietLogger()))
	b.Init(snap)

	for _, path := range snap.Paths() {
		want, _ := snap.Lookup(path)
		surface := newFakeSurface()
		target := NewTarget(path.String(), resolve.PathRequest(path.String()), "", surface)
		b.Bind(target)

		require.Equal(t, StateRendered, target.State(), "%s", path)
		assert.True(t, param.Equal(want.Value, target.Outcome().Value()), "%s", path)
		assert.Equal(t, "rendered", surface.attrs[AttrState])
	}
	assert.Equal(t, KindStats{Success: 4}, b.Stats().Path)
}

func TestResolve_AliasEquivalence(t *testing.T) {
	aliases := resolve.AliasTable{"hubble": "cosmology.H0", "matter": "cosmology.Omega_m"}
	b := New(WithAliases(aliases))
	b.Init(testSnapshot(67.4))

	for alias, target := range aliases {
		viaAlias := b.Resolve(resolve.PathRequest(alias))
		direct := b.Resolve(resolve.PathRequest(target))
		require.True(t, viaAlias.Found)
		assert.True(t, param.Equal(direct.Value(), viaAlias.Value()), alias)
	}
}

func TestWatch_PendingUntilLoaded(t *testing.T) {
	tree := testTree(t, `<span data-param="cosmology.H0">?</span><span data-category="cosmology" data-key="h">?</span>`)
	b := New(WithLogger(quietLogger()))
	b.Watch(tree)

	stats := b.RefreshAll()
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 2, stats.Pending)
	for _, target := range b.Targets() {
		assert.Equal(t, StatePending, target.State())
	}
	assert.Contains(t, tree.String(), `data-param-state="pending"`)

	b.Init(testSnapshot(67.4))
	stats = b.RefreshAll()
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, KindStats{Success: 1}, stats.Path)
	assert.Equal(t, KindStats{Success: 1}, stats.Pair)
	assert.Contains(t, tree.String(), `<span data-param="cosmology.H0" data-param-state="rendered">67.4</span>`)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, snapshot.WriteFile(path, testSnapshot(70)))

	tree := testTree(t, `<b data-param="cosmology.H0" data-format="fixed:1"></b>`)
	b := New(WithLogger(quietLogger()))
	b.Watch(tree)

	require.NoError(t, b.Load(context.Background(), path))
	b.RefreshAll()
	assert.Equal(t, "70.0", b.Targets()[0].Text())

	require.NoError(t, b.Load(context.Background(), "file://"+path))
}

func TestLoad_HTTP(t *testing.T) {
	data := snapshotBytes(t, testSnapshot(67.4))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/params.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	defer srv.Close()

	b := New(WithLogger(quietLogger()))
	require.NoError(t, b.Load(context.Background(), srv.URL+"/params.json"))
	assert.True(t, b.Resolve(resolve.PathRequest("cosmology.H0")).Found)

	err := b.Load(context.Background(), srv.URL+"/missing.json")
	assert.ErrorContains(t, err, "404")
}

func TestLoad_TimeoutUsesFallbackThenErrors(t *testing.T) {
	blocking := FetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	tree := testTree(t, `<i data-param="constants.c"></i><i data-param="cosmology.H0"></i>`)
	b := New(WithLogger(quietLogger()), WithFetcher(blocking), WithLoadTimeout(10*time.Millisecond), WithVerbose(true))
	b.Watch(tree)

	err := b.Load(context.Background(), "https://example.invalid/params.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoadTimeout))

	targets := b.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, StateRendered, targets[0].State(), "the fallback table still answers")
	assert.Equal(t, "299792458", targets[0].Text())
	assert.Equal(t, StateError, targets[1].State())
	assert.Equal(t, "[unresolved: cosmology.H0]", targets[1].Text())

	failures := b.Failures()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Reason, "LoadTimeout")

	stats := b.Stats()
	assert.Equal(t, 1, stats.Fallback)
	assert.Equal(t, KindStats{Success: 1, Failure: 1}, stats.Path)
}

func TestLoad_FetcherIgnoringContextStillTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := FetcherFunc(func(context.Context, string) ([]byte, error) {
		<-release
		return nil, errors.New("released")
	})
	b := New(WithLogger(quietLogger()), WithFetcher(stuck), WithLoadTimeout(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- b.Load(context.Background(), "x") }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLoadTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("Load did not honour its deadline")
	}
}

func TestRender_PlaceholderAndVerboseDiagnostics(t *testing.T) {
	tree := testTree(t, `<span data-param="cosmology.missing">?</span>`)
	b := New(WithLogger(quietLogger()), WithVerbose(true))
	b.Init(testSnapshot(67.4))
	b.Watch(tree)

	out := tree.String()
	assert.Contains(t, out, `[unresolved: cosmology.missing]`)
	assert.Contains(t, out, `data-param-state="error"`)
	assert.Contains(t, out, `data-param-error="unresolved reference &#34;cosmology.missing&#34;`)

	failures := b.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "cosmology.missing", failures[0].Request)
	assert.Equal(t, resolve.KindPath, failures[0].Kind)
	assert.Len(t, failures[0].Attempts, 4)
}

func TestRender_QuietModeHidesDetails(t *testing.T) {
	tree := testTree(t, `<span data-param="cosmology.missing">?</span>`)
	b := New(WithLogger(quietLogger()))
	b.Init(testSnapshot(67.4))
	b.Watch(tree)

	assert.NotContains(t, tree.String(), AttrError)
	assert.Nil(t, b.Failures())
	assert.Equal(t, KindStats{Failure: 1}, b.Stats().Path)
}

func TestRender_UnknownDirectiveFallsBackToRaw(t *testing.T) {
	tree := testTree(t, `<span data-param="cosmology.Omega_m" data-format="sparkly">?</span>`)
	b := New(WithLogger(quietLogger()))
	b.Init(testSnapshot(67.4))
	b.Watch(tree)

	target := b.Targets()[0]
	assert.Equal(t, StateRendered, target.State())
	assert.Equal(t, "0.315", target.Text())
	assert.Error(t, target.Warning())
	assert.Equal(t, 1, b.Stats().Warnings)
}

func TestRefreshAll_Idempotent(t *testing.T) {
	tree := testTree(t, `<span data-param="cosmology.H0" data-format="fixed:2"></span>`+
		`<span data-category="cosmology" data-key="h"></span>`+
		`<span data-param="cosmology.nope"></span>`)
	b := New(WithLogger(quietLogger()))
	b.Init(testSnapshot(67.4))
	b.Watch(tree)

	first := b.RefreshAll()
	renderedFirst := tree.String()
	second := b.RefreshAll()

	assert.Equal(t, renderedFirst, tree.String())
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, first.Pair, second.Pair)
	assert.Equal(t, KindStats{Success: 1, Failure: 1}, second.Path)
	assert.Equal(t, KindStats{Success: 1}, second.Pair)
	assert.Equal(t, 0, second.Processed)
}

// startRun runs the watch loop until the test ends.
func startRun(t *testing.T, b *Binder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRun_BurstOfInsertsIsOnePass(t *testing.T) {
	timers := testutil.NewManualTimers()
	b := New(
		WithLogger(quietLogger()),
		WithTimer(func(d time.Duration) Timer { return timers.New(d) }),
	)
	b.Init(testSnapshot(67.4))

	tree := testTree(t, "")
	b.Watch(tree)
	startRun(t, b)

	body := tree.Body()
	for i := range 50 {
		_, err := tree.Insert(body, fmt.Sprintf(`<span data-param="cosmology.H0" data-format="fixed:%d"></span>`, i%5))
		require.NoError(t, err)
	}

	require.True(t, timers.WaitCreated(1, 5*time.Second), "debounce timer armed")
	require.True(t, timers.FireLatest())
	require.Eventually(t, func() bool { return b.Passes() == 1 }, 5*time.Second, time.Millisecond)

	stats := b.Stats()
	assert.Equal(t, 50, stats.Processed)
	assert.Equal(t, KindStats{Success: 50}, stats.Path)
	assert.Equal(t, 1, timers.Created(), "one window for the whole burst")
	assert.Equal(t, 50*time.Millisecond, DefaultDebounce)

	for _, target := range b.Targets() {
		assert.Equal(t, StateRendered, target.State())
	}
}

func TestRun_OverflowRescansTree(t *testing.T) {
	timers := testutil.NewManualTimers()
	b := New(
		WithLogger(quietLogger()),
		WithQueueSize(2),
		WithTimer(func(d time.Duration) Timer { return timers.New(d) }),
	)
	b.Init(testSnapshot(67.4))

	tree := testTree(t, "")
	b.Watch(tree)
	startRun(t, b)

	body := tree.Body()
	for range 10 {
		_, err := tree.Insert(body, `<span data-param="cosmology.h"></span>`)
		require.NoError(t, err)
	}

	require.True(t, timers.WaitCreated(1, 5*time.Second))
	require.True(t, timers.FireLatest())
	require.Eventually(t, func() bool { return b.Passes() == 1 }, 5*time.Second, time.Millisecond)

	assert.Len(t, b.Targets(), 10, "dropped inserts are recovered by the rescan")
	assert.Equal(t, KindStats{Success: 10}, b.Stats().Path)
}

func TestLoad_HotReloadRerendersTargets(t *testing.T) {
	snaps := map[string][]byte{
		"v1": snapshotBytes(t, testSnapshot(67.4)),
		"v2": snapshotBytes(t, testSnapshot(73)),
	}
	fetcher := FetcherFunc(func(_ context.Context, uri string) ([]byte, error) {
		data, ok := snaps[uri]
		if !ok {
			return nil, os.ErrNotExist
		}
		return data, nil
	})

	tree := testTree(t, `<span data-param="cosmology.H0"></span>`)
	b := New(WithLogger(quietLogger()), WithFetcher(fetcher))
	b.Watch(tree)

	require.NoError(t, b.Load(context.Background(), "v1"))
	b.RefreshAll()
	assert.Equal(t, "67.4", b.Targets()[0].Text())

	require.NoError(t, b.Load(context.Background(), "v2"))
	assert.Equal(t, StatePending, b.Targets()[0].State(), "reload re-enters pending")
	stats := b.RefreshAll()
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, "73", b.Targets()[0].Text())
}

func TestBind_DuplicateIDIsNoop(t *testing.T) {
	b := New()
	b.Init(testSnapshot(67.4))
	b.Bind(NewTarget("t1", resolve.PathRequest("cosmology.H0"), "", nil))
	b.Bind(NewTarget("t1", resolve.PathRequest("cosmology.h"), "", nil))

	require.Len(t, b.Targets(), 1)
	assert.Equal(t, "67.4", b.Targets()[0].Text())
}

func TestReset(t *testing.T) {
	b := New()
	b.Init(testSnapshot(67.4))
	b.Bind(NewTarget("t1", resolve.PathRequest("cosmology.H0"), "", nil))
	b.RefreshAll()

	b.Reset()
	assert.Empty(t, b.Targets())
	assert.Equal(t, Stats{}, b.Stats())
	assert.Equal(t, 0, b.Passes())
	assert.False(t, b.Resolve(resolve.PathRequest("cosmology.H0")).Found, "snapshot dropped")
	assert.True(t, b.Resolve(resolve.PathRequest("constants.c")).Found, "fallback survives reset")
}

func TestBinders_AreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.Init(testSnapshot(67.4))
	b.Init(testSnapshot(73))

	assert.Equal(t, param.Number(67.4), a.Resolve(resolve.PathRequest("cosmology.H0")).Value())
	assert.Equal(t, param.Number(73), b.Resolve(resolve.PathRequest("cosmology.H0")).Value())
}

func TestTargetFromNode_ReadsMarkersLikeTheValidator(t *testing.T) {
	tests := []struct {
		name string
		span string
		want resolve.Request
	}{
		{"path", `<span data-param="cosmology.H0"></span>`, resolve.PathRequest("cosmology.H0")},
		{"padded path", `<span data-param=" cosmology.H0 "></span>`, resolve.PathRequest("cosmology.H0")},
		{"blank path falls back to pair", `<span data-param="" data-category="cosmology" data-key="H0"></span>`, resolve.PairRequest("cosmology", "H0")},
		{"padded pair", `<span data-category=" cosmology" data-key="H0 "></span>`, resolve.PairRequest("cosmology", "H0")},
		{"first duplicate wins", `<span data-param="cosmology.H0" data-param="cosmology.nope"></span>`, resolve.PathRequest("cosmology.H0")},
	}

	snap := testSnapshot(67.4)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := "<html><body>" + tt.span + "</body></html>"

			refs, err := validate.Scan(validate.Document{Name: "page.html", Kind: validate.KindHTML, Body: []byte(page)})
			require.NoError(t, err)
			require.Len(t, refs, 1)
			report, err := validate.Validate(snap, []validate.Document{{Name: "page.html", Kind: validate.KindHTML, Body: []byte(page)}}, nil)
			require.NoError(t, err)

			b := New(WithLogger(quietLogger()))
			b.Watch(testTree(t, tt.span))
			b.Init(snap)
			b.RefreshAll()
			targets := b.Targets()
			require.Len(t, targets, 1)

			assert.Equal(t, tt.want, refs[0].Request)
			assert.Equal(t, refs[0].Request, targets[0].Request)
			assert.Empty(t, report.Unresolved)
			assert.Equal(t, StateRendered, targets[0].State())
			assert.Equal(t, "67.4", targets[0].Text())
		})
	}
}

func TestWatch_ConcurrentInsertsAreAllBound(t *testing.T) {
	timers := testutil.NewManualTimers()
	b := New(
		WithLogger(quietLogger()),
		WithTimer(func(d time.Duration) Timer { return timers.New(d) }),
	)
	b.Init(testSnapshot(67.4))
	startRun(t, b)

	const n = 40
	tree := testTree(t, "")
	body := tree.Body()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range n {
			_, err := tree.Insert(body, `<span data-param="cosmology.H0"></span>`)
			assert.NoError(t, err)
		}
	}()
	b.Watch(tree)
	<-done

	require.Eventually(t, func() bool {
		timers.FireLatest()
		return b.Stats().Path.Success == n
	}, 5*time.Second, time.Millisecond)
	assert.Len(t, b.Targets(), n)
}

func TestReset_StopsWatching(t *testing.T) {
	b := New(WithLogger(quietLogger()))
	b.Init(testSnapshot(67.4))
	tree := testTree(t, `<span data-param="cosmology.H0"></span>`)
	b.Watch(tree)
	require.Len(t, b.Targets(), 1)

	b.Reset()
	_, err := tree.Insert(tree.Body(), `<span data-param="cosmology.h"></span>`)
	require.NoError(t, err)

	assert.Equal(t, 0, b.queue.Len(), "reset binder no longer queues inserts")
	b.Init(testSnapshot(67.4))
	b.RefreshAll()
	assert.Empty(t, b.Targets())
}
