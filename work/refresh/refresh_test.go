package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chanrelay/work/client"
	"chanrelay/work/config"
	"chanrelay/work/directory"
	"chanrelay/work/types"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChecker accepts every link except those listed as dead, and records the
// headers it was called with.
type fakeChecker struct {
	mu      sync.Mutex
	dead    map[string]bool
	calls   []string
	headers map[string]types.Headers
}

func newFakeChecker(dead ...string) *fakeChecker {
	fc := &fakeChecker{dead: map[string]bool{}, headers: map[string]types.Headers{}}
	for _, d := range dead {
		fc.dead[d] = true
	}
	return fc
}

func (f *fakeChecker) Validate(_ context.Context, link string, h types.Headers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, link)
	f.headers[link] = h
	if f.dead[link] {
		return errors.New("dead")
	}
	return nil
}

// feedServer serves the given documents at /<name>.
func feedServer(t *testing.T, docs map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, ok := docs[r.URL.Path[1:]]
		if !ok {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRefresher(t *testing.T, checker LinkChecker, workers int) (*Refresher, *directory.Directory) {
	t.Helper()
	cfg := config.Normalize(&config.Config{FeedTimeout: time.Second, ValidateWorkers: workers})
	dir := directory.New()
	var pool *ants.Pool
	if workers > 1 {
		p, err := ants.NewPool(workers)
		require.NoError(t, err)
		t.Cleanup(p.Release)
		pool = p
	}
	return New(cfg, dir, client.NewHeaderSettingClient(), checker, pool), dir
}

const wrappedDoc = `{"response": [
	{"category_name": "News", "name": "Alpha", "link": "L1", "cookie": "c=1"},
	{"name": "Beta", "link": "L2"},
	{"name": "Beta Again", "link": "L2"},
	{"name": "NoLink"}
]}`

const bareDoc = `[
	{"group": "Sports", "name": "Alpha", "source": {"url": "L3", "headers": {"User-Agent": "UA/1"}}},
	{"name": "Gamma", "source": {"url": "L1"}}
]`

func feeds(srv *httptest.Server, names ...string) []config.FeedConfig {
	out := make([]config.FeedConfig, len(names))
	for i, n := range names {
		out[i] = config.FeedConfig{Name: fmt.Sprintf("Server %d", i+1), URL: srv.URL + "/" + n}
	}
	return out
}

func TestRefreshAcrossFeeds(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			srv := feedServer(t, map[string]string{"a": wrappedDoc, "b": bareDoc})
			checker := newFakeChecker()
			r, dir := newRefresher(t, checker, workers)

			gen := r.Refresh(context.Background(), feeds(srv, "a", "b"))
			assert.Same(t, gen, dir.Current())

			recs := gen.Records()
			require.Len(t, recs, 3)
			assert.Equal(t, []string{"L1", "L2", "L3"}, []string{recs[0].Link, recs[1].Link, recs[2].Link})
			assert.Equal(t, "Server 1", recs[0].ServerName)
			assert.Equal(t, "Beta", recs[1].Name)
			assert.Equal(t, "Server 2", recs[2].ServerName)
			assert.Equal(t, types.HeadersFor("c=1", ""), recs[0].Headers)
			assert.Equal(t, types.HeadersFor("", "UA/1"), recs[2].Headers)
			assert.Equal(t, types.HeadersFor("", "UA/1"), checker.headers["L3"])

			// Alpha is carried by both feeds
			alpha := dir.GetByName("Alpha")
			require.Len(t, alpha, 2)
			assert.Equal(t, "Server 1", alpha[0].ServerName)
			assert.Equal(t, "Server 2", alpha[1].ServerName)

			// Each distinct link is checked once
			assert.Len(t, checker.calls, 3)

			st := r.Statuses()
			require.Len(t, st, 2)
			assert.Equal(t, 3, st[0].Candidates)
			assert.Equal(t, 2, st[0].Accepted)
			assert.Equal(t, 1, st[0].Duplicates)
			assert.Equal(t, 2, st[1].Candidates)
			assert.Equal(t, 1, st[1].Accepted)
			assert.Equal(t, 1, st[1].Duplicates)
		})
	}
}

func TestRefreshFailedFirstOccurrenceLetsLaterDuplicateTry(t *testing.T) {
	srv := feedServer(t, map[string]string{"a": `[
		{"name": "First", "source": {"url": "L1", "headers": {"User-Agent": "bad"}}},
		{"name": "Second", "source": {"url": "L1", "headers": {"User-Agent": "good"}}}
	]`})

	checker := &headerChecker{}
	r, _ := newRefresher(t, checker, 4)
	gen := r.Refresh(context.Background(), feeds(srv, "a"))

	recs := gen.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Second", recs[0].Name)

	st := r.Statuses()
	require.Len(t, st, 1)
	assert.Equal(t, 1, st[0].Rejected)
	assert.Equal(t, 1, st[0].Accepted)
}

type headerChecker struct{}

func (headerChecker) Validate(_ context.Context, _ string, h types.Headers) error {
	if h.UserAgent != "good" {
		return errors.New("refused")
	}
	return nil
}

func TestRefreshSkipsBrokenFeed(t *testing.T) {
	srv := feedServer(t, map[string]string{"b": bareDoc, "bad": `{"unexpected": true}`})
	r, _ := newRefresher(t, newFakeChecker(), 1)

	gen := r.Refresh(context.Background(), feeds(srv, "missing", "bad", "b"))
	assert.Equal(t, 2, gen.Len())

	st := r.Statuses()
	require.Len(t, st, 3)
	assert.Contains(t, st[0].Error, "500")
	assert.NotEmpty(t, st[1].Error)
	assert.Empty(t, st[2].Error)
}

func TestRefreshAllFeedsFailPublishesEmpty(t *testing.T) {
	srv := feedServer(t, map[string]string{"b": bareDoc})
	r, dir := newRefresher(t, newFakeChecker(), 1)

	r.Refresh(context.Background(), feeds(srv, "b"))
	require.Equal(t, 2, dir.Current().Len())

	gen := r.Refresh(context.Background(), feeds(srv, "gone"))
	assert.Zero(t, gen.Len())
	assert.Empty(t, dir.ListGrouped())
}

func TestRefreshAppliesFilters(t *testing.T) {
	srv := feedServer(t, map[string]string{"a": wrappedDoc})
	r, _ := newRefresher(t, newFakeChecker(), 1)

	fs := feeds(srv, "a")
	fs[0].ExcludeRegex = "Beta"
	gen := r.Refresh(context.Background(), fs)

	require.Equal(t, 1, gen.Len())
	assert.Equal(t, "Alpha", gen.Records()[0].Name)
	assert.Equal(t, 2, r.Statuses()[0].Filtered)
}

func TestRefreshRejectsDeadLinks(t *testing.T) {
	srv := feedServer(t, map[string]string{"a": wrappedDoc})
	r, _ := newRefresher(t, newFakeChecker("L2"), 4)

	gen := r.Refresh(context.Background(), feeds(srv, "a"))
	require.Equal(t, 1, gen.Len())
	assert.Equal(t, "L1", gen.Records()[0].Link)
	assert.Equal(t, 2, r.Statuses()[0].Rejected)
}

type recordingMirror struct {
	seqs []uint64
}

func (m *recordingMirror) ReplaceChannels(_ context.Context, gen *directory.Generation) error {
	m.seqs = append(m.seqs, gen.Seq)
	return errors.New("disk full")
}

func TestRefreshHooks(t *testing.T) {
	srv := feedServer(t, map[string]string{"b": bareDoc})
	r, dir := newRefresher(t, newFakeChecker(), 1)

	mirror := &recordingMirror{}
	var published []uint64
	r.Mirror = mirror
	r.OnPublish = func(gen *directory.Generation) { published = append(published, gen.Seq) }

	gen := r.Refresh(context.Background(), feeds(srv, "b"))

	// A failing mirror does not affect the directory
	assert.Same(t, gen, dir.Current())
	assert.Equal(t, []uint64{gen.Seq}, mirror.seqs)
	assert.Equal(t, []uint64{gen.Seq}, published)
}

func TestRefreshCancelledKeepsCurrent(t *testing.T) {
	srv := feedServer(t, map[string]string{"b": bareDoc})
	r, dir := newRefresher(t, newFakeChecker(), 1)
	before := r.Refresh(context.Background(), feeds(srv, "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	after := r.Refresh(ctx, feeds(srv, "b"))
	assert.Same(t, before, after)
	assert.Same(t, before, dir.Current())
}

func TestRunRefreshesImmediatelyAndStops(t *testing.T) {
	srv := feedServer(t, map[string]string{"b": bareDoc})
	r, dir := newRefresher(t, newFakeChecker(), 1)
	r.Config.Feeds = feeds(srv, "b")
	r.Config.RefreshInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return dir.Current().Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh loop did not stop")
	}
}
