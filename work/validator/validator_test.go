package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chanrelay/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/moved":
			http.Redirect(w, r, "/gone", http.StatusFound)
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "/slow":
			time.Sleep(300 * time.Millisecond)
		case "/needs-cookie":
			if r.Header.Get("Cookie") != "auth=1" || r.Header.Get("User-Agent") != "UA/1" {
				w.WriteHeader(http.StatusUnauthorized)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidate(t *testing.T) {
	srv := newUpstream(t)
	v := New(100*time.Millisecond, 0)

	tests := []struct {
		name    string
		link    string
		headers types.Headers
		ok      bool
	}{
		{"ok", srv.URL + "/ok", types.Headers{}, true},
		{"redirect counts as reachable", srv.URL + "/moved", types.Headers{}, true},
		{"forbidden", srv.URL + "/forbidden", types.Headers{}, false},
		{"server error", srv.URL + "/broken", types.Headers{}, false},
		{"not found", srv.URL + "/nope", types.Headers{}, false},
		{"timeout", srv.URL + "/slow", types.Headers{}, false},
		{"headers applied", srv.URL + "/needs-cookie", types.HeadersFor("auth=1", "UA/1"), true},
		{"headers missing", srv.URL + "/needs-cookie", types.Headers{}, false},
		{"unsupported scheme", "rtmp://example/live", types.Headers{}, false},
		{"unparseable", "http://[::1", types.Headers{}, false},
		{"unreachable", "http://127.0.0.1:1/x", types.Headers{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(context.Background(), tt.link, tt.headers)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateUsesHead(t *testing.T) {
	var method atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
	}))
	defer srv.Close()

	require.NoError(t, New(time.Second, 0).Validate(context.Background(), srv.URL, types.Headers{}))
	assert.Equal(t, http.MethodHead, method.Load())
}

func TestPacingDoesNotDropChecks(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	v := New(time.Second, 100)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Validate(context.Background(), srv.URL, types.Headers{}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), hits.Load())
	assert.Equal(t, 1, v.limiters.Size())
}
