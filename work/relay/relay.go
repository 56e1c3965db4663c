package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"chanrelay/work/buffer"
	"chanrelay/work/client"
	"chanrelay/work/config"
	"chanrelay/work/logger"
	"chanrelay/work/metrics"
	"chanrelay/work/parser"
	"chanrelay/work/rewrite"
	"chanrelay/work/types"
	"chanrelay/work/utils"
)

// ManifestContentType is the content type of every rewritten manifest.
const ManifestContentType = "application/x-mpegURL"

// maxManifestSize bounds how much of an upstream manifest is read.
var maxManifestSize int64 = 16 << 20

var (
	// ErrNotFound means no record matched the request; no upstream fetch was made.
	ErrNotFound = errors.New("channel not found")

	// ErrForbidden means the upstream answered 403, usually an expired or protected link.
	ErrForbidden = errors.New("upstream refused access")
)

// UpstreamError is any upstream failure other than 403.
type UpstreamError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ChannelLookup resolves records from the published directory.
type ChannelLookup interface {
	GetByID(id int64) (types.ChannelRecord, bool)
	GetByName(name string) []types.ChannelRecord
}

// Query is a parsed relay request.
type Query struct {
	URL       string // absolute upstream URL; empty means the record's own link
	Channel   string // logical channel name
	ServerID  int64
	HasServer bool // ServerID was supplied and takes precedence over Channel
}

// Relay fetches upstream manifests and media on behalf of a record, applying
// the record's headers, and rewrites manifests so follow-up requests come back
// through the relay.
type Relay struct {
	Config     *config.Config
	Directory  ChannelLookup
	HttpClient *client.HeaderSettingClient
	BufferPool *buffer.BufferPool
}

// New creates a Relay.
func New(cfg *config.Config, dir ChannelLookup, httpClient *client.HeaderSettingClient, bufferPool *buffer.BufferPool) *Relay {
	return &Relay{
		Config:     cfg,
		Directory:  dir,
		HttpClient: httpClient,
		BufferPool: bufferPool,
	}
}

// IsManifestURL reports whether rawURL names an HLS manifest. The check is a
// case-insensitive ".m3u8" in the path, or anywhere in the string when it does
// not parse as a URL.
func IsManifestURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.Contains(strings.ToLower(rawURL), ".m3u8")
	}
	return strings.Contains(strings.ToLower(u.Path), ".m3u8")
}

func isManifestContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "mpegurl")
}

// Resolve finds the record a query refers to. An explicit server id wins;
// otherwise the first record carrying the channel name is used.
func (rl *Relay) Resolve(q Query) (types.ChannelRecord, error) {
	if q.HasServer {
		if rec, ok := rl.Directory.GetByID(q.ServerID); ok {
			return rec, nil
		}
		return types.ChannelRecord{}, ErrNotFound
	}
	if recs := rl.Directory.GetByName(q.Channel); len(recs) > 0 {
		return recs[0], nil
	}
	return types.ChannelRecord{}, ErrNotFound
}

// Serve relays one request. On success the response has been written and nil
// is returned. ErrNotFound, ErrForbidden and *UpstreamError are returned before
// anything is written so the caller can map them to a status. A query without
// a URL plays the record's own link, which is how a viewer opens a channel.
func (rl *Relay) Serve(w http.ResponseWriter, r *http.Request, q Query) error {
	rec, err := rl.Resolve(q)
	if err != nil {
		kind := "media"
		if q.URL == "" || IsManifestURL(q.URL) {
			kind = "manifest"
		}
		metrics.RelayRequests.WithLabelValues(kind, "not_found").Inc()
		logger.Debug("{relay/relay - Serve} No record for channel %q (server %d, explicit %t)", q.Channel, q.ServerID, q.HasServer)
		return err
	}

	target := q.URL
	if target == "" {
		target = rec.Link
	}
	kind := "media"
	if IsManifestURL(target) {
		kind = "manifest"
	}

	resp, err := rl.fetch(r.Context(), target, rec)
	if err != nil {
		metrics.RelayRequests.WithLabelValues(kind, classify(err)).Inc()
		logger.Warn("{relay/relay - Serve} Upstream %s fetch failed for %s on %s: %v", kind, rec.Name, rec.ServerName, err)
		return err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if kind == "manifest" || isManifestContentType(contentType) {
		err = rl.serveManifest(w, resp, target, rec)
		kind = "manifest"
	} else {
		err = rl.serveMedia(w, resp, rec)
	}
	metrics.RelayRequests.WithLabelValues(kind, classify(err)).Inc()
	return err
}

func (rl *Relay) fetch(ctx context.Context, rawURL string, rec types.ChannelRecord) (*http.Response, error) {
	logger.Debug("{relay/relay - fetch} Fetching %s for %s (server %d)", utils.LogURL(rl.Config, rawURL), rec.Name, rec.ID)

	resp, err := rl.HttpClient.Get(ctx, rawURL, rec.Headers)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrForbidden
	case resp.StatusCode >= http.StatusBadRequest:
		resp.Body.Close()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), utils.LogURL(rl.Config, rawURL)),
		}
	}
	return resp, nil
}

func (rl *Relay) serveManifest(w http.ResponseWriter, resp *http.Response, origin string, rec types.ChannelRecord) error {
	body, err := rl.BufferPool.ReadAll(resp.Body, maxManifestSize)
	if err != nil {
		return &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read manifest: %w", err)}
	}

	manifest := string(body)
	info := parser.Inspect(manifest)
	metrics.ManifestKinds.WithLabelValues(string(info.Kind)).Inc()

	rewritten := rewrite.Rewrite(manifest, types.RewriteContext{
		Origin:   origin,
		Channel:  rec.Name,
		ServerID: rec.ID,
		Prefix:   rl.Config.ProxyPrefix(),
	})

	logger.Debug("{relay/relay - serveManifest} Rewrote %s playlist for %s (%d variants, %d segments)", info.Kind, rec.Name, info.Variants, info.Segments)

	w.Header().Set("Content-Type", ManifestContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(rewritten)); err != nil {
		logger.Debug("{relay/relay - serveManifest} Client went away for %s: %v", rec.Name, err)
	}
	return nil
}

func (rl *Relay) serveMedia(w http.ResponseWriter, resp *http.Response, rec types.ChannelRecord) error {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	crw := client.NewCustomResponseWriter(w)
	crw.Header().Set("Content-Type", contentType)
	crw.WriteHeader(http.StatusOK)
	crw.Flush()

	n, err := rl.BufferPool.Copy(crw, resp.Body, crw.Flush)
	metrics.BytesTransferred.WithLabelValues(rec.ServerName).Add(float64(n))
	if err != nil {
		// Headers are out, so nothing more can be reported to the viewer
		logger.Debug("{relay/relay - serveMedia} Transfer for %s ended after %d bytes: %v", rec.Name, n, err)
	}
	return nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
