package client

import (
	"context"
	"net/http"
	"time"

	"chanrelay/work/types"
)

// HeaderSettingClient wraps http.Client and applies a record's upstream headers
// to every request it sends.
type HeaderSettingClient struct {
	Client *http.Client
}

// CustomResponseWriter wraps http.ResponseWriter to track headers and implement Flusher
type CustomResponseWriter struct {
	http.ResponseWriter
	WroteHeader bool
	statusCode  int
	written     int64
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     false,
		ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
	}
}

// NewHeaderSettingClient returns a client for relaying manifests and media.
// There is no overall timeout so long segment transfers are not cut off.
func NewHeaderSettingClient() *HeaderSettingClient {
	return &HeaderSettingClient{
		Client: &http.Client{
			Timeout:   0,
			Transport: newTransport(),
		},
	}
}

// NewNoRedirectClient returns a client that reports 3xx responses as-is
// instead of following them. Used for liveness checks.
func NewNoRedirectClient() *HeaderSettingClient {
	return &HeaderSettingClient{
		Client: &http.Client{
			Transport: newTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do sends req with the record headers applied.
func (hsc *HeaderSettingClient) Do(req *http.Request, h types.Headers) (*http.Response, error) {
	hsc.setHeaders(req, h)
	return hsc.Client.Do(req)
}

// Get is a convenience wrapper building a GET request bound to ctx.
func (hsc *HeaderSettingClient) Get(ctx context.Context, rawURL string, h types.Headers) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return hsc.Do(req, h)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request, h types.Headers) {
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")
	if h.Empty() {
		return
	}
	h.Apply(req)
}

// CustomResponseWriter implementation
func NewCustomResponseWriter(w http.ResponseWriter) *CustomResponseWriter {
	return &CustomResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

func (crw *CustomResponseWriter) WriteHeader(statusCode int) {
	if crw.WroteHeader {
		return
	}

	crw.Header().Set("Cache-Control", "no-cache")

	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
	crw.WroteHeader = true
}

func (crw *CustomResponseWriter) Write(b []byte) (int, error) {
	if !crw.WroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	n, err := crw.ResponseWriter.Write(b)
	crw.written += int64(n)
	return n, err
}

// Written returns the number of body bytes written so far.
func (crw *CustomResponseWriter) Written() int64 {
	return crw.written
}

// StatusCode returns the status sent, or 0 if nothing was written yet.
func (crw *CustomResponseWriter) StatusCode() int {
	return crw.statusCode
}

// Implement http.Flusher interface
func (crw *CustomResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
