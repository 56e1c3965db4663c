package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"chanrelay/work/logger"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// gzipWriterPool maintains a reusable pool of gzip writers at BestSpeed.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// brotliWriterPool maintains a reusable pool of brotli writers at a fast level.
var brotliWriterPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewWriterLevel(io.Discard, 4)
	},
}

// encoder is the subset of gzip.Writer and brotli.Writer used here.
type encoder interface {
	io.WriteCloser
	Flush() error
	Reset(w io.Writer)
}

// compressResponseWriter wraps an http.ResponseWriter with a compressing io.Writer.
type compressResponseWriter struct {
	enc                 encoder
	http.ResponseWriter      // Embedded original response writer for header access
	wroteHeader         bool // Tracks whether WriteHeader has been called
}

// WriteHeader records the status on the underlying ResponseWriter. The body
// length is unknown once compressed, so any Content-Length is dropped.
func (w *compressResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

// Write compresses b, sending a 200 status first if none was set.
func (w *compressResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.enc.Write(b)
}

// Flush flushes the encoder and then the underlying response writer.
func (w *compressResponseWriter) Flush() {
	w.enc.Flush()
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// negotiate picks the encoding for an Accept-Encoding value. Brotli is
// preferred over gzip; an explicit q=0 disables an encoding.
func negotiate(acceptEncoding string) string {
	var br, gz bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "br":
			br = true
		case "gzip":
			gz = true
		}
	}
	switch {
	case br:
		return "br"
	case gz:
		return "gzip"
	default:
		return ""
	}
}

// CompressionMiddleware wraps an http.HandlerFunc with transparent brotli or
// gzip response compression, chosen from the request's Accept-Encoding header.
// Requests from clients that advertise neither pass through unmodified.
func CompressionMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		encoding := negotiate(r.Header.Get("Accept-Encoding"))
		if encoding == "" {
			next(w, r)
			return
		}

		var pool *sync.Pool
		if encoding == "br" {
			pool = &brotliWriterPool
		} else {
			pool = &gzipWriterPool
		}

		w.Header().Set("Content-Encoding", encoding)
		w.Header().Del("Content-Length")

		enc := pool.Get().(encoder)
		enc.Reset(w)
		defer func() {
			if err := enc.Close(); err != nil {
				logger.Error("{middleware/compression - CompressionMiddleware} failed to close %s writer for: %s %s - %v", encoding, r.Method, r.URL.Path, err)
			}
			pool.Put(enc)
		}()

		next(&compressResponseWriter{enc: enc, ResponseWriter: w}, r)
	}
}
