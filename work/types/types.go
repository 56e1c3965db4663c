package types

import (
	"net/http"
	"time"
)

// Headers is the per-record set of upstream request headers. It is composed once
// when a record is admitted into the directory and applied unchanged to every
// upstream request made on behalf of that record (liveness check, manifest fetch,
// segment and key relay).
type Headers struct {
	Cookie    string // Opaque auth cookie supplied by the feed, sent as the Cookie header
	UserAgent string // User-Agent override supplied by the feed
}

// HeadersFor builds the header set for a record from its cookie and user-agent.
func HeadersFor(cookie, userAgent string) Headers {
	return Headers{Cookie: cookie, UserAgent: userAgent}
}

// Empty reports whether no header would be set.
func (h Headers) Empty() bool {
	return h.Cookie == "" && h.UserAgent == ""
}

// Apply sets the non-empty headers on req.
func (h Headers) Apply(req *http.Request) {
	if h.Cookie != "" {
		req.Header.Set("Cookie", h.Cookie)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
}

// ChannelRecord represents one (channel, server) pairing in the directory. A
// logical channel is identified by Name and may be carried by several servers,
// each one a separate record sourced from a different feed.
//
// Link, Cookie and UserAgent are upstream secrets: they are used by the relay
// but never serialized to viewers, which is why they carry json:"-".
type ChannelRecord struct {
	ID           int64   `json:"id"`                   // Process-lifetime unique id, assigned on insert
	CategoryName string  `json:"categoryName"`         // Optional grouping label
	Name         string  `json:"name"`                 // Logical channel name, shared across servers
	Logo         string  `json:"logo"`                 // Optional logo URL
	Link         string  `json:"-"`                    // Real upstream URL
	Cookie       string  `json:"-"`                    // Optional Cookie header value
	DRMScheme    string  `json:"drmScheme,omitempty"`  // Passthrough DRM metadata
	DRMLicense   string  `json:"drmLicense,omitempty"` // Passthrough DRM metadata
	ServerName   string  `json:"serverName"`           // Label of the feed that supplied this record
	UserAgent    string  `json:"-"`                    // Optional User-Agent override
	Headers      Headers `json:"-"`                    // Composed from Cookie and UserAgent at insert time
}

// Valid reports whether the record carries the two required fields.
func (r ChannelRecord) Valid() bool {
	return r.Name != "" && r.Link != ""
}

// GroupedChannel is one entry of the grouped directory overview: a representative
// record for a channel name plus the number of servers carrying that name.
type GroupedChannel struct {
	ChannelRecord
	ServerCount int `json:"serverCount"`
}

// RewriteContext carries the request-scoped values needed to turn a manifest
// reference into a proxied URL. It is never persisted.
type RewriteContext struct {
	Origin   string // URL the manifest was fetched from, used as the resolution base
	Channel  string // Channel name echoed into proxied URLs
	ServerID int64  // Record id echoed into proxied URLs
	Prefix   string // Proxy endpoint, e.g. "/stream" or "https://relay.example/stream"
}

// FeedStatus describes the outcome of one feed during the most recent refresh.
type FeedStatus struct {
	Name       string        `json:"name"`
	Candidates int           `json:"candidates"` // Records emitted by the normalizer
	Filtered   int           `json:"filtered"`   // Dropped by include/exclude rules
	Duplicates int           `json:"duplicates"` // Dropped because the link was already accepted
	Rejected   int           `json:"rejected"`   // Failed the liveness check
	Accepted   int           `json:"accepted"`   // Made it into the generation
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}
