package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"chanrelay/work/logger"
	"chanrelay/work/types"
)

// Schema identifies which of the known feed layouts a document uses.
type Schema int

const (
	// SchemaWrapped is an object whose "response" field holds the entry list.
	SchemaWrapped Schema = iota + 1
	// SchemaBare is a top-level list of entries with nested source objects.
	SchemaBare
)

func (s Schema) String() string {
	switch s {
	case SchemaWrapped:
		return "wrapped"
	case SchemaBare:
		return "bare"
	default:
		return "unknown"
	}
}

// ErrUnknownSchema is returned when a document matches neither layout.
var ErrUnknownSchema = errors.New("feed document matches no known schema")

// Payload is a decoded feed document whose entries have not been normalized yet.
type Payload struct {
	Schema  Schema
	entries []json.RawMessage
}

// Len returns the number of raw entries in the document.
func (p *Payload) Len() int {
	return len(p.entries)
}

// wrappedEntry is one element of the "response" list.
type wrappedEntry struct {
	CategoryName string `json:"category_name"`
	Name         string `json:"name"`
	Logo         string `json:"logo"`
	Link         string `json:"link"`
	Cookie       string `json:"cookie"`
	DRMScheme    string `json:"drmScheme"`
	DRMLicense   string `json:"drmLicense"`
}

// bareEntry is one element of a top-level list.
type bareEntry struct {
	Group  string `json:"group"`
	Name   string `json:"name"`
	Logo   string `json:"logo"`
	Source struct {
		URL     string         `json:"url"`
		Headers map[string]any `json:"headers"`
	} `json:"source"`
}

// strategy maps one raw entry to a record; ok is false when the entry is unusable.
type strategy func(raw json.RawMessage, serverName string) (types.ChannelRecord, bool)

var strategies = map[Schema]strategy{
	SchemaWrapped: normalizeWrapped,
	SchemaBare:    normalizeBare,
}

// Decode parses a feed document and detects its schema.
func Decode(data []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty feed document: %w", ErrUnknownSchema)
	}

	switch trimmed[0] {
	case '{':
		var doc struct {
			Response *json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse feed object: %w", err)
		}
		if doc.Response == nil {
			return nil, fmt.Errorf("object without response field: %w", ErrUnknownSchema)
		}
		var entries []json.RawMessage
		if err := json.Unmarshal(*doc.Response, &entries); err != nil {
			return nil, fmt.Errorf("response field is not a list: %w", ErrUnknownSchema)
		}
		return &Payload{Schema: SchemaWrapped, entries: entries}, nil

	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse feed list: %w", err)
		}
		return &Payload{Schema: SchemaBare, entries: entries}, nil

	default:
		return nil, ErrUnknownSchema
	}
}

// Records returns the candidate records of the payload in document order, each
// labelled with serverName. Entries without a name or link, or that do not have
// the shape of their schema, are skipped.
func (p *Payload) Records(serverName string) iter.Seq[types.ChannelRecord] {
	normalize := strategies[p.Schema]
	return func(yield func(types.ChannelRecord) bool) {
		if normalize == nil {
			return
		}
		for i, raw := range p.entries {
			rec, ok := normalize(raw, serverName)
			if !ok {
				logger.Debug("{feed/normalize - Records} Skipping %s entry %d from %s", p.Schema, i, serverName)
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

func normalizeWrapped(raw json.RawMessage, serverName string) (types.ChannelRecord, bool) {
	var e wrappedEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return types.ChannelRecord{}, false
	}
	rec := types.ChannelRecord{
		CategoryName: e.CategoryName,
		Name:         e.Name,
		Logo:         e.Logo,
		Link:         e.Link,
		Cookie:       e.Cookie,
		DRMScheme:    e.DRMScheme,
		DRMLicense:   e.DRMLicense,
		ServerName:   serverName,
	}
	return rec, rec.Valid()
}

func normalizeBare(raw json.RawMessage, serverName string) (types.ChannelRecord, bool) {
	var e bareEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return types.ChannelRecord{}, false
	}
	userAgent, _ := e.Source.Headers["User-Agent"].(string)
	rec := types.ChannelRecord{
		CategoryName: e.Group,
		Name:         e.Name,
		Logo:         e.Logo,
		Link:         e.Source.URL,
		ServerName:   serverName,
		UserAgent:    userAgent,
	}
	return rec, rec.Valid()
}
