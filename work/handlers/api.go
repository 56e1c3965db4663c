package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"chanrelay/work/cache"
	"chanrelay/work/database"
	"chanrelay/work/directory"
	"chanrelay/work/logger"
	"chanrelay/work/rewrite"
	"chanrelay/work/types"

	"github.com/gorilla/mux"
)

// ChannelEntry is a record as shown to viewers, with the relay URL that opens it.
type ChannelEntry struct {
	types.ChannelRecord
	StreamURL string `json:"streamUrl"`
}

// GroupedEntry is one row of the grouped listing.
type GroupedEntry struct {
	types.GroupedChannel
	StreamURL string `json:"streamUrl"`
}

// ChannelList is the body of GET /api/channels.
type ChannelList struct {
	Generation uint64         `json:"generation"`
	BuiltAt    time.Time      `json:"builtAt"`
	Channels   []GroupedEntry `json:"channels"`
}

// ChannelDetail is the body of GET /api/channels/{id}.
type ChannelDetail struct {
	Channel ChannelEntry   `json:"channel"`
	Servers []ChannelEntry `json:"servers"` // every record sharing the channel name, this one included
}

func entry(prefix string, rec types.ChannelRecord) ChannelEntry {
	return ChannelEntry{ChannelRecord: rec, StreamURL: rewrite.EntryURL(prefix, rec.Name, rec.ID)}
}

// StatusReport is the body of GET /api/status.
type StatusReport struct {
	Generation uint64             `json:"generation"`
	BuiltAt    time.Time          `json:"builtAt"`
	Records    int                `json:"records"`
	Channels   int                `json:"channels"`
	Feeds      []types.FeedStatus `json:"feeds"`
	Snapshot   *database.Stats    `json:"snapshot,omitempty"`
}

// FeedStatusSource exposes per-feed refresh results.
type FeedStatusSource interface {
	Statuses() []types.FeedStatus
}

// HandleChannels lists the directory grouped by channel name. Rendered bodies
// are cached per generation. prefix is the relay endpoint used in stream URLs.
func HandleChannels(dir *directory.Directory, responses *cache.Cache, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gen := dir.Current()
		key := cache.Key(gen.Seq, "/api/channels")

		if cached, ok := responses.Get(key); ok {
			w.Header().Set("Content-Type", cached.ContentType)
			w.Header().Set("X-Cache", "HIT")
			w.Write(cached.Body)
			return
		}

		grouped := gen.ListGrouped()
		channels := make([]GroupedEntry, len(grouped))
		for i, g := range grouped {
			channels[i] = GroupedEntry{GroupedChannel: g, StreamURL: rewrite.EntryURL(prefix, g.Name, g.ID)}
		}

		body, err := json.Marshal(ChannelList{
			Generation: gen.Seq,
			BuiltAt:    gen.BuiltAt,
			Channels:   channels,
		})
		if err != nil {
			logger.Error("{handlers/api - HandleChannels} Failed to render channel list: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to render channel list")
			return
		}

		responses.Set(key, cache.Entry{ContentType: "application/json", Body: body})

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "MISS")
		w.Write(body)
	}
}

// HandleChannel returns one record and its sibling servers.
func HandleChannel(dir *directory.Directory, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid channel id")
			return
		}

		gen := dir.Current()
		rec, ok := gen.GetByID(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "channel not found")
			return
		}

		siblings := gen.GetByName(rec.Name)
		servers := make([]ChannelEntry, len(siblings))
		for i, s := range siblings {
			servers[i] = entry(prefix, s)
		}

		writeJSON(w, http.StatusOK, ChannelDetail{
			Channel: entry(prefix, rec),
			Servers: servers,
		})
	}
}

// HandleStatus reports the published generation, the outcome of every feed in
// the latest refresh and, when enabled, the on-disk snapshot.
func HandleStatus(dir *directory.Directory, feeds FeedStatusSource, snapshot *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gen := dir.Current()
		report := StatusReport{
			Generation: gen.Seq,
			BuiltAt:    gen.BuiltAt,
			Records:    gen.Len(),
			Channels:   len(gen.ListGrouped()),
			Feeds:      feeds.Statuses(),
		}
		if report.Feeds == nil {
			report.Feeds = []types.FeedStatus{}
		}

		if snapshot != nil {
			stats, err := snapshot.GetStats()
			if err != nil {
				logger.Warn("{handlers/api - HandleStatus} Failed to read snapshot stats: %v", err)
			} else {
				report.Snapshot = &stats
			}
		}

		writeJSON(w, http.StatusOK, report)
	}
}
