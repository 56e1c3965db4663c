package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"chanrelay/work/logger"
	"chanrelay/work/relay"
)

// Messages returned by the stream endpoint. Players show them as is.
const (
	msgMissingURL     = "Missing URL parameter"
	msgMissingChannel = "Missing channel parameter"
	msgInvalidServer  = "Invalid server parameter"
	msgNotFound       = "Channel not found"
	msgForbidden      = "Forbidden: The stream link may be expired or protected."
)

// HandleStream relays a manifest, segment or key for a channel. The query
// carries the upstream url, the channel name and an optional server id. With a
// server id the url may be omitted to open that record's own stream.
func HandleStream(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()

		q := relay.Query{
			URL:     params.Get("url"),
			Channel: params.Get("channel"),
		}
		if server := params.Get("server"); server != "" {
			id, err := strconv.ParseInt(server, 10, 64)
			if err != nil {
				http.Error(w, msgInvalidServer, http.StatusBadRequest)
				return
			}
			q.ServerID = id
			q.HasServer = true
		}

		// without a url only an explicit server can name the upstream
		if q.URL == "" && !q.HasServer {
			http.Error(w, msgMissingURL, http.StatusBadRequest)
			return
		}
		if q.Channel == "" {
			http.Error(w, msgMissingChannel, http.StatusBadRequest)
			return
		}

		err := rl.Serve(w, r, q)
		if err == nil {
			return
		}

		var upstream *relay.UpstreamError
		switch {
		case errors.Is(err, relay.ErrNotFound):
			http.Error(w, msgNotFound, http.StatusNotFound)
		case errors.Is(err, relay.ErrForbidden):
			http.Error(w, msgForbidden, http.StatusForbidden)
		case errors.As(err, &upstream):
			http.Error(w, upstream.Error(), http.StatusInternalServerError)
		default:
			logger.Error("{handlers/handlers - HandleStream} Unexpected relay error for %s: %v", q.Channel, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// HandleFavicon answers browsers' favicon requests with no content.
func HandleFavicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealthz reports process liveness.
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
