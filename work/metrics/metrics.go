package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RefreshDuration observes how long a full refresh cycle takes.
var RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "chanrelay_refresh_duration_seconds",
	Help:    "Duration of directory refresh cycles",
	Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
})

// DirectoryRecords is the number of records in the published generation.
var DirectoryRecords = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chanrelay_directory_records",
	Help: "Number of channel records in the current directory generation",
})

// DirectoryGeneration is the sequence number of the published generation.
var DirectoryGeneration = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chanrelay_directory_generation",
	Help: "Sequence number of the current directory generation",
})

// FeedErrors counts feeds that could not be fetched or decoded, per feed.
var FeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chanrelay_feed_errors_total",
	Help: "Feed fetch or decode failures",
}, []string{"feed"})

// ValidationResults counts liveness checks by feed and result (ok, failed).
var ValidationResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chanrelay_validation_results_total",
	Help: "Liveness check outcomes",
}, []string{"feed", "result"})

// RelayRequests counts relay requests by kind (manifest, media) and class
// (ok, not_found, forbidden, error).
var RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chanrelay_relay_requests_total",
	Help: "Relay requests by kind and outcome",
}, []string{"kind", "class"})

// BytesTransferred tracks the total number of media bytes relayed to viewers per server.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chanrelay_bytes_transferred_total",
	Help: "Total media bytes relayed",
}, []string{"server"})

// ManifestKinds counts relayed manifests by playlist type (master, media, unknown).
var ManifestKinds = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chanrelay_manifest_kinds_total",
	Help: "Relayed manifests by playlist type",
}, []string{"kind"})

// ActiveStreams is the number of media transfers currently in flight.
var ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chanrelay_active_streams",
	Help: "Media transfers in flight",
})
