package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chanrelay/work/client"
	"chanrelay/work/config"
	"chanrelay/work/directory"
	"chanrelay/work/feed"
	"chanrelay/work/filter"
	"chanrelay/work/logger"
	"chanrelay/work/metrics"
	"chanrelay/work/types"
	"chanrelay/work/utils"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// LinkChecker reports whether an upstream link is reachable.
type LinkChecker interface {
	Validate(ctx context.Context, link string, h types.Headers) error
}

// Mirror receives every published generation.
type Mirror interface {
	ReplaceChannels(ctx context.Context, gen *directory.Generation) error
}

// Refresher rebuilds the channel directory from the configured feeds.
type Refresher struct {
	Config        *config.Config
	Directory     *directory.Directory
	HttpClient    *client.HeaderSettingClient
	Validator     LinkChecker
	WorkerPool    *ants.Pool // nil runs liveness checks inline
	FilterManager *filter.FilterManager

	// Optional hooks
	Mirror    Mirror
	OnPublish func(gen *directory.Generation)

	status *xsync.MapOf[string, types.FeedStatus]
	order  atomic.Pointer[[]string] // feed names of the latest cycle
	mu     sync.Mutex               // serializes Refresh
}

// New wires a Refresher with its own filter manager and status table.
func New(cfg *config.Config, dir *directory.Directory, httpClient *client.HeaderSettingClient, v LinkChecker, pool *ants.Pool) *Refresher {
	return &Refresher{
		Config:        cfg,
		Directory:     dir,
		HttpClient:    httpClient,
		Validator:     v,
		WorkerPool:    pool,
		FilterManager: filter.NewFilterManager(),
		status:        xsync.NewMapOf[string, types.FeedStatus](),
	}
}

// candidate is a normalized record waiting for its liveness check.
type candidate struct {
	feed int
	rec  types.ChannelRecord
}

type outcome int

const (
	pending outcome = iota
	accepted
	rejected
	duplicate
)

// Refresh runs one cycle over feeds and publishes the result. Feeds are
// processed in order and a link is accepted at most once per cycle: the first
// candidate carrying it that passes the liveness check wins. A feed that cannot
// be fetched or decoded is skipped. If ctx is cancelled before the cycle
// completes nothing is published and the current generation is returned.
func (r *Refresher) Refresh(ctx context.Context, feeds []config.FeedConfig) *directory.Generation {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	logger.Debug("{refresh/refresh - Refresh} Starting refresh of %d feeds", len(feeds))

	stats := make([]types.FeedStatus, len(feeds))
	var candidates []candidate

	for i, f := range feeds {
		stats[i].Name = f.Name
		feedStart := time.Now()

		payload, err := feed.Load(ctx, r.HttpClient, f.URL, r.Config.FeedTimeout)
		if err != nil {
			logger.Error("{refresh/refresh - Refresh} Skipping feed %s (%s): %v", f.Name, utils.LogURL(r.Config, f.URL), err)
			metrics.FeedErrors.WithLabelValues(f.Name).Inc()
			stats[i].Error = err.Error()
			stats[i].Duration = time.Since(feedStart)
			continue
		}
		logger.Debug("{refresh/refresh - Refresh} Decoded feed %s as %s schema with %d entries", f.Name, payload.Schema, payload.Len())

		allow := r.FilterManager.GetOrCreateFilter(f)
		for rec := range payload.Records(f.Name) {
			stats[i].Candidates++
			if !allow.Allow(rec) {
				stats[i].Filtered++
				continue
			}
			candidates = append(candidates, candidate{feed: i, rec: rec})
		}
		stats[i].Duration = time.Since(feedStart)
	}

	outcomes := r.validate(ctx, feeds, candidates)

	if ctx.Err() != nil {
		logger.Warn("{refresh/refresh - Refresh} Refresh cancelled, keeping current generation")
		return r.Directory.Current()
	}

	stage := r.Directory.Stage()
	for i, c := range candidates {
		switch outcomes[i] {
		case accepted:
			stage.Add(c.rec)
			stats[c.feed].Accepted++
		case rejected:
			stats[c.feed].Rejected++
		case duplicate:
			stats[c.feed].Duplicates++
		}
	}

	gen := r.Directory.Publish(stage)
	elapsed := time.Since(started)

	metrics.RefreshDuration.Observe(elapsed.Seconds())
	metrics.DirectoryRecords.Set(float64(gen.Len()))
	metrics.DirectoryGeneration.Set(float64(gen.Seq))

	names := make([]string, len(stats))
	for i := range stats {
		names[i] = stats[i].Name
		stats[i].UpdatedAt = gen.BuiltAt
		r.status.Store(stats[i].Name, stats[i])
		logger.Info("{refresh/refresh - Refresh} Feed %s: %d candidates, %d accepted, %d rejected, %d duplicates, %d filtered",
			stats[i].Name, stats[i].Candidates, stats[i].Accepted, stats[i].Rejected, stats[i].Duplicates, stats[i].Filtered)
	}
	r.order.Store(&names)
	logger.Info("{refresh/refresh - Refresh} Published generation %d with %d records in %s", gen.Seq, gen.Len(), elapsed.Round(time.Millisecond))

	if r.Mirror != nil {
		if err := r.Mirror.ReplaceChannels(ctx, gen); err != nil {
			logger.Error("{refresh/refresh - Refresh} Failed to mirror generation %d: %v", gen.Seq, err)
		}
	}
	if r.OnPublish != nil {
		r.OnPublish(gen)
	}

	return gen
}

// validate checks candidates and returns one outcome per candidate. Candidates
// sharing a link form a group; within a group they are tried in order until one
// passes, and the rest are duplicates. Groups are independent so they run on
// the worker pool, which gives the same result as a sequential pass.
func (r *Refresher) validate(ctx context.Context, feeds []config.FeedConfig, candidates []candidate) []outcome {
	outcomes := make([]outcome, len(candidates))

	groups := make(map[string][]int)
	var order []string
	for i, c := range candidates {
		if _, ok := groups[c.rec.Link]; !ok {
			order = append(order, c.rec.Link)
		}
		groups[c.rec.Link] = append(groups[c.rec.Link], i)
	}

	check := func(members []int) {
		for n, i := range members {
			c := candidates[i]
			feedName := feeds[c.feed].Name
			err := r.Validator.Validate(ctx, c.rec.Link, types.HeadersFor(c.rec.Cookie, c.rec.UserAgent))
			if err != nil {
				outcomes[i] = rejected
				metrics.ValidationResults.WithLabelValues(feedName, "failed").Inc()
				logger.Debug("{refresh/refresh - validate} Rejected %s from %s: %v", c.rec.Name, feedName, err)
				continue
			}
			outcomes[i] = accepted
			metrics.ValidationResults.WithLabelValues(feedName, "ok").Inc()
			for _, j := range members[n+1:] {
				outcomes[j] = duplicate
			}
			return
		}
	}

	if r.WorkerPool == nil || r.WorkerPool.Cap() <= 1 {
		for _, link := range order {
			check(groups[link])
		}
		return outcomes
	}

	var wg sync.WaitGroup
	for _, link := range order {
		members := groups[link]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			check(members)
		}
		if err := r.WorkerPool.Submit(task); err != nil {
			logger.Warn("{refresh/refresh - validate} Worker pool rejected task, validating inline: %v", err)
			task()
		}
	}
	wg.Wait()

	return outcomes
}

// Run refreshes immediately and then on every tick of the configured interval
// until ctx is cancelled. Cycles never overlap; ticks missed while a cycle runs
// are dropped.
func (r *Refresher) Run(ctx context.Context) {
	logger.Debug("{refresh/refresh - Run} Starting refresh loop (interval: %s)", r.Config.RefreshInterval)

	r.Refresh(ctx, r.Config.Feeds)

	ticker := time.NewTicker(r.Config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("{refresh/refresh - Run} Refresh loop stopped")
			return
		case <-ticker.C:
			logger.Debug("{refresh/refresh - Run} Triggering scheduled refresh")
			r.Refresh(ctx, r.Config.Feeds)
		}
	}
}

// Statuses returns the status of every feed of the latest published cycle, in
// feed order. It is empty until the first cycle completes.
func (r *Refresher) Statuses() []types.FeedStatus {
	names := r.order.Load()
	if names == nil {
		return nil
	}
	out := make([]types.FeedStatus, 0, len(*names))
	for _, name := range *names {
		if st, ok := r.status.Load(name); ok {
			out = append(out, st)
		}
	}
	return out
}
