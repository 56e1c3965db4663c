package filter

import (
	"sync"

	"chanrelay/work/config"
	"chanrelay/work/logger"
	"chanrelay/work/types"

	"github.com/grafana/regexp"
)

// CompiledFilter holds compiled regex patterns for a feed
type CompiledFilter struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// FilterManager manages compiled filters for feeds
type FilterManager struct {
	filters map[string]*CompiledFilter
	mu      sync.RWMutex
}

// NewFilterManager creates a new filter manager
func NewFilterManager() *FilterManager {
	return &FilterManager{
		filters: make(map[string]*CompiledFilter),
	}
}

// GetOrCreateFilter gets or creates a compiled filter for a feed
func (fm *FilterManager) GetOrCreateFilter(feed config.FeedConfig) *CompiledFilter {
	key := feed.URL + "\x00" + feed.IncludeRegex + "\x00" + feed.ExcludeRegex

	fm.mu.RLock()
	filter, exists := fm.filters[key]
	fm.mu.RUnlock()
	if exists {
		return filter
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	if filter, exists := fm.filters[key]; exists {
		return filter
	}

	// Invalid patterns are treated as no filter
	filter = &CompiledFilter{
		Include: compile(feed.Name, "includeRegex", feed.IncludeRegex),
		Exclude: compile(feed.Name, "excludeRegex", feed.ExcludeRegex),
	}

	fm.filters[key] = filter
	return filter
}

func compile(feedName, field, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter/filter - compile} Failed to compile %s '%s' for %s: %v", field, pattern, feedName, err)
		return nil
	}
	logger.Debug("{filter/filter - compile} Compiled %s '%s' for %s", field, pattern, feedName)
	return compiled
}

// Allow reports whether rec passes the filter. The subject matched is
// "<category> <name>".
func (f *CompiledFilter) Allow(rec types.ChannelRecord) bool {
	if f == nil || (f.Include == nil && f.Exclude == nil) {
		return true
	}
	subject := rec.CategoryName + " " + rec.Name
	if f.Include != nil && !f.Include.MatchString(subject) {
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(subject) {
		return false
	}
	return true
}
