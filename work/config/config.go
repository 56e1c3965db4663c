package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chanrelay/work/obfuscate"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when CHANRELAY_CONFIG is not set.
const DefaultConfigPath = "/settings/config.json"

// defaultFeeds are the two upstream directories the relay has always aggregated.
var defaultFeeds = []FeedConfig{
	{URL: "https://raw.githubusercontent.com/hasanhabibmottakin/candy/main/rest_api.json"},
	{URL: "https://raw.githubusercontent.com/hasanhabibmottakin/Z5/main/data.json"},
}

// Config holds all application configuration values for the channel relay.
// It covers the listener, the refresh pipeline, the relay and the list of feeds.
type Config struct {
	ListenAddr      string        `json:"listenAddr"`      // Address the HTTP server binds to
	BaseURL         string        `json:"baseURL"`         // Absolute prefix for proxied URLs; empty keeps them relative
	RefreshInterval time.Duration `json:"refreshInterval"` // Period between refresh cycle starts
	FeedTimeout     time.Duration `json:"feedTimeout"`     // Timeout for fetching one feed document
	ValidateTimeout time.Duration `json:"validateTimeout"` // Timeout for one liveness check
	ValidateWorkers int           `json:"validateWorkers"` // Size of the liveness-check worker pool
	ValidateRate    int           `json:"validateRate"`    // Liveness checks per second per upstream host
	CacheDuration   time.Duration `json:"cacheDuration"`   // Lifetime of cached directory responses
	SnapshotPath    string        `json:"snapshotPath"`    // SQLite mirror of the directory; empty disables it
	LogLevel        string        `json:"logLevel"`        // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls   bool          `json:"obfuscateUrls"`   // Obfuscate upstream URLs in logs
	Feeds           []FeedConfig  `json:"feeds"`           // Feeds in processing order
}

// FeedConfig represents one remote channel feed.
type FeedConfig struct {
	Name         string `json:"name" yaml:"name"`                                     // Server label attached to every record from this feed
	URL          string `json:"url" yaml:"url"`                                       // Feed document URL
	IncludeRegex string `json:"includeRegex,omitempty" yaml:"includeRegex,omitempty"` // Keep only matching "category name" strings
	ExcludeRegex string `json:"excludeRegex,omitempty" yaml:"excludeRegex,omitempty"` // Drop matching "category name" strings
}

// ConfigFile represents the file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "5m") are parsed into time.Duration values.
type ConfigFile struct {
	ListenAddr      string       `json:"listenAddr" yaml:"listenAddr"`
	BaseURL         string       `json:"baseURL" yaml:"baseURL"`
	RefreshInterval string       `json:"refreshInterval" yaml:"refreshInterval"`
	FeedTimeout     string       `json:"feedTimeout" yaml:"feedTimeout"`
	ValidateTimeout string       `json:"validateTimeout" yaml:"validateTimeout"`
	ValidateWorkers int          `json:"validateWorkers" yaml:"validateWorkers"`
	ValidateRate    int          `json:"validateRate" yaml:"validateRate"`
	CacheDuration   string       `json:"cacheDuration" yaml:"cacheDuration"`
	SnapshotPath    string       `json:"snapshotPath" yaml:"snapshotPath"`
	LogLevel        string       `json:"logLevel" yaml:"logLevel"`
	ObfuscateUrls   *bool        `json:"obfuscateUrls" yaml:"obfuscateUrls"`
	Feeds           []FeedConfig `json:"feeds" yaml:"feeds"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Reads the path in CHANRELAY_CONFIG, or /settings/config.json.
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("CHANRELAY_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	config, err := LoadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	return config
}

// LoadFromFile reads and parses the configuration from a JSON or YAML file.
// The format is chosen by extension: .yaml and .yml are YAML, anything else JSON.
// The returned config has not been through default validation.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero and filled in by validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenAddr:      cf.ListenAddr,
		BaseURL:         strings.TrimRight(cf.BaseURL, "/"),
		ValidateWorkers: cf.ValidateWorkers,
		ValidateRate:    cf.ValidateRate,
		SnapshotPath:    cf.SnapshotPath,
		LogLevel:        cf.LogLevel,
		ObfuscateUrls:   true,
		Feeds:           append([]FeedConfig(nil), cf.Feeds...),
	}
	if cf.ObfuscateUrls != nil {
		config.ObfuscateUrls = *cf.ObfuscateUrls
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"refreshInterval", cf.RefreshInterval, &config.RefreshInterval},
		{"feedTimeout", cf.FeedTimeout, &config.FeedTimeout},
		{"validateTimeout", cf.ValidateTimeout, &config.ValidateTimeout},
		{"cacheDuration", cf.CacheDuration, &config.CacheDuration},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	for i := range config.Feeds {
		if config.Feeds[i].URL == "" {
			return nil, fmt.Errorf("feed %d has no url", i+1)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		BaseURL:         "",
		RefreshInterval: 5 * time.Minute,
		FeedTimeout:     30 * time.Second,
		ValidateTimeout: 5 * time.Second,
		ValidateWorkers: 8,
		ValidateRate:    20,
		CacheDuration:   5 * time.Minute,
		LogLevel:        "INFO",
		ObfuscateUrls:   true,
		Feeds:           append([]FeedConfig(nil), defaultFeeds...),
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 5 * time.Minute
	}
	if config.FeedTimeout <= 0 {
		config.FeedTimeout = 30 * time.Second
	}
	if config.ValidateTimeout <= 0 {
		config.ValidateTimeout = 5 * time.Second
	}
	if config.ValidateWorkers <= 0 {
		config.ValidateWorkers = 8
	}
	if config.ValidateRate <= 0 {
		config.ValidateRate = 20
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = 5 * time.Minute
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if len(config.Feeds) == 0 {
		config.Feeds = append([]FeedConfig(nil), defaultFeeds...)
	}

	// Server labels follow feed order
	for i := range config.Feeds {
		if config.Feeds[i].Name == "" {
			config.Feeds[i].Name = fmt.Sprintf("Server %d", i+1)
		}
	}
}

// Normalize applies defaults to a config built in code, e.g. by tests.
func Normalize(config *Config) *Config {
	validateAndSetDefaults(config)
	return config
}

// ProxyPrefix returns the proxy endpoint used inside rewritten manifests.
func (c *Config) ProxyPrefix() string {
	return c.BaseURL + "/stream"
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	obfuscateURLs := true
	example := ConfigFile{
		ListenAddr:      ":8080",
		BaseURL:         "",
		RefreshInterval: "5m",
		FeedTimeout:     "30s",
		ValidateTimeout: "5s",
		ValidateWorkers: 8,
		ValidateRate:    20,
		CacheDuration:   "5m",
		SnapshotPath:    "/settings/channels.db",
		LogLevel:        "INFO",
		ObfuscateUrls:   &obfuscateURLs,
		Feeds: []FeedConfig{
			{Name: "Server 1", URL: defaultFeeds[0].URL},
			{Name: "Server 2", URL: defaultFeeds[1].URL, ExcludeRegex: "(?i)test"},
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// Describe renders the feed list for the startup banner.
func (c *Config) Describe() []string {
	lines := make([]string, 0, len(c.Feeds))
	for i, f := range c.Feeds {
		feedURL := f.URL
		if c.ObfuscateUrls {
			feedURL = obfuscate.URL(feedURL)
		}
		lines = append(lines, fmt.Sprintf("Feed %d (%s): %s", i+1, f.Name, feedURL))
	}
	return lines
}
