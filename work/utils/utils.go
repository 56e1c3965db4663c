package utils

import (
	"chanrelay/work/config"
	"chanrelay/work/obfuscate"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg == nil {
		return url
	}
	return LogURLWithFlag(cfg.ObfuscateUrls, url)
}

// Or if you prefer to pass just the flag:
func LogURLWithFlag(obfuscateURLs bool, url string) string {
	if obfuscateURLs {
		return obfuscate.URL(url)
	}
	return url
}
