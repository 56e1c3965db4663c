package obfuscate

import (
	"encoding/hex"
	"net/url"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a short stable digest of s, so that obfuscated log
// lines about the same upstream URL can still be correlated.
func Fingerprint(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

// URL keeps scheme and host and replaces the rest with a fingerprint.
func URL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return "***OBFUSCATED:" + Fingerprint(urlStr) + "***"
	}

	result := u.Scheme + "://" + u.Host
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		result += "/***" + Fingerprint(urlStr)
	}

	return result
}
