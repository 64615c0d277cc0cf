// Package freshness decides whether cache entries may be served without
// contacting the network, and computes explicit expiry instants from
// response headers.
package freshness

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the process-wide default time to live for cache entries.
const DefaultTTL = 300 * time.Second

// IsStale reports whether the entry at path needs a refresh given a ttl.
// A missing entry is always stale. An existing entry is fresh only if its
// modification time is strictly newer than now minus ttl.
func IsStale(path string, ttl time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	cutoff := time.Now().Add(-ttl)
	return !info.ModTime().After(cutoff)
}

// Expiration returns the explicit expiry instant carried by a response,
// or the zero time if the response carries none.
// Cache-Control max-age takes precedence over the Expires header.
func Expiration(res *http.Response) time.Time {
	if maxAge, ok := maxAge(res.Header); ok {
		if date, err := HttpDate(res.Header.Get("Date")); err == nil {
			return date.Add(maxAge)
		}
		return time.Now().Add(maxAge)
	}
	// invalid Expires values mean "already expired", which for our
	// purposes is the same as no explicit expiry at all
	if expires, err := HttpDate(res.Header.Get("Expires")); err == nil {
		return expires
	}
	return time.Time{}
}

// HttpDate parses an HTTP-date header value.
func HttpDate(dateStr string) (time.Time, error) {
	return http.ParseTime(dateStr)
}

// maxAge extracts the max-age directive from the Cache-Control header.
func maxAge(header http.Header) (time.Duration, bool) {
	for _, value := range header.Values("Cache-Control") {
		for _, directive := range strings.Split(value, ",") {
			name, val, _ := strings.Cut(strings.TrimSpace(directive), "=")
			if !strings.EqualFold(name, "max-age") {
				continue
			}
			seconds, err := strconv.Atoi(strings.Trim(val, `"`))
			if err != nil || seconds < 0 {
				return 0, false
			}
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}
