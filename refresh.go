package urlcache

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	journal "github.com/urlcache/urlcache/pkg/fetch-journal"
	"github.com/urlcache/urlcache/pkg/freshness"
	"github.com/urlcache/urlcache/pkg/metrics"

	"github.com/rs/zerolog"
)

// entryMode restricts entries to owner read/write. Entries live in a
// shared temp directory, so they must not leak to other principals.
const entryMode = 0600

// refresh makes sure a usable local entry for the locator exists and
// returns its path. It contacts the origin only if the entry is stale,
// and then with a conditional request so the origin may answer
// 304 Not Modified instead of resending the body.
func (c *Cache) refresh(locator string, ttl time.Duration) (string, error) {
	path, err := c.keyer.Path(locator)
	if err != nil {
		return "", err
	}
	log := c.log.With().Str("url", locator).Logger()

	if !freshness.IsStale(path, ttl) {
		log.Debug().Str("path", path).Msg("Serving fresh local entry")
		metrics.IncCacheHit()
		c.record(locator, journal.OutcomeHit, 0)
		return path, nil
	}
	metrics.IncCacheMiss()

	// the prior mtime must be read before any write below, it is the
	// fallback for the new freshness timestamp
	var priorMtime time.Time
	hadEntry := false
	if info, err := os.Stat(path); err == nil {
		priorMtime = info.ModTime()
		hadEntry = true
	}

	res, err := c.fetch(locator, priorMtime, hadEntry)
	if err != nil {
		metrics.ObserveFetch("transport-error")
		c.record(locator, journal.OutcomeError, 0)
		if hadEntry {
			log.Warn().Err(err).Msg("Refresh failed, keeping stale local entry")
			return path, nil
		}
		return "", fmt.Errorf("%w: %v", ErrorTransport, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		if err := writeEntry(path, res.Body); err != nil {
			return "", fmt.Errorf("%w: %v", ErrorPermission, err)
		}
		c.stamp(path, res, priorMtime, log)
		log.Debug().Int("status", res.StatusCode).Msg("Entry refreshed from origin")
		metrics.ObserveFetch("refreshed")
		c.record(locator, journal.OutcomeRefreshed, res.StatusCode)
	case res.StatusCode == http.StatusNotModified:
		// the origin asserts the content is unchanged, so the entry
		// earns a full new ttl window even though no bytes moved
		c.stamp(path, res, priorMtime, log)
		log.Debug().Msg("Origin reports entry not modified")
		metrics.ObserveFetch("not-modified")
		c.record(locator, journal.OutcomeNotModified, res.StatusCode)
	default:
		log.Warn().Int("status", res.StatusCode).Msg("Origin returned unusable status")
		metrics.ObserveFetch("origin-error")
		c.record(locator, journal.OutcomeError, res.StatusCode)
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrorNotCached, locator)
	}
	if err := os.Chmod(path, entryMode); err != nil {
		return "", fmt.Errorf("%w: %v", ErrorPermission, err)
	}
	return path, nil
}

// fetch performs the conditional GET against the origin.
// If a local entry exists, its mtime is sent as the If-Modified-Since
// validator. No entity tag is stored with the entry, so no If-None-Match
// is sent.
func (c *Cache) fetch(locator string, priorMtime time.Time, hadEntry bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, locator, nil)
	if err != nil {
		return nil, err
	}
	if hadEntry {
		req.Header.Set("If-Modified-Since", priorMtime.UTC().Format(http.TimeFormat))
	}
	return c.client.Do(req)
}

// stamp applies the new freshness timestamp to the entry: the expiry
// instant the origin provided, or max(prior mtime, now). The timestamp
// never moves backward for a given entry.
func (c *Cache) stamp(path string, res *http.Response, priorMtime time.Time, log zerolog.Logger) {
	t := freshness.Expiration(res)
	if t.IsZero() {
		t = time.Now()
	}
	if t.Before(priorMtime) {
		t = priorMtime
	}
	if err := os.Chtimes(path, t, t); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Could not stamp freshness timestamp")
	}
}

// writeEntry replaces the entry content atomically. The body is written
// to a temp file in the same directory and renamed over the entry, so a
// concurrent reader sees either the full old or the full new content.
func writeEntry(path string, body io.Reader) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".urlcache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	if err := tempFile.Chmod(entryMode); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return err
	}
	_, err = io.Copy(tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (c *Cache) record(locator string, outcome journal.Outcome, status int) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(locator, outcome, status); err != nil {
		c.log.Error().Err(err).Msg("Could not record fetch in journal")
	}
}
