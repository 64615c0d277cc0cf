// Package urlcache is a transparent caching fetch layer for remote
// resources. Given a URL it returns a locally cached copy, refreshing it
// from the network only when the cached entry is stale. Entries live as
// single files in the platform temp directory, scoped to the calling OS
// user, so independent processes run by the same principal share them
// with no coordination beyond the filesystem itself.
package urlcache

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	cachekey "github.com/urlcache/urlcache/pkg/cache-key"
	"github.com/urlcache/urlcache/pkg/decoder"
	journal "github.com/urlcache/urlcache/pkg/fetch-journal"
	"github.com/urlcache/urlcache/pkg/freshness"

	"github.com/rs/zerolog"
)

// Namespace prefixes entry file names in the storage directory.
const Namespace = "urlcache"

type Config struct {
	// Time to live for cache entries. Defaults to freshness.DefaultTTL.
	TTL time.Duration
	// HTTP client used for origin requests. Configure credentials,
	// TLS options, user agent and timeouts here.
	// http.DefaultClient is used if nil.
	Client *http.Client
	// Storage directory for entry files. Defaults to os.TempDir().
	Dir string
	// Principal resolves the identity of the calling OS user, which
	// salts the cache key. The login name of the current user is used
	// if nil.
	Principal func() (string, error)
	// Decoders per structured format. decoder.Defaults() is used if nil.
	Decoders map[decoder.Format]decoder.Decoder
	// Optional journal of refresh outcomes.
	Journal *journal.Journal
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Cache hands out local paths to cached copies of remote resources.
// Methods are safe for use from multiple goroutines and from multiple
// processes of the same principal; the on-disk entry is the only shared
// state, and writes to it are atomic.
type Cache struct {
	keyer    cachekey.Keyer
	ttl      time.Duration
	client   *http.Client
	decoders map[decoder.Format]decoder.Decoder
	journal  *journal.Journal
	log      zerolog.Logger
}

// New initializes a cache instance from the given config.
func New(config Config) *Cache {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	keyer := cachekey.NewKeyer(Namespace)
	if config.Dir != "" {
		keyer.Dir = config.Dir
	}
	if config.Principal != nil {
		keyer.Principal = config.Principal
	}

	ttl := config.TTL
	if ttl == 0 {
		ttl = freshness.DefaultTTL
	}
	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}
	decoders := config.Decoders
	if decoders == nil {
		decoders = decoder.Defaults()
	}

	return &Cache{
		keyer:    keyer,
		ttl:      ttl,
		client:   client,
		decoders: decoders,
		journal:  config.Journal,
		log:      logger,
	}
}

// GetLocalPath returns the path of a fresh local copy of the resource,
// fetching it from the network first if the cached entry is stale or
// missing. The optional ttl overrides the configured default for this
// call only.
func (c *Cache) GetLocalPath(locator string, ttl ...time.Duration) (string, error) {
	return c.refresh(locator, c.effectiveTTL(ttl))
}

// GetText returns the resource content as a string.
func (c *Cache) GetText(locator string, ttl ...time.Duration) (string, error) {
	path, err := c.refresh(locator, c.effectiveTTL(ttl))
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// GetReader returns a reader over the resource content.
// The caller must close it.
func (c *Cache) GetReader(locator string, ttl ...time.Duration) (io.ReadCloser, error) {
	path, err := c.refresh(locator, c.effectiveTTL(ttl))
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// GetStructured decodes the resource content in the given format.
// A nil value with a nil error means the resource is legitimately empty
// or null; decode failures are reported as errors matching ErrorDecode.
func (c *Cache) GetStructured(locator string, format decoder.Format, ttl ...time.Duration) (any, error) {
	dec, ok := c.decoders[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", decoder.ErrorFormatUnknown, format)
	}
	reader, err := c.GetReader(locator, ttl...)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	value, err := dec.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("%w as %s: %v", ErrorDecode, format, err)
	}
	return value, nil
}

// CacheKey returns the key identifying the entry for a locator.
func (c *Cache) CacheKey(locator string) (string, error) {
	return c.keyer.Key(locator)
}

// IsCached reports whether an entry for the locator exists on disk,
// regardless of freshness.
func (c *Cache) IsCached(locator string) (bool, error) {
	path, err := c.keyer.Path(locator)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	return err == nil, nil
}

// IsStale reports whether a call for the locator would contact the
// network.
func (c *Cache) IsStale(locator string, ttl ...time.Duration) (bool, error) {
	path, err := c.keyer.Path(locator)
	if err != nil {
		return false, err
	}
	return freshness.IsStale(path, c.effectiveTTL(ttl)), nil
}

func (c *Cache) effectiveTTL(ttl []time.Duration) time.Duration {
	if len(ttl) > 0 {
		return ttl[0]
	}
	return c.ttl
}
