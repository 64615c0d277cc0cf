package urlcache

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/urlcache/urlcache/pkg/decoder"
)

func newTestCache(t *testing.T, config Config) *Cache {
	t.Helper()
	if config.Dir == "" {
		config.Dir = t.TempDir()
	}
	if config.Principal == nil {
		config.Principal = func() (string, error) { return "tester", nil }
	}
	if config.Logger == nil {
		nop := zerolog.Nop()
		config.Logger = &nop
	}
	return New(config)
}

// makeStale backdates the entry for a locator so the next call must
// contact the origin again.
func makeStale(t *testing.T, c *Cache, locator string) {
	t.Helper()
	path, err := c.keyer.Path(locator)
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func entryMtime(t *testing.T, path string) time.Time {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.ModTime()
}

func TestFirstCallFetchesOnceAndReturnsBody(t *testing.T) {
	var fetchCount int
	r := chi.NewRouter()
	r.Get("/data.json", func(w http.ResponseWriter, req *http.Request) {
		fetchCount++
		w.Write([]byte(`{"hello":"world"}`))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	path, err := c.GetLocalPath(server.URL + "/data.json")
	if err != nil {
		t.Fatal(err)
	}
	if fetchCount != 1 {
		t.Fatalf("Origin fetched %d times", fetchCount)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != `{"hello":"world"}` {
		t.Fatalf("Content is %s", content)
	}
}

func TestSecondCallWithinTTLSkipsNetwork(t *testing.T) {
	var fetchCount int
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		fetchCount++
		w.Write([]byte("payload"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{TTL: time.Hour})
	first, err := c.GetLocalPath(server.URL + "/data")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.GetLocalPath(server.URL + "/data")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("Paths differ: %s vs %s", first, second)
	}
	if fetchCount != 1 {
		t.Fatalf("Origin fetched %d times", fetchCount)
	}
}

func TestStaleEntrySendsValidator(t *testing.T) {
	var validators []string
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		validators = append(validators, req.Header.Get("If-Modified-Since"))
		w.Write([]byte("payload"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	url := server.URL + "/data"
	if _, err := c.GetLocalPath(url); err != nil {
		t.Fatal(err)
	}
	makeStale(t, c, url)
	if _, err := c.GetLocalPath(url); err != nil {
		t.Fatal(err)
	}
	if len(validators) != 2 {
		t.Fatalf("Origin fetched %d times", len(validators))
	}
	if validators[0] != "" {
		t.Fatalf("First fetch sent validator %q", validators[0])
	}
	if _, err := freshnessDate(validators[1]); err != nil {
		t.Fatalf("Second fetch validator is %q: %v", validators[1], err)
	}
}

func freshnessDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("no validator sent")
	}
	return http.ParseTime(value)
}

func TestNotModifiedRatchetsFreshness(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("original"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	url := server.URL + "/data"
	path, err := c.GetLocalPath(url)
	if err != nil {
		t.Fatal(err)
	}
	makeStale(t, c, url)
	before := entryMtime(t, path)

	if _, err := c.GetLocalPath(url); err != nil {
		t.Fatal(err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "original" {
		t.Fatalf("Content changed to %s", content)
	}
	if after := entryMtime(t, path); !after.After(before) {
		t.Fatalf("Freshness timestamp not advanced: %v vs %v", after, before)
	}
	if stale, _ := c.IsStale(url); stale {
		t.Fatal("Entry stale right after not-modified refresh")
	}
}

func TestNotModifiedUsesServerExpiry(t *testing.T) {
	expiry := time.Now().Add(2 * time.Hour).Truncate(time.Second).UTC()
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("If-Modified-Since") != "" {
			w.Header().Set("Expires", expiry.Format(http.TimeFormat))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("original"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	url := server.URL + "/data"
	path, err := c.GetLocalPath(url)
	if err != nil {
		t.Fatal(err)
	}
	makeStale(t, c, url)
	if _, err := c.GetLocalPath(url); err != nil {
		t.Fatal(err)
	}
	if mtime := entryMtime(t, path); !mtime.Equal(expiry) {
		t.Fatalf("Freshness timestamp is %v, expected server expiry %v", mtime, expiry)
	}
}

func TestOriginErrorKeepsExistingEntry(t *testing.T) {
	var failing bool
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		if failing {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("payload"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	url := server.URL + "/data"
	path, err := c.GetLocalPath(url)
	if err != nil {
		t.Fatal(err)
	}
	makeStale(t, c, url)
	before := entryMtime(t, path)
	failing = true

	got, err := c.GetLocalPath(url)
	if err != nil {
		t.Fatalf("Refresh with existing entry failed: %v", err)
	}
	if got != path {
		t.Fatalf("Path changed to %s", got)
	}
	if content, _ := os.ReadFile(path); string(content) != "payload" {
		t.Fatalf("Content changed to %s", content)
	}
	// an error status must not extend the freshness window
	if after := entryMtime(t, path); !after.Equal(before) {
		t.Fatalf("Freshness timestamp moved from %v to %v", before, after)
	}
}

func TestFirstFetchErrorStatusFails(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/missing", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	if _, err := c.GetLocalPath(server.URL + "/missing"); !errors.Is(err, ErrorNotCached) {
		t.Fatalf("Expected ErrorNotCached, got %v", err)
	}
}

func TestTransportErrorWithoutEntryFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL + "/gone"
	server.Close()

	c := newTestCache(t, Config{})
	if _, err := c.GetLocalPath(url); !errors.Is(err, ErrorTransport) {
		t.Fatalf("Expected ErrorTransport, got %v", err)
	}
}

func TestTransportErrorWithEntryServesStaleCopy(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("payload"))
	})
	server := httptest.NewServer(r)

	c := newTestCache(t, Config{})
	url := server.URL + "/data"
	path, err := c.GetLocalPath(url)
	if err != nil {
		t.Fatal(err)
	}
	makeStale(t, c, url)
	server.Close()

	got, err := c.GetLocalPath(url)
	if err != nil {
		t.Fatalf("Expected stale copy, got error %v", err)
	}
	if got != path {
		t.Fatalf("Path changed to %s", got)
	}
}

func TestEntryPermissionsAreOwnerOnly(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("secret"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	path, err := c.GetLocalPath(server.URL + "/data")
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Fatalf("Entry mode is %o", mode)
	}
}

func TestIdentityFailureAbortsBeforeNetwork(t *testing.T) {
	var fetchCount int
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		fetchCount++
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{
		Principal: func() (string, error) { return "", ErrorNoPrincipal },
	})
	if _, err := c.GetLocalPath(server.URL + "/data"); !errors.Is(err, ErrorNoPrincipal) {
		t.Fatalf("Expected principal error, got %v", err)
	}
	if fetchCount != 0 {
		t.Fatalf("Origin fetched %d times", fetchCount)
	}
}

func TestGetText(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/hello.txt", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("Hello world"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	text, err := c.GetText(server.URL + "/hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if text != "Hello world" {
		t.Fatalf("Text is %s", text)
	}
}

func TestGetReader(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/hello.txt", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("Hello reader"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	reader, err := c.GetReader(server.URL + "/hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	content := make([]byte, 32)
	n, _ := reader.Read(content)
	if string(content[:n]) != "Hello reader" {
		t.Fatalf("Read %s", content[:n])
	}
}

func TestGetStructuredJSON(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/data.json", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"name":"web"}`))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	value, err := c.GetStructured(server.URL+"/data.json", decoder.JSON)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := value.(map[string]any)
	if !ok || m["name"] != "web" {
		t.Fatalf("Value is %T %v", value, value)
	}
}

func TestGetStructuredNullVsMalformed(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/null.json", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("null"))
	})
	r.Get("/bad.json", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"name":`))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	value, err := c.GetStructured(server.URL+"/null.json", decoder.JSON)
	if err != nil {
		t.Fatalf("Null resource produced error: %v", err)
	}
	if value != nil {
		t.Fatalf("Null resource produced value %v", value)
	}
	if _, err := c.GetStructured(server.URL+"/bad.json", decoder.JSON); !errors.Is(err, ErrorDecode) {
		t.Fatalf("Expected ErrorDecode, got %v", err)
	}
}

func TestGetStructuredUnknownFormat(t *testing.T) {
	c := newTestCache(t, Config{})
	if _, err := c.GetStructured("http://example.test/", decoder.Format("ini")); !errors.Is(err, decoder.ErrorFormatUnknown) {
		t.Fatalf("Expected ErrorFormatUnknown, got %v", err)
	}
}

func TestIntrospection(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("payload"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := newTestCache(t, Config{})
	url := server.URL + "/data"

	key, err := c.CacheKey(url)
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 64 {
		t.Fatalf("Key is %s", key)
	}
	if cached, _ := c.IsCached(url); cached {
		t.Fatal("Entry cached before first fetch")
	}
	if stale, _ := c.IsStale(url); !stale {
		t.Fatal("Missing entry not stale")
	}

	if _, err := c.GetLocalPath(url); err != nil {
		t.Fatal(err)
	}
	if cached, _ := c.IsCached(url); !cached {
		t.Fatal("Entry not cached after fetch")
	}
	if stale, _ := c.IsStale(url); stale {
		t.Fatal("Entry stale right after fetch")
	}
	if again, _ := c.CacheKey(url); again != key {
		t.Fatalf("Key changed from %s to %s", key, again)
	}
}
