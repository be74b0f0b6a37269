// Package fetch retrieves source text (playlists, code directories, XMLTV
// feeds) over HTTP with per-host rate limiting, compressed-response support,
// an optional Redis response cache, and a local-file fallback for sources
// that are temporarily unreachable.
package fetch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/ryan-russell-ca/m3u-epg/internal/cache"
)

const (
	defaultTimeout     = 30 * time.Second
	dialTimeout        = 5 * time.Second
	defaultUserAgent   = "m3u-epg/1.0"
	maxBodySize        = 256 << 20 // 256 MiB; XMLTV feeds can be large
	defaultPerHostRate = rate.Limit(2)
	defaultBurst       = 4
)

// Options configures a Fetcher. Zero value is usable.
type Options struct {
	Client      *http.Client
	UserAgent   string
	Redis       *cache.Redis  // optional response cache
	CacheTTL    time.Duration // TTL for Redis-cached bodies; 0 = 10m
	PerHostRate rate.Limit    // requests/sec per host; 0 = 2
	Burst       int           // limiter burst; 0 = 4
}

// Fetcher fetches text bodies. Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
	redis     *cache.Redis
	cacheTTL  time.Duration
	perHost   rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New returns a Fetcher with a shared pooled transport and a 5s dial
// timeout. Decompression is handled explicitly so brotli works alongside
// gzip.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true, // Accept-Encoding set per request
			},
		}
	}
	f := &Fetcher{
		client:    client,
		userAgent: opts.UserAgent,
		redis:     opts.Redis,
		cacheTTL:  opts.CacheTTL,
		perHost:   opts.PerHostRate,
		burst:     opts.Burst,
		limiters:  make(map[string]*rate.Limiter),
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	if f.cacheTTL <= 0 {
		f.cacheTTL = 10 * time.Minute
	}
	if f.perHost <= 0 {
		f.perHost = defaultPerHostRate
	}
	if f.burst <= 0 {
		f.burst = defaultBurst
	}
	return f
}

// Text fetches rawURL and returns the response body as text.
func (f *Fetcher) Text(ctx context.Context, rawURL string) (string, error) {
	if f.redis != nil {
		if body, ok := f.redis.GetText(ctx, "fetch:"+rawURL); ok {
			return body, nil
		}
	}

	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	if f.redis != nil {
		// Best effort; a failed cache write never fails the fetch.
		_ = f.redis.SetText(ctx, "fetch:"+rawURL, body, f.cacheTTL)
	}
	return body, nil
}

// TextWithFallback fetches rawURL, falling back to fallbackPath when the
// network fetch fails. A successful fetch refreshes the fallback file.
// When both fail, the fetch error is returned (wrapping the file error).
func (f *Fetcher) TextWithFallback(ctx context.Context, rawURL, fallbackPath string) (string, error) {
	body, fetchErr := f.Text(ctx, rawURL)
	if fetchErr == nil {
		if fallbackPath != "" {
			_ = WriteFile(fallbackPath, body)
		}
		return body, nil
	}
	if fallbackPath == "" {
		return "", fetchErr
	}
	body, fileErr := ReadFile(fallbackPath)
	if fileErr != nil {
		return "", fmt.Errorf("%w (fallback %s: %v)", fetchErr, fallbackPath, fileErr)
	}
	return body, nil
}

func decodeBody(resp *http.Response) (string, error) {
	var r io.Reader = io.LimitReader(resp.Body, maxBodySize)
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		r = brotli.NewReader(r)
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return "", err
		}
		defer gz.Close()
		r = gz
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// limiterFor returns the shared per-host limiter for rawURL's host.
func (f *Fetcher) limiterFor(rawURL string) *rate.Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.perHost, f.burst)
		f.limiters[host] = lim
	}
	return lim
}

// ReadFile returns the contents of path as text.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes text to path via temp-file-then-rename so readers never
// see a partially-written file. Parent directories are created as needed.
func WriteFile(path, text string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fetch: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("fetch: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.WriteString(text)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("fetch: write: %w", writeErr)
		}
		return fmt.Errorf("fetch: close: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fetch: rename: %w", err)
	}
	return nil
}
