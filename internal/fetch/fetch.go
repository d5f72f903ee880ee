// Package fetch retrieves pages over HTTP and parses them into document trees
// for the extractor.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/pagescrape/internal/cache"
)

// DefaultUserAgent identifies the scraper when Client.UserAgent is empty.
const DefaultUserAgent = "pagescrape/1.0 (+https://github.com/hyperifyio/pagescrape)"

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Transient reports whether retrying may help.
func (e *StatusError) Transient() bool { return e.Code >= 500 && e.Code <= 599 }

// ErrUnsupportedContentType is returned for responses that are not HTML.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Client wraps http.Client and provides timeouts and limited retry on transient errors.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// RetryBackoff is multiplied by the attempt number between retries.
	// Zero means 200ms.
	RetryBackoff time.Duration
	// Optional on-disk cache for page bodies and validators.
	Cache *cache.PageCache
	// If true, skip conditional revalidation but still save fresh responses.
	BypassCache bool
	// CacheOnly serves pages from the cache without touching the network.
	CacheOnly bool

	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
	// MaxConcurrent limits concurrent in-flight requests per client instance.
	// Zero means unlimited.
	MaxConcurrent int
	// Limiter, when set, paces outgoing requests, retries included.
	Limiter *rate.Limiter

	limiter     chan struct{}
	limiterOnce sync.Once
}

// Page is a fetched response body.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
	FromCache   bool
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

// Get issues a GET with context, user-agent, and bounded retry for transient errors.
func (c *Client) Get(ctx context.Context, rawURL string) (Page, error) {
	if c.CacheOnly {
		return c.fromCache(ctx, rawURL)
	}
	var etag, lastMod string
	if c.Cache != nil && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := c.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := c.tryOnce(ctx, rawURL, etag, lastMod)
		if err == nil {
			if res.status == http.StatusNotModified {
				if c.Cache != nil {
					if cached, cerr := c.Cache.LoadBody(ctx, rawURL); cerr == nil {
						log.Debug().Str("url", rawURL).Msg("not modified; serving cached page")
						return Page{URL: rawURL, ContentType: res.contentType, Body: cached, FromCache: true}, nil
					}
				}
				if etag == "" && lastMod == "" {
					return Page{}, fmt.Errorf("GET %s: not modified without a cached page", rawURL)
				}
				// Validators are dropped once, so this repeats at most one request.
				log.Debug().Str("url", rawURL).Msg("cached page unreadable; refetching without validators")
				etag, lastMod = "", ""
				i--
				continue
			}
			if c.Cache != nil && res.status == http.StatusOK {
				if serr := c.Cache.Save(ctx, rawURL, res.contentType, res.etag, res.lastModified, res.body); serr != nil {
					log.Warn().Err(serr).Str("url", rawURL).Msg("cache save failed")
				}
			}
			return Page{URL: rawURL, ContentType: res.contentType, Body: res.body}, nil
		}
		if !isTransient(err) || i == attempts-1 {
			return Page{}, err
		}
		lastErr = err
		log.Debug().Err(err).Str("url", rawURL).Int("attempt", i+1).Msg("transient fetch error; retrying")
		select {
		case <-ctx.Done():
			return Page{}, ctx.Err()
		case <-time.After(time.Duration(i+1) * backoff):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return Page{}, lastErr
}

func (c *Client) fromCache(ctx context.Context, rawURL string) (Page, error) {
	if c.Cache == nil {
		return Page{}, errors.New("cache-only mode without a cache")
	}
	body, err := c.Cache.LoadBody(ctx, rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("cache miss for %s: %w", rawURL, err)
	}
	ct := "text/html"
	if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && meta != nil && meta.ContentType != "" {
		ct = meta.ContentType
	}
	return Page{URL: rawURL, ContentType: ct, Body: body, FromCache: true}, nil
}

type response struct {
	body         []byte
	contentType  string
	etag         string
	lastModified string
	status       int
}

func (c *Client) tryOnce(ctx context.Context, rawURL string, etag string, lastMod string) (response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return response{}, fmt.Errorf("rate limit: %w", err)
		}
	}
	// Concurrency gate per client instance
	c.acquire()
	defer c.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return response{}, fmt.Errorf("new request: %w", err)
	}
	if !isHTTPScheme(req.URL) {
		return response{}, fmt.Errorf("unsupported URL scheme: %q", req.URL.String())
	}
	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(req.Context(), c.PerRequestTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	out := response{
		contentType:  resp.Header.Get("Content-Type"),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		status:       resp.StatusCode,
	}
	if resp.StatusCode == http.StatusNotModified {
		return out, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	if !isAllowedHTMLContentType(out.contentType) {
		return out, fmt.Errorf("%w: %s", ErrUnsupportedContentType, out.contentType)
	}
	out.body, err = io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read body: %w", err)
	}
	return out, nil
}

// Document fetches rawURL and parses it.
func (c *Client) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	page, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(page.Body, page.ContentType)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	if u, err := url.Parse(rawURL); err == nil {
		doc.Url = u
	}
	return doc, nil
}

// Parse decodes body to UTF-8 using the content type's charset or the
// document's meta tags, then builds a document tree.
func Parse(body []byte, contentType string) (*goquery.Document, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	return goquery.NewDocumentFromReader(r)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Transient()
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		// Only allow http/https during redirects
		if !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func isAllowedHTMLContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	// allow text/html variants and application/xhtml+xml
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}

func (c *Client) acquire() {
	if c.MaxConcurrent <= 0 {
		return
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	c.limiter <- struct{}{}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
