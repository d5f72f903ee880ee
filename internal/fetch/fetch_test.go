package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperifyio/pagescrape/internal/cache"
)

func TestGet_Success(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 2, PerRequestTimeout: 2 * time.Second}
	page, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.ContentType == "" || len(page.Body) == 0 || page.FromCache {
		t.Fatalf("unexpected page %+v", page)
	}
	if ua != DefaultUserAgent {
		t.Fatalf("expected default user agent, got %q", ua)
	}
}

func TestGet_RetryOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(502)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "pagescrape-test", MaxAttempts: 2, PerRequestTimeout: 2 * time.Second, RetryBackoff: time.Millisecond}
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestGet_NoRetryOn404(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := &Client{UserAgent: "pagescrape-test", MaxAttempts: 3, PerRequestTimeout: 2 * time.Second, RetryBackoff: time.Millisecond}
	_, err := c.Get(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestGet_Conditional304_UsesCache(t *testing.T) {
	// First return 200 with ETag. Subsequent requests that include If-None-Match should get 304.
	var calls int
	etag := `"abc123"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/html")
		if calls == 1 {
			w.Header().Set("ETag", etag)
			_, _ = w.Write([]byte("first"))
			return
		}
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fmt.Fprintln(w, "unexpected")
	}))
	defer srv.Close()

	c := &Client{UserAgent: "pagescrape-test", MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, Cache: &cache.PageCache{Dir: t.TempDir()}}

	p1, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("first get error: %v", err)
	}
	if string(p1.Body) != "first" {
		t.Fatalf("unexpected body1: %q", p1.Body)
	}

	p2, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second get error: %v", err)
	}
	if string(p2.Body) != "first" || !p2.FromCache {
		t.Fatalf("expected cached body, got %+v", p2)
	}
}

func TestGet_Conditional304_MissingBodyRefetches(t *testing.T) {
	var calls, conditional int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/html")
		if r.Header.Get("If-None-Match") != "" {
			conditional++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	pc := &cache.PageCache{Dir: dir}
	if err := pc.Save(context.Background(), srv.URL, "text/html", `"v1"`, "", []byte("stale")); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	bodies, _ := filepath.Glob(filepath.Join(dir, "*.body"))
	if len(bodies) != 1 {
		t.Fatalf("expected one cached body, got %v", bodies)
	}
	if err := os.Remove(bodies[0]); err != nil {
		t.Fatalf("remove body: %v", err)
	}

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, Cache: pc}
	p, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(p.Body) != "fresh" || p.FromCache {
		t.Fatalf("expected refetched body, got %+v", p)
	}
	if calls != 2 || conditional != 1 {
		t.Fatalf("calls=%d conditional=%d, want 2 and 1", calls, conditional)
	}
}

func TestGet_BypassCacheSkipsValidators(t *testing.T) {
	var sawValidator bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			sawValidator = true
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	pc := &cache.PageCache{Dir: t.TempDir()}
	if err := pc.Save(context.Background(), srv.URL, "text/html", `"v1"`, "", []byte("old")); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, Cache: pc, BypassCache: true}
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("get: %v", err)
	}
	if sawValidator {
		t.Fatal("bypass still sent If-None-Match")
	}
	if body, err := pc.LoadBody(context.Background(), srv.URL); err != nil || string(body) != "body" {
		t.Fatalf("fresh response not saved: %q, %v", body, err)
	}
}

func TestGet_CacheOnly(t *testing.T) {
	pc := &cache.PageCache{Dir: t.TempDir()}
	u := "https://offline.example/models"
	if err := pc.Save(context.Background(), u, "text/html; charset=utf-8", "", "", []byte("<p>cached</p>")); err != nil {
		t.Fatal(err)
	}
	c := &Client{Cache: pc, CacheOnly: true}
	page, err := c.Get(context.Background(), u)
	if err != nil {
		t.Fatalf("cache-only get: %v", err)
	}
	if string(page.Body) != "<p>cached</p>" || page.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("unexpected page %+v", page)
	}
	if _, err := c.Get(context.Background(), "https://offline.example/missing"); err == nil {
		t.Fatalf("expected cache miss error")
	}
}

func TestGet_RejectsNonHTTP(t *testing.T) {
	c := &Client{UserAgent: "pagescrape-test", MaxAttempts: 1, PerRequestTimeout: 1 * time.Second}
	if _, err := c.Get(context.Background(), "file:///etc/hosts"); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}

func TestGet_ContentTypeGating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "pagescrape-test", MaxAttempts: 1, PerRequestTimeout: 2 * time.Second}
	if _, err := c.Get(context.Background(), srv.URL); !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("expected unsupported content type, got %v", err)
	}
}

func TestGet_RedirectLimit(t *testing.T) {
	// First path redirects once to /next; with RedirectMaxHops=1 this should fail immediately
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "pagescrape-test", MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, RedirectMaxHops: 1}
	if _, err := c.Get(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected redirect limit error")
	}
}

func TestGet_MaxConcurrent(t *testing.T) {
	var inFlight int32
	var maxObserved int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		curr := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxObserved)
			if curr <= prev || atomic.CompareAndSwapInt32(&maxObserved, prev, curr) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	c := &Client{UserAgent: "pagescrape-test", MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, MaxConcurrent: 2}

	var wg sync.WaitGroup
	start := make(chan struct{})
	num := 6
	wg.Add(num)
	for i := 0; i < num; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _ = c.Get(context.Background(), srv.URL)
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&maxObserved); got > 2 {
		t.Fatalf("expected max concurrency <= 2, got %d", got)
	}
}

func TestDocument_DecodesCharset(t *testing.T) {
	// "Citroën" in ISO-8859-1
	body := []byte("<html><body><h1 class=\"brand\">Citro\xebn</h1></body></html>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second}
	doc, err := c.Document(context.Background(), srv.URL+"/cars")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if got := doc.Find("h1.brand").Text(); got != "Citroën" {
		t.Fatalf("expected decoded text, got %q", got)
	}
	if doc.Url == nil || doc.Url.Path != "/cars" {
		t.Fatalf("expected document url to be set, got %v", doc.Url)
	}
}

func TestParse_MetaCharset(t *testing.T) {
	body := []byte(`<html><head><meta charset="windows-1252"></head><body><p>caf` + "\xe9" + `</p></body></html>`)
	doc, err := Parse(body, "text/html")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := doc.Find("p").Text(); got != "café" {
		t.Fatalf("expected café, got %q", got)
	}
}

func TestGet_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := &Client{HTTPClient: srv.Client(), Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("first request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Get(ctx, srv.URL); err == nil {
		t.Fatalf("expected second request to be held by the limiter")
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 request to reach the server, got %d", got)
	}
}
