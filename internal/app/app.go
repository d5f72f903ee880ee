package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/pagescrape/internal/cache"
	"github.com/hyperifyio/pagescrape/internal/catalog"
	"github.com/hyperifyio/pagescrape/internal/fetch"
	"github.com/hyperifyio/pagescrape/internal/isocodes"
	"github.com/hyperifyio/pagescrape/internal/scrape"
	"github.com/hyperifyio/pagescrape/internal/wikitable"
)

// SiteMaserati selects the Maserati models preset.
const SiteMaserati = "maserati"

// ErrNoResults is returned when a run completes without extracting anything.
// The output is still written.
var ErrNoResults = errors.New("no results")

type App struct {
	cfg      Config
	client   *fetch.Client
	scraper  *catalog.Scraper
	codes    *isocodes.Directory
	maserati *catalog.Maserati
	stdout   io.Writer
}

func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	client := &fetch.Client{
		HTTPClient:        newHTTPClient(cfg.Timeout),
		UserAgent:         cfg.UserAgent,
		MaxAttempts:       cfg.MaxAttempts,
		PerRequestTimeout: cfg.Timeout,
		MaxConcurrent:     cfg.MaxConcurrent,
		CacheOnly:         cfg.CacheOnly,
		BypassCache:       cfg.CacheBypass,
	}
	if client.UserAgent == "" {
		client.UserAgent = defaultUserAgent()
	}
	if cfg.RequestsPerSecond > 0 {
		client.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.CacheDir != "" {
		if err := prepareCache(cfg); err != nil {
			return nil, err
		}
		client.Cache = &cache.PageCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	}

	a := &App{
		cfg:    cfg,
		client: client,
		scraper: &catalog.Scraper{
			Fetcher: client,
			Extractor: scrape.Extractor{
				MaxDepth:   cfg.MaxDepth,
				IgnoreTags: cfg.IgnoreTags,
				IDFallback: cfg.IDFallback,
			},
			MaxParallel: cfg.MaxConcurrent,
		},
		codes:  isocodes.NewDirectory(client),
		stdout: os.Stdout,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Site), SiteMaserati) {
		a.maserati = &catalog.Maserati{Scraper: a.scraper, Codes: a.codes, Country: cfg.Country, Lang: cfg.Lang}
	}
	return a, nil
}

// prepareCache applies the cache invalidation controls before any request.
func prepareCache(cfg Config) error {
	if cfg.CacheClear {
		if err := cache.ClearDir(cfg.CacheDir); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		log.Info().Str("dir", cfg.CacheDir).Msg("cache cleared")
	}
	if cfg.CacheMaxAge > 0 {
		n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge)
		if err != nil {
			log.Warn().Err(err).Msg("cache purge failed; continuing")
		} else if n > 0 {
			log.Debug().Int("removed", n).Dur("max_age", cfg.CacheMaxAge).Msg("purged stale cache entries")
		}
	}
	return nil
}

func (a *App) Close() {
	if a.client.Cache == nil || (a.cfg.CacheMaxBytes <= 0 && a.cfg.CacheMaxEntries <= 0) {
		return
	}
	n, err := cache.EnforceLimits(a.cfg.CacheDir, a.cfg.CacheMaxBytes, a.cfg.CacheMaxEntries)
	if err != nil {
		log.Warn().Err(err).Msg("cache limit enforcement failed")
		return
	}
	if n > 0 {
		log.Debug().Int("removed", n).Msg("evicted cache entries")
	}
}

func (a *App) Run(ctx context.Context) error {
	start := time.Now()
	if a.cfg.Tables {
		return a.runTables(ctx)
	}
	results, err := a.scrapeAll(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, r := range results {
		total += len(r.Items)
		log.Info().Str("name", r.Name).Str("url", r.URL).Int("items", len(r.Items)).Msg("scraped listing")
	}

	out := a.outputPath(results)
	if err := a.writeJSON(out, resultsValue(results)); err != nil {
		return err
	}
	if a.cfg.Manifest {
		if err := a.writeRunManifest(out, results); err != nil {
			return err
		}
	}
	log.Info().Str("out", out).Int("items", total).Dur("elapsed", time.Since(start)).Msg("run complete")
	if total == 0 {
		return ErrNoResults
	}
	return nil
}

func (a *App) runTables(ctx context.Context) error {
	doc, source, err := a.document(ctx)
	if err != nil {
		return err
	}
	tables := wikitable.Parse(doc.Selection)
	rows := 0
	for _, recs := range tables {
		rows += len(recs)
	}
	out := a.cfg.OutputPath
	if a.cfg.OutputDir != "" && (out == "" || out == outputDefault) {
		out = deriveOutputPath(a.cfg.OutputDir, "tables", source)
	}
	var enc bytes.Buffer
	e := json.NewEncoder(&enc)
	e.SetEscapeHTML(false)
	if err := e.Encode(tables); err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	if err := a.write(out, bytes.TrimSpace(enc.Bytes())); err != nil {
		return err
	}
	log.Info().Str("source", source).Int("tables", len(tables)-1).Int("rows", rows).Msg("wrote wiki tables")
	if rows == 0 {
		return ErrNoResults
	}
	return nil
}

// scrapeAll builds the listing specs for this run and scrapes them. A local
// input file is scraped in place and never fetched.
func (a *App) scrapeAll(ctx context.Context) ([]catalog.Result, error) {
	var results []catalog.Result
	if a.cfg.InputPath != "" {
		doc, source, err := a.document(ctx)
		if err != nil {
			return nil, err
		}
		res, err := a.scraper.ScrapeDocument(doc, a.pageSpec())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		res.URL = source
		results = append(results, res)
	}

	if a.maserati != nil {
		res, err := a.maserati.Models(ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	var specs []catalog.Spec
	if a.cfg.InputPath == "" && a.cfg.URL != "" {
		specs = append(specs, a.pageSpec())
	}
	specs = append(specs, a.cfg.Sites...)

	fetched, err := a.scraper.ScrapeAll(ctx, specs)
	if err != nil {
		return nil, err
	}
	return append(results, fetched...), nil
}

func (a *App) pageSpec() catalog.Spec {
	return catalog.Spec{
		Name:      "page",
		URL:       a.cfg.URL,
		Container: a.cfg.Container,
		Item:      a.cfg.Item,
		Unwrap:    a.cfg.Unwrap,
		Key:       a.cfg.Key,
	}
}

// document loads the configured page from InputPath or URL.
func (a *App) document(ctx context.Context) (*goquery.Document, string, error) {
	if a.cfg.InputPath != "" {
		b, err := os.ReadFile(a.cfg.InputPath)
		if err != nil {
			return nil, "", fmt.Errorf("read input: %w", err)
		}
		doc, err := fetch.Parse(b, "")
		if err != nil {
			return nil, "", fmt.Errorf("parse %s: %w", a.cfg.InputPath, err)
		}
		return doc, a.cfg.InputPath, nil
	}
	if a.cfg.URL == "" {
		return nil, "", errors.New("tables mode needs a url or input file")
	}
	doc, err := a.client.Document(ctx, a.cfg.URL)
	if err != nil {
		return nil, "", err
	}
	return doc, a.cfg.URL, nil
}

// resultsValue is a single result's items, or an object keyed by listing
// name when several listings were scraped.
func resultsValue(results []catalog.Result) scrape.Value {
	if len(results) == 1 {
		return results[0].Value()
	}
	m := scrape.NewMap()
	for i, r := range results {
		name := r.Name
		if name == "" {
			name = r.URL
		}
		if _, taken := m.Get(name); taken || name == "" {
			name = fmt.Sprintf("%s#%d", name, i+1)
		}
		m.Set(name, r.Value())
	}
	return m
}

func (a *App) outputPath(results []catalog.Result) string {
	out := a.cfg.OutputPath
	if a.cfg.OutputDir == "" || (out != "" && out != outputDefault) {
		return out
	}
	name, source := "scrape", a.cfg.URL
	if len(results) > 0 {
		name, source = results[0].Name, results[0].URL
	}
	return deriveOutputPath(a.cfg.OutputDir, name, source)
}

func (a *App) writeJSON(out string, v scrape.Value) error {
	b, err := scrape.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return a.write(out, b)
}

// write indents the JSON document b and writes it to out, or stdout for "-".
func (a *App) write(out string, b []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return fmt.Errorf("indent output: %w", err)
	}
	buf.WriteByte('\n')
	if out == "" || out == outputDefault {
		_, err := a.stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Debug().Str("out", out).Msg("wrote output")
	return nil
}

func (a *App) writeRunManifest(out string, results []catalog.Result) error {
	if out == "" || out == outputDefault {
		log.Warn().Msg("manifest requires a file output; skipping")
		return nil
	}
	entries, err := buildManifestEntries(results)
	if err != nil {
		return err
	}
	m := manifest{
		Version:     BuildVersion,
		Commit:      BuildCommit,
		Output:      out,
		CacheDir:    a.cfg.CacheDir,
		CacheOnly:   a.cfg.CacheOnly,
		GeneratedAt: time.Now().UTC(),
		Entries:     entries,
	}
	path := manifestPath(out)
	if err := writeManifest(path, m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	log.Debug().Str("manifest", path).Msg("wrote manifest")
	return nil
}
