// Package catalog scrapes listing pages, such as a manufacturer's model grid,
// into keyed collections of extracted values.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/pagescrape/internal/scrape"
)

var (
	// ErrNoItems is returned when the container selector matches nothing.
	ErrNoItems = errors.New("no listing container")
	// ErrMissingKey is returned when an item lacks its unwrap or key path.
	ErrMissingKey = errors.New("item key missing")
)

// xpathPrefix marks a selector as XPath instead of CSS. Selectors starting
// with "/", "./" or "(" are treated as XPath too.
const xpathPrefix = "xpath:"

// Spec describes one listing page. Container and Item are CSS selectors, or
// XPath expressions when prefixed with "xpath:".
type Spec struct {
	Name string `yaml:"name" json:"name"`
	// URL is the base address; Path, when set, is resolved against it.
	URL  string `yaml:"url" json:"url"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Container selects the first element holding the items. Empty means the
	// whole document.
	Container string `yaml:"container,omitempty" json:"container,omitempty"`
	// Item selects items inside the container. Empty means the container
	// itself is the only item.
	Item string `yaml:"item,omitempty" json:"item,omitempty"`
	// Unwrap is a dotted path applied to each extracted item; the value found
	// there is what the result holds.
	Unwrap string `yaml:"unwrap,omitempty" json:"unwrap,omitempty"`
	// Key is a dotted path, relative to the unwrapped value, naming each
	// item. Without a key the result is an ordered list.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// Target resolves the page address the way a browser resolves a relative link.
func (s Spec) Target() (string, error) {
	base, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", s.URL, err)
	}
	if strings.TrimSpace(s.Path) == "" {
		return base.String(), nil
	}
	ref, err := url.Parse(strings.TrimSpace(s.Path))
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", s.Path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// DocumentFetcher loads and parses a page.
type DocumentFetcher interface {
	Document(ctx context.Context, url string) (*goquery.Document, error)
}

// Scraper applies Specs to pages. Extractor controls how items are converted.
type Scraper struct {
	Fetcher   DocumentFetcher
	Extractor scrape.Extractor
	// MaxParallel bounds ScrapeAll. Zero means one page at a time.
	MaxParallel int
}

// Scrape fetches the page described by spec and collects its items.
func (s *Scraper) Scrape(ctx context.Context, spec Spec) (Result, error) {
	if s.Fetcher == nil {
		return Result{}, errors.New("catalog: no fetcher configured")
	}
	target, err := spec.Target()
	if err != nil {
		return Result{}, err
	}
	doc, err := s.Fetcher.Document(ctx, target)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	res, err := s.ScrapeDocument(doc, spec)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", target, err)
	}
	res.URL = target
	return res, nil
}

// ScrapeAll runs Scrape for every spec, at most MaxParallel at once. Results
// keep the order of specs. The first failure cancels the remaining pages.
func (s *Scraper) ScrapeAll(ctx context.Context, specs []Spec) ([]Result, error) {
	out := make([]Result, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	limit := s.MaxParallel
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			res, err := s.Scrape(gctx, spec)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScrapeDocument collects the items of an already parsed page.
func (s *Scraper) ScrapeDocument(doc *goquery.Document, spec Spec) (Result, error) {
	res := Result{Name: spec.Name, Keyed: strings.TrimSpace(spec.Key) != ""}
	if doc.Url != nil {
		res.URL = doc.Url.String()
	}
	root := doc.Selection
	if len(root.Nodes) == 0 {
		return res, ErrNoItems
	}
	container := root.Nodes[0]
	if strings.TrimSpace(spec.Container) != "" {
		found, err := selectNodes(container, spec.Container)
		if err != nil {
			return res, err
		}
		if len(found) == 0 {
			return res, fmt.Errorf("%w: %q", ErrNoItems, spec.Container)
		}
		container = found[0]
	}
	items := []*html.Node{container}
	if strings.TrimSpace(spec.Item) != "" {
		var err error
		items, err = selectNodes(container, spec.Item)
		if err != nil {
			return res, err
		}
	}
	log.Debug().Str("selector", spec.Item).Int("items", len(items)).Msg("listing items matched")

	for i, n := range items {
		v, err := s.Extractor.Extract(n)
		if err != nil {
			return res, fmt.Errorf("item %d: %w", i, err)
		}
		if spec.Unwrap != "" {
			inner, ok := scrape.LookupPath(v, spec.Unwrap)
			if !ok {
				return res, fmt.Errorf("%w: item %d has no %q", ErrMissingKey, i, spec.Unwrap)
			}
			v = inner
		}
		key := ""
		if res.Keyed {
			kv, ok := scrape.LookupPath(v, spec.Key)
			if !ok || kv == nil {
				return res, fmt.Errorf("%w: item %d has no %q", ErrMissingKey, i, spec.Key)
			}
			key = scrape.Text(kv)
		}
		res.add(key, v)
	}
	return res, nil
}

// selectNodes evaluates sel against the descendants of n.
func selectNodes(n *html.Node, sel string) ([]*html.Node, error) {
	sel = strings.TrimSpace(sel)
	if expr, ok := xpathExpr(sel); ok {
		nodes, err := htmlquery.QueryAll(n, expr)
		if err != nil {
			return nil, fmt.Errorf("xpath %q: %w", expr, err)
		}
		return nodes, nil
	}
	return goquery.NewDocumentFromNode(n).Find(sel).Nodes, nil
}

func xpathExpr(sel string) (string, bool) {
	if strings.HasPrefix(sel, xpathPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(sel, xpathPrefix)), true
	}
	if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "./") || strings.HasPrefix(sel, "(") {
		return sel, true
	}
	return "", false
}
