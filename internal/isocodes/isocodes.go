// Package isocodes resolves English country and language names to their ISO
// 3166-1 alpha-2 and ISO 639-1 codes using the Wikipedia code tables.
package isocodes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/pagescrape/internal/wikitable"
)

// Source describes where one code table lives and which columns hold the
// name and the code.
type Source struct {
	URL     string
	Table   string
	NameCol string
	CodeCol string
	Kind    string
}

var (
	// Countries is the ISO 3166-1 table.
	Countries = Source{
		URL:     "https://en.wikipedia.org/wiki/ISO_3166-1",
		Table:   "ISO 3166-1 table",
		NameCol: "English short name (using title case)",
		CodeCol: "Alpha-2 code",
		Kind:    "country",
	}
	// Languages is the ISO 639-1 table.
	Languages = Source{
		URL:     "https://en.wikipedia.org/wiki/List_of_ISO_639-1_codes",
		Table:   "List of ISO 639-1 codes",
		NameCol: "ISO language name",
		CodeCol: "639-1",
		Kind:    "language",
	}
)

// ErrUnknownName is returned when a name is not present in a code table.
var ErrUnknownName = errors.New("unknown name")

// ErrTableNotFound is returned when the source page lacks the expected table.
var ErrTableNotFound = errors.New("code table not found")

// DocumentFetcher loads and parses a page.
type DocumentFetcher interface {
	Document(ctx context.Context, url string) (*goquery.Document, error)
}

// Directory memoizes the country and language tables for the lifetime of the
// value. Failed loads are not cached.
type Directory struct {
	Fetcher   DocumentFetcher
	Countries Source
	Languages Source

	mu    sync.Mutex
	codes map[string]map[string]string
}

// NewDirectory returns a Directory reading the Wikipedia tables through f.
func NewDirectory(f DocumentFetcher) *Directory {
	return &Directory{Fetcher: f, Countries: Countries, Languages: Languages}
}

// CountryCodes maps English short names to alpha-2 codes.
func (d *Directory) CountryCodes(ctx context.Context) (map[string]string, error) {
	return d.load(ctx, d.Countries)
}

// LangCodes maps ISO language names to 639-1 codes.
func (d *Directory) LangCodes(ctx context.Context) (map[string]string, error) {
	return d.load(ctx, d.Languages)
}

// Country returns the alpha-2 code for name.
func (d *Directory) Country(ctx context.Context, name string) (string, error) {
	return d.lookup(ctx, d.Countries, name)
}

// Language returns the 639-1 code for name.
func (d *Directory) Language(ctx context.Context, name string) (string, error) {
	return d.lookup(ctx, d.Languages, name)
}

func (d *Directory) lookup(ctx context.Context, src Source, name string) (string, error) {
	codes, err := d.load(ctx, src)
	if err != nil {
		return "", err
	}
	code, ok := codes[name]
	if !ok {
		return "", fmt.Errorf("%w: %s %q", ErrUnknownName, kindOf(src), name)
	}
	return code, nil
}

func (d *Directory) load(ctx context.Context, src Source) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if codes, ok := d.codes[src.URL+"#"+src.Table]; ok {
		return codes, nil
	}
	if d.Fetcher == nil {
		return nil, errors.New("isocodes: no fetcher configured")
	}
	doc, err := d.Fetcher.Document(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("load %s codes: %w", kindOf(src), err)
	}
	codes, err := FromDocument(doc.Selection, src)
	if err != nil {
		return nil, err
	}
	if d.codes == nil {
		d.codes = make(map[string]map[string]string)
	}
	d.codes[src.URL+"#"+src.Table] = codes
	log.Debug().Str("url", src.URL).Int("codes", len(codes)).Msg("loaded code table")
	return codes, nil
}

// FromDocument builds a name to code mapping from the src table in sel.
// Rows lacking either column are skipped.
func FromDocument(sel *goquery.Selection, src Source) (map[string]string, error) {
	tables := wikitable.Parse(sel)
	records, ok := tables[src.Table]
	if !ok {
		return nil, fmt.Errorf("%w: %q at %s", ErrTableNotFound, src.Table, src.URL)
	}
	codes := make(map[string]string, len(records))
	for _, rec := range records {
		name, okName := rec[src.NameCol]
		code, okCode := rec[src.CodeCol]
		if !okName || !okCode {
			continue
		}
		codes[name] = code
	}
	return codes, nil
}

func kindOf(src Source) string {
	if src.Kind == "" {
		return "code"
	}
	return src.Kind
}
