package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MaseratiURLFormat is the regional site root, filled with lowercase country
// and language codes.
const MaseratiURLFormat = "https://www.maserati.com/%s/%s/"

// Default region used when none is configured.
const (
	DefaultCountry  = "Canada"
	DefaultLanguage = "English"
)

// CodeResolver maps English country and language names to ISO codes.
type CodeResolver interface {
	Country(ctx context.Context, name string) (string, error)
	Language(ctx context.Context, name string) (string, error)
}

// MaseratiBaseURL returns the regional site root for the named country and
// language.
func MaseratiBaseURL(ctx context.Context, codes CodeResolver, country, lang string) (string, error) {
	if country == "" {
		country = DefaultCountry
	}
	if lang == "" {
		lang = DefaultLanguage
	}
	cc, err := codes.Country(ctx, country)
	if err != nil {
		return "", err
	}
	lc, err := codes.Language(ctx, lang)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(MaseratiURLFormat, strings.ToLower(cc), strings.ToLower(lc)), nil
}

// MaseratiModels is the models listing relative to baseURL: every div.model
// inside div.models, keyed by the title of its "model" record.
func MaseratiModels(baseURL string) Spec {
	return Spec{
		Name:      "maserati-models",
		URL:       baseURL,
		Path:      "models",
		Container: "div.models",
		Item:      "div.model",
		Unwrap:    "model",
		Key:       "title",
	}
}

// Maserati scrapes one regional Maserati site. Models is computed once per
// value; a failed scrape is retried on the next call.
type Maserati struct {
	Scraper *Scraper
	Codes   CodeResolver
	Country string
	Lang    string

	mu     sync.Mutex
	base   string
	models *Result
}

// BaseURL resolves and remembers the regional site root.
func (m *Maserati) BaseURL(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseURL(ctx)
}

func (m *Maserati) baseURL(ctx context.Context) (string, error) {
	if m.base != "" {
		return m.base, nil
	}
	base, err := MaseratiBaseURL(ctx, m.Codes, m.Country, m.Lang)
	if err != nil {
		return "", err
	}
	m.base = base
	return base, nil
}

// Models scrapes the models page, keyed by model title.
func (m *Maserati) Models(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.models != nil {
		return *m.models, nil
	}
	base, err := m.baseURL(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("maserati region: %w", err)
	}
	res, err := m.Scraper.Scrape(ctx, MaseratiModels(base))
	if err != nil {
		return Result{}, fmt.Errorf("maserati models: %w", err)
	}
	m.models = &res
	return res, nil
}
