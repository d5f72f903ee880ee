package isocodes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"

	"github.com/hyperifyio/pagescrape/internal/fetch"
)

const countryPage = `<html><body>
<table class="wikitable sortable"><caption>ISO 3166-1 table</caption>
<tbody>
<tr><th>English short name (using title case)</th><th>Alpha-2 code</th><th>Alpha-3 code</th></tr>
<tr><td>Canada</td><td>CA</td><td>CAN</td></tr>
<tr><td>Italy</td><td>IT</td><td>ITA</td></tr>
</tbody></table></body></html>`

const languagePage = `<html><body>
<h2>Table</h2>
<table class="wikitable"><caption>List of ISO 639-1 codes</caption>
<tr><th>ISO language name</th><th>639-1</th><th>639-2/T</th></tr>
<tr><td>English</td><td>en</td><td>eng</td></tr>
<tr><td>Italian</td><td>it</td><td>ita</td></tr>
</table></body></html>`

type fakeFetcher struct {
	pages map[string]string
	calls atomic.Int32
}

func (f *fakeFetcher) Document(_ context.Context, url string) (*goquery.Document, error) {
	f.calls.Add(1)
	page, ok := f.pages[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return goquery.NewDocumentFromReader(strings.NewReader(page))
}

func newFake() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{
		Countries.URL: countryPage,
		Languages.URL: languagePage,
	}}
}

func TestDirectory_CountryAndLanguage(t *testing.T) {
	f := newFake()
	d := NewDirectory(f)
	ctx := context.Background()

	codes, err := d.CountryCodes(ctx)
	if err != nil {
		t.Fatalf("country codes: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"Canada": "CA", "Italy": "IT"}, codes); diff != "" {
		t.Fatalf("countries (-want +got):\n%s", diff)
	}
	code, err := d.Language(ctx, "English")
	if err != nil || code != "en" {
		t.Fatalf("language: %q %v", code, err)
	}
	if _, err := d.Country(ctx, "Canada"); err != nil {
		t.Fatalf("country: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("expected one fetch per table, got %d", got)
	}
}

func TestDirectory_UnknownName(t *testing.T) {
	d := NewDirectory(newFake())
	_, err := d.Country(context.Background(), "Atlantis")
	if !errors.Is(err, ErrUnknownName) {
		t.Fatalf("expected ErrUnknownName, got %v", err)
	}
}

func TestDirectory_FailedLoadNotCached(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{}}
	d := NewDirectory(f)
	if _, err := d.CountryCodes(context.Background()); err == nil {
		t.Fatalf("expected error for missing page")
	}
	f.pages[Countries.URL] = countryPage
	if _, err := d.CountryCodes(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}

func TestFromDocument_MissingTable(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(languagePage))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := FromDocument(doc.Selection, Countries); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestDirectory_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(countryPage))
	}))
	defer srv.Close()

	d := NewDirectory(&fetch.Client{HTTPClient: srv.Client()})
	d.Countries.URL = srv.URL + "/wiki/ISO_3166-1"
	code, err := d.Country(context.Background(), "Italy")
	if err != nil || code != "IT" {
		t.Fatalf("country over http: %q %v", code, err)
	}
}
