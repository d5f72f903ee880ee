package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperifyio/pagescrape/internal/catalog"
)

const modelsHTML = `<html><body>
<script>var x = "<div class='models'>";</script>
<div class="models">
  <div class="model"><h3 class="title">Grecale</h3><span class="price">$1</span></div>
  <div class="model"><h3 class="title">MC20</h3><span class="price">$2</span></div>
</div></body></html>`

func newTestApp(t *testing.T, cfg Config) (*App, *bytes.Buffer) {
	t.Helper()
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)
	var out bytes.Buffer
	a.stdout = &out
	return a, &out
}

func TestRun_InputFileToStdout(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "models.html")
	if err := os.WriteFile(in, []byte(modelsHTML), 0o644); err != nil {
		t.Fatal(err)
	}
	a, out := newTestApp(t, Config{
		InputPath:  in,
		OutputPath: "-",
		Container:  "div.models",
		Item:       "div.model",
		Unwrap:     "model",
		Key:        "title",
		IgnoreTags: DefaultIgnoreTags,
	})
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := `{
  "Grecale": {
    "title": "Grecale",
    "price": "$1"
  },
  "MC20": {
    "title": "MC20",
    "price": "$2"
  }
}
`
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestRun_URLWithCacheAndManifest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"m1"`)
		if r.Header.Get("If-None-Match") == `"m1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte(modelsHTML))
	}))
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "models.json")
	cfg := Config{
		URL:        srv.URL + "/models",
		OutputPath: out,
		Container:  "div.models",
		Item:       "span.price",
		CacheDir:   filepath.Join(dir, "cache"),
		Manifest:   true,
	}
	for i := 0; i < 2; i++ {
		a, _ := newTestApp(t, cfg)
		if err := a.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var items []map[string]string
	if err := json.Unmarshal(b, &items); err != nil {
		t.Fatalf("decode output: %v\n%s", err, b)
	}
	if len(items) != 2 || items[1]["price"] != "$2" {
		t.Fatalf("unexpected items %v", items)
	}

	mb, err := os.ReadFile(filepath.Join(dir, "models.manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(m.Entries) != 1 || m.Entries[0].Items != 2 || m.Entries[0].URL != srv.URL+"/models" || m.Entries[0].SHA256 == "" {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected a fetch and a revalidation, got %d hits", hits.Load())
	}
}

func TestRun_NoResults(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "empty.html")
	if err := os.WriteFile(in, []byte(`<div class="models"></div>`), 0o644); err != nil {
		t.Fatal(err)
	}
	a, out := newTestApp(t, Config{InputPath: in, Container: "div.models", Item: "div.model"})
	if err := a.Run(context.Background()); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
	if strings.TrimSpace(out.String()) != "[]" {
		t.Fatalf("expected empty list output, got %q", out.String())
	}
}

func TestRun_Tables(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "iso.html")
	page := `<h2>Codes</h2><table class="wikitable"><tr><th>Name</th><th>Code</th></tr><tr><td>Italy</td><td>IT</td></tr></table>`
	if err := os.WriteFile(in, []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}
	a, out := newTestApp(t, Config{InputPath: in, Tables: true})
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	var got map[string][]map[string]string
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got["Codes"]) != 1 || got["Codes"][0]["Code"] != "IT" {
		t.Fatalf("unexpected tables %v", got)
	}
	if _, ok := got["__anon__"]; !ok {
		t.Fatalf("expected anonymous entry")
	}
}

func TestMaseratiRegion_FromCodeTables(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/wiki/countries", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<table class="wikitable"><caption>ISO 3166-1 table</caption>
<tr><th>English short name (using title case)</th><th>Alpha-2 code</th></tr><tr><td>Canada</td><td>CA</td></tr></table>`))
	})
	mux.HandleFunc("/wiki/languages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<table class="wikitable"><caption>List of ISO 639-1 codes</caption>
<tr><th>ISO language name</th><th>639-1</th></tr><tr><td>English</td><td>en</td></tr></table>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, _ := newTestApp(t, Config{Site: SiteMaserati})
	a.codes.Countries.URL = srv.URL + "/wiki/countries"
	a.codes.Languages.URL = srv.URL + "/wiki/languages"
	base, err := catalog.MaseratiBaseURL(context.Background(), a.codes, "", "")
	if err != nil {
		t.Fatalf("base url: %v", err)
	}
	if base != "https://www.maserati.com/ca/en/" {
		t.Fatalf("unexpected base %q", base)
	}
}

func TestRun_MultipleSitesKeyedByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(modelsHTML))
	}))
	defer srv.Close()

	a, out := newTestApp(t, Config{
		Sites: []catalog.Spec{
			{Name: "prices", URL: srv.URL + "/a", Container: "div.models", Item: "span.price"},
			{Name: "titles", URL: srv.URL + "/b", Container: "div.models", Item: "h3.title"},
		},
		MaxConcurrent: 2,
	})
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	var got map[string][]map[string]string
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if len(got["prices"]) != 2 || got["titles"][0]["title"] != "Grecale" {
		t.Fatalf("unexpected output %v", got)
	}
}

func TestRun_OutputDirDerivesName(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "page.html")
	if err := os.WriteFile(in, []byte(modelsHTML), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	a, _ := newTestApp(t, Config{InputPath: in, OutputDir: outDir, Container: "div.models", Item: "div.model"})
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "page-") {
		t.Fatalf("unexpected output dir entries %v %v", entries, err)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
}
