package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/pagescrape/internal/catalog"
)

// Flag defaults that file config may replace.
const (
	outputDefault      = "-"
	cacheDirDefault    = ".pagescrape-cache"
	maxAttemptsDefault = 3
	timeoutDefault     = 30 * time.Second
)

// DefaultIgnoreTags are skipped by the CLI unless configured otherwise.
var DefaultIgnoreTags = []string{"script", "style", "noscript", "template"}

// FileConfig represents the single-file configuration schema.
type FileConfig struct {
	URL       string `yaml:"url" json:"url"`
	Input     string `yaml:"input" json:"input"`
	Container string `yaml:"container" json:"container"`
	Item      string `yaml:"item" json:"item"`
	Unwrap    string `yaml:"unwrap" json:"unwrap"`
	Key       string `yaml:"key" json:"key"`

	Site    string `yaml:"site" json:"site"`
	Country string `yaml:"country" json:"country"`
	Lang    string `yaml:"lang" json:"lang"`
	Tables  bool   `yaml:"tables" json:"tables"`

	Sites []catalog.Spec `yaml:"sites" json:"sites"`

	Output    string `yaml:"output" json:"output"`
	OutputDir string `yaml:"outputDir" json:"outputDir"`
	Manifest  bool   `yaml:"manifest" json:"manifest"`
	Verbose   bool   `yaml:"verbose" json:"verbose"`

	HTTP struct {
		UserAgent         string        `yaml:"userAgent" json:"userAgent"`
		Timeout           time.Duration `yaml:"timeout" json:"timeout"`
		MaxAttempts       int           `yaml:"maxAttempts" json:"maxAttempts"`
		MaxConcurrent     int           `yaml:"maxConcurrent" json:"maxConcurrent"`
		RequestsPerSecond float64       `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	} `yaml:"http" json:"http"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
		Only        bool          `yaml:"only" json:"only"`
		Bypass      bool          `yaml:"bypass" json:"bypass"`
		MaxBytes    int64         `yaml:"maxBytes" json:"maxBytes"`
		MaxEntries  int           `yaml:"maxEntries" json:"maxEntries"`
	} `yaml:"cache" json:"cache"`

	Extract struct {
		MaxDepth   int      `yaml:"maxDepth" json:"maxDepth"`
		IgnoreTags []string `yaml:"ignoreTags" json:"ignoreTags"`
		IDFallback bool     `yaml:"idFallback" json:"idFallback"`
	} `yaml:"extract" json:"extract"`
}

// LoadConfigFile reads YAML or JSON into FileConfig. Durations in JSON are
// nanoseconds; YAML also accepts strings such as "30s".
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields that
// are currently unset or still at their flag default.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	setString := func(dst *string, v string, def string) {
		if (*dst == "" || *dst == def) && v != "" {
			*dst = v
		}
	}
	setString(&cfg.URL, fc.URL, "")
	setString(&cfg.InputPath, fc.Input, "")
	setString(&cfg.Container, fc.Container, "")
	setString(&cfg.Item, fc.Item, "")
	setString(&cfg.Unwrap, fc.Unwrap, "")
	setString(&cfg.Key, fc.Key, "")
	setString(&cfg.Site, fc.Site, "")
	setString(&cfg.Country, fc.Country, "")
	setString(&cfg.Lang, fc.Lang, "")
	setString(&cfg.OutputPath, fc.Output, outputDefault)
	setString(&cfg.OutputDir, fc.OutputDir, "")
	setString(&cfg.UserAgent, fc.HTTP.UserAgent, "")
	setString(&cfg.CacheDir, fc.Cache.Dir, cacheDirDefault)

	if !cfg.Tables && fc.Tables {
		cfg.Tables = true
	}
	if len(cfg.Sites) == 0 && len(fc.Sites) > 0 {
		cfg.Sites = append([]catalog.Spec{}, fc.Sites...)
	}
	if !cfg.Manifest && fc.Manifest {
		cfg.Manifest = true
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}

	if (cfg.Timeout == 0 || cfg.Timeout == timeoutDefault) && fc.HTTP.Timeout > 0 {
		cfg.Timeout = fc.HTTP.Timeout
	}
	if (cfg.MaxAttempts == 0 || cfg.MaxAttempts == maxAttemptsDefault) && fc.HTTP.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.HTTP.MaxAttempts
	}
	if cfg.MaxConcurrent == 0 && fc.HTTP.MaxConcurrent > 0 {
		cfg.MaxConcurrent = fc.HTTP.MaxConcurrent
	}
	if cfg.RequestsPerSecond == 0 && fc.HTTP.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = fc.HTTP.RequestsPerSecond
	}

	if cfg.CacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = fc.Cache.MaxAge
	}
	if !cfg.CacheClear && fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if !cfg.CacheStrictPerms && fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}
	if !cfg.CacheOnly && fc.Cache.Only {
		cfg.CacheOnly = true
	}
	if !cfg.CacheBypass && fc.Cache.Bypass {
		cfg.CacheBypass = true
	}
	if cfg.CacheMaxBytes == 0 && fc.Cache.MaxBytes > 0 {
		cfg.CacheMaxBytes = fc.Cache.MaxBytes
	}
	if cfg.CacheMaxEntries == 0 && fc.Cache.MaxEntries > 0 {
		cfg.CacheMaxEntries = fc.Cache.MaxEntries
	}

	if cfg.MaxDepth == 0 && fc.Extract.MaxDepth > 0 {
		cfg.MaxDepth = fc.Extract.MaxDepth
	}
	if len(cfg.IgnoreTags) == 0 && len(fc.Extract.IgnoreTags) > 0 {
		cfg.IgnoreTags = append([]string{}, fc.Extract.IgnoreTags...)
	}
	if !cfg.IDFallback && fc.Extract.IDFallback {
		cfg.IDFallback = true
	}
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.URL) == "" && strings.TrimSpace(cfg.InputPath) == "" &&
		strings.TrimSpace(cfg.Site) == "" && len(cfg.Sites) == 0 {
		return errors.New("config: a url, input file, site or sites list is required")
	}
	if site := strings.TrimSpace(cfg.Site); site != "" && !strings.EqualFold(site, SiteMaserati) {
		return fmt.Errorf("config: unknown site %q", site)
	}
	if cfg.Tables && cfg.Site != "" {
		return errors.New("config: tables mode cannot be combined with a site preset")
	}
	if cfg.MaxAttempts < 0 || cfg.MaxConcurrent < 0 || cfg.MaxDepth < 0 ||
		cfg.CacheMaxBytes < 0 || cfg.CacheMaxEntries < 0 || cfg.RequestsPerSecond < 0 || cfg.Timeout < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	if cfg.CacheOnly && strings.TrimSpace(cfg.CacheDir) == "" {
		return errors.New("config: cache-only mode requires a cache directory")
	}
	for i, s := range cfg.Sites {
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("config: sites[%d] has no url", i)
		}
	}
	return nil
}
