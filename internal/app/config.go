package app

import (
	"time"

	"github.com/hyperifyio/pagescrape/internal/catalog"
)

// Config holds runtime configuration for the application.
type Config struct {
	// Target page. InputPath reads a saved HTML file instead of fetching URL.
	URL       string
	InputPath string

	// Listing selection
	Container string
	Item      string
	Unwrap    string
	Key       string

	// Site preset ("maserati") and its region
	Site    string
	Country string
	Lang    string

	// Tables switches to wiki table mode.
	Tables bool

	// Sites are additional listings from the config file, scraped together.
	Sites []catalog.Spec

	// Output is written to OutputPath, or to OutputDir with a derived name.
	// "-" is stdout.
	OutputPath string
	OutputDir  string
	Manifest   bool

	// HTTP
	UserAgent         string
	Timeout           time.Duration
	MaxAttempts       int
	MaxConcurrent     int
	RequestsPerSecond float64

	// Cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	CacheOnly        bool
	CacheBypass      bool
	CacheMaxBytes    int64
	CacheMaxEntries  int

	// Extraction
	MaxDepth   int
	IgnoreTags []string
	IDFallback bool

	Verbose bool
}
