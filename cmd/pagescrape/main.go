package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/pagescrape/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, showVersion, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	if showVersion {
		fmt.Println(app.VersionString())
		return
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err = run(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
	}
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps run errors to the process exit status: 2 when the run
// completed without results, 1 for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, app.ErrNoResults):
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, cfg app.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}

// parseConfig layers configuration: flag defaults, then the config file,
// then environment variables, then flags given explicitly on the command line.
func parseConfig(args []string, stderr io.Writer) (app.Config, bool, error) {
	fs := flag.NewFlagSet("pagescrape", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		f           app.Config
		configPath  string
		envFiles    string
		ignoreTags  string
		showVersion bool
	)
	fs.StringVar(&f.URL, "url", "", "Page URL to scrape (may also be given as the first argument)")
	fs.StringVar(&f.InputPath, "input", "", "Read a saved HTML file instead of fetching -url")
	fs.StringVar(&f.Site, "site", "", "Site preset to scrape: maserati")
	fs.StringVar(&f.Country, "country", "", "Country name for the site preset, e.g. 'Canada'")
	fs.StringVar(&f.Lang, "lang", "", "Language name for the site preset, e.g. 'English'")
	fs.StringVar(&f.Container, "container", "", "CSS selector (or xpath:expr) for the listing container; empty means the whole page")
	fs.StringVar(&f.Item, "item", "", "CSS selector (or xpath:expr) for items inside the container")
	fs.StringVar(&f.Unwrap, "unwrap", "", "Dotted path applied to each extracted item, e.g. 'model'")
	fs.StringVar(&f.Key, "key", "", "Dotted path naming each item, e.g. 'title'; empty outputs a list")
	fs.BoolVar(&f.Tables, "tables", false, "Extract MediaWiki tables instead of listing items")
	fs.StringVar(&f.OutputPath, "output", "-", "Path to write JSON output; '-' is stdout")
	fs.StringVar(&f.OutputDir, "output.dir", "", "Directory for output files named after the listing")
	fs.BoolVar(&f.Manifest, "manifest", false, "Write a run manifest next to the output file")
	fs.StringVar(&configPath, "config", os.Getenv("PAGESCRAPE_CONFIG"), "Path to a YAML or JSON config file")
	fs.StringVar(&envFiles, "env", ".env", "Comma-separated dotenv files to load before reading the environment")
	fs.StringVar(&f.UserAgent, "ua", "", "User-Agent for page requests")
	fs.DurationVar(&f.Timeout, "timeout", 30*time.Second, "Per-request timeout")
	fs.IntVar(&f.MaxAttempts, "max.attempts", 3, "Attempts per request, including the first")
	fs.IntVar(&f.MaxConcurrent, "max.concurrent", 0, "Maximum concurrent requests; 0 is unlimited")
	fs.Float64Var(&f.RequestsPerSecond, "rps", 0, "Maximum requests per second; 0 disables pacing")
	fs.StringVar(&f.CacheDir, "cache.dir", ".pagescrape-cache", "Page cache directory; empty disables caching")
	fs.DurationVar(&f.CacheMaxAge, "cache.maxAge", 0, "Max age for cache entries before purge (e.g. 24h); 0 disables")
	fs.BoolVar(&f.CacheClear, "cache.clear", false, "Clear the cache directory before the run")
	fs.BoolVar(&f.CacheStrictPerms, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	fs.BoolVar(&f.CacheOnly, "cache.only", false, "Serve pages from the cache only; never touch the network")
	fs.BoolVar(&f.CacheBypass, "cache.bypass", false, "Skip revalidation against cached pages; fresh responses are still saved")
	fs.Int64Var(&f.CacheMaxBytes, "cache.maxBytes", 0, "Evict least recently used pages above this many bytes; 0 disables")
	fs.IntVar(&f.CacheMaxEntries, "cache.maxEntries", 0, "Evict least recently used pages above this many entries; 0 disables")
	fs.IntVar(&f.MaxDepth, "extract.maxDepth", 0, "Maximum element nesting to walk; 0 uses the default")
	fs.StringVar(&ignoreTags, "extract.ignoreTags", strings.Join(app.DefaultIgnoreTags, ","), "Comma-separated element names to skip")
	fs.BoolVar(&f.IDFallback, "extract.idFallback", false, "Name elements by id when no single class applies")
	fs.BoolVar(&f.Verbose, "v", false, "Verbose logging")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return app.Config{}, false, err
	}
	f.IgnoreTags = splitList(ignoreTags)
	if f.URL == "" && fs.NArg() > 0 {
		f.URL = fs.Arg(0)
	}
	if showVersion {
		return f, true, nil
	}

	if err := app.LoadEnvFiles(splitList(envFiles)...); err != nil {
		return app.Config{}, false, fmt.Errorf("load env files: %w", err)
	}

	explicit := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })
	if f.URL != "" {
		explicit["url"] = true
	}
	cfg := defaultsOnly(f, explicit)
	if !explicit["extract.ignoreTags"] {
		cfg.IgnoreTags = nil
	}
	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return app.Config{}, false, fmt.Errorf("load config %s: %w", configPath, err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvOverrides(&cfg)
	applyExplicit(&cfg, f, explicit)
	if len(cfg.IgnoreTags) == 0 && !explicit["extract.ignoreTags"] {
		cfg.IgnoreTags = append([]string{}, app.DefaultIgnoreTags...)
	}

	if err := app.ValidateConfig(cfg); err != nil {
		return app.Config{}, false, err
	}
	return cfg, false, nil
}

// defaultsOnly resets explicitly set fields of f to their zero values so the
// config file can fill them; applyExplicit restores them afterwards.
func defaultsOnly(f app.Config, explicit map[string]bool) app.Config {
	cfg := f
	applyExplicit(&cfg, app.Config{}, explicit)
	return cfg
}

// applyExplicit copies the fields behind explicitly set flags from src.
func applyExplicit(dst *app.Config, src app.Config, explicit map[string]bool) {
	fields := map[string]func(){
		"url":                func() { dst.URL = src.URL },
		"input":              func() { dst.InputPath = src.InputPath },
		"site":               func() { dst.Site = src.Site },
		"country":            func() { dst.Country = src.Country },
		"lang":               func() { dst.Lang = src.Lang },
		"container":          func() { dst.Container = src.Container },
		"item":               func() { dst.Item = src.Item },
		"unwrap":             func() { dst.Unwrap = src.Unwrap },
		"key":                func() { dst.Key = src.Key },
		"tables":             func() { dst.Tables = src.Tables },
		"output":             func() { dst.OutputPath = src.OutputPath },
		"output.dir":         func() { dst.OutputDir = src.OutputDir },
		"manifest":           func() { dst.Manifest = src.Manifest },
		"ua":                 func() { dst.UserAgent = src.UserAgent },
		"timeout":            func() { dst.Timeout = src.Timeout },
		"max.attempts":       func() { dst.MaxAttempts = src.MaxAttempts },
		"max.concurrent":     func() { dst.MaxConcurrent = src.MaxConcurrent },
		"rps":                func() { dst.RequestsPerSecond = src.RequestsPerSecond },
		"cache.dir":          func() { dst.CacheDir = src.CacheDir },
		"cache.maxAge":       func() { dst.CacheMaxAge = src.CacheMaxAge },
		"cache.clear":        func() { dst.CacheClear = src.CacheClear },
		"cache.strictPerms":  func() { dst.CacheStrictPerms = src.CacheStrictPerms },
		"cache.only":         func() { dst.CacheOnly = src.CacheOnly },
		"cache.bypass":       func() { dst.CacheBypass = src.CacheBypass },
		"cache.maxBytes":     func() { dst.CacheMaxBytes = src.CacheMaxBytes },
		"cache.maxEntries":   func() { dst.CacheMaxEntries = src.CacheMaxEntries },
		"extract.maxDepth":   func() { dst.MaxDepth = src.MaxDepth },
		"extract.ignoreTags": func() { dst.IgnoreTags = src.IgnoreTags },
		"extract.idFallback": func() { dst.IDFallback = src.IDFallback },
		"v":                  func() { dst.Verbose = src.Verbose },
	}
	for name := range explicit {
		if set, ok := fields[name]; ok {
			set()
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
