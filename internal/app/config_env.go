package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	applyEnv(cfg, false)
}

// ApplyEnvOverrides forcefully overrides cfg fields with environment variables
// when the corresponding env vars are set. This lets env take precedence over
// a config file while flags remain highest precedence.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	applyEnv(cfg, true)
}

func applyEnv(cfg *Config, force bool) {
	setString := func(dst *string, keys ...string) {
		if *dst != "" && !force {
			return
		}
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&cfg.URL, "SCRAPE_URL")
	setString(&cfg.Site, "SCRAPE_SITE")
	setString(&cfg.Country, "SCRAPE_COUNTRY")
	setString(&cfg.Lang, "SCRAPE_LANG")
	setString(&cfg.UserAgent, "SCRAPE_USER_AGENT", "HTTP_USER_AGENT")
	setString(&cfg.CacheDir, "CACHE_DIR")

	setInt := func(dst *int, key string) {
		if *dst != 0 && !force {
			return
		}
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
			*dst = n
		}
	}
	setInt(&cfg.MaxAttempts, "HTTP_MAX_ATTEMPTS")
	setInt(&cfg.MaxConcurrent, "HTTP_MAX_CONCURRENT")
	setInt(&cfg.CacheMaxEntries, "CACHE_MAX_ENTRIES")
	setInt(&cfg.MaxDepth, "EXTRACT_MAX_DEPTH")

	if cfg.CacheMaxBytes == 0 || force {
		if n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv("CACHE_MAX_BYTES")), 10, 64); err == nil && n > 0 {
			cfg.CacheMaxBytes = n
		}
	}
	if cfg.RequestsPerSecond == 0 || force {
		if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("HTTP_RPS")), 64); err == nil && f > 0 {
			cfg.RequestsPerSecond = f
		}
	}

	setDuration := func(dst *time.Duration, key string) {
		if *dst != 0 && !force {
			return
		}
		if s := os.Getenv(key); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				*dst = d
			}
		}
	}
	setDuration(&cfg.Timeout, "HTTP_TIMEOUT")
	setDuration(&cfg.CacheMaxAge, "CACHE_MAX_AGE")

	if len(cfg.IgnoreTags) == 0 || force {
		if v := strings.TrimSpace(os.Getenv("EXTRACT_IGNORE_TAGS")); v != "" {
			cfg.IgnoreTags = splitList(v)
		}
	}

	// Booleans: unset fields accept truthy values; overrides also accept falsey
	setBool := func(dst *bool, key string) {
		s := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
		switch s {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			if force {
				*dst = false
			}
		}
	}
	setBool(&cfg.Tables, "SCRAPE_TABLES")
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
	setBool(&cfg.CacheOnly, "HTTP_CACHE_ONLY")
	setBool(&cfg.CacheBypass, "HTTP_CACHE_BYPASS")
	setBool(&cfg.IDFallback, "EXTRACT_ID_FALLBACK")
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
