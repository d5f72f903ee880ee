package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hyperifyio/pagescrape/internal/catalog"
)

// manifestEntry is a compact record of one scraped listing.
type manifestEntry struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Items  int    `json:"items"`
	SHA256 string `json:"sha256"`
}

// manifest captures run details that aid reproducibility.
type manifest struct {
	Version     string          `json:"version"`
	Commit      string          `json:"commit"`
	Output      string          `json:"output"`
	CacheDir    string          `json:"cache_dir,omitempty"`
	CacheOnly   bool            `json:"cache_only"`
	GeneratedAt time.Time       `json:"generated_at"`
	Entries     []manifestEntry `json:"entries"`
}

// computeSHA256Hex returns a lowercase hex-encoded SHA-256 of b.
func computeSHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// buildManifestEntries digests each result's encoded items.
func buildManifestEntries(results []catalog.Result) ([]manifestEntry, error) {
	out := make([]manifestEntry, 0, len(results))
	for _, r := range results {
		b, err := r.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", r.Name, err)
		}
		out = append(out, manifestEntry{
			Name:   r.Name,
			URL:    r.URL,
			Items:  len(r.Items),
			SHA256: computeSHA256Hex(b),
		})
	}
	return out, nil
}

func writeManifest(path string, m manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
