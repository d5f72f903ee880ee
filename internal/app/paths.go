package app

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"
)

// deriveOutputPath returns a stable JSON output path under dir for a run
// named name against source. The filename is a slug of name plus a short hash
// of source so runs against different pages do not collide.
func deriveOutputPath(dir, name, source string) string {
	root := strings.TrimSpace(dir)
	if root == "" {
		root = "."
	}
	slug := slugify(name)
	if slug == "" {
		slug = "scrape"
	}
	h := sha256.Sum256([]byte(strings.TrimSpace(source)))
	return filepath.Join(root, slug+"-"+hex.EncodeToString(h[:])[:12]+".json")
}

// manifestPath places the manifest next to the output file.
func manifestPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".manifest.json"
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
