package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ClearDir removes the directory and all contents. It recreates the directory
// afterwards to leave a valid empty cache location.
func ClearDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty dir")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// PurgeByAge removes page entries saved more than maxAge ago, judged by the
// SavedAt stamp in each meta file. Unreadable or malformed entries are skipped.
func PurgeByAge(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	removed := 0
	err := walkMeta(dir, func(path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			return
		}
		var e PageEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return
		}
		if now.Sub(e.SavedAt) <= maxAge {
			return
		}
		removed++
		removeEntry(path)
	})
	return removed, err
}

// EnforceLimits evicts least recently used entries until the cache holds at
// most maxEntries pages and maxBytes of bodies. A zero limit is not enforced.
func EnforceLimits(dir string, maxBytes int64, maxEntries int) (int, error) {
	if maxBytes <= 0 && maxEntries <= 0 {
		return 0, nil
	}
	type item struct {
		meta  string
		size  int64
		mtime time.Time
	}
	var items []item
	var total int64
	err := walkMeta(dir, func(path string) {
		it := item{meta: path}
		if info, err := os.Stat(strings.TrimSuffix(path, metaSuffix) + bodySuffix); err == nil {
			it.size = info.Size()
			it.mtime = info.ModTime()
		} else if info, err := os.Stat(path); err == nil {
			it.mtime = info.ModTime()
		}
		total += it.size
		items = append(items, it)
	})
	if err != nil {
		return 0, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].mtime.Before(items[j].mtime) })

	removed := 0
	count := len(items)
	for _, it := range items {
		overCount := maxEntries > 0 && count > maxEntries
		overBytes := maxBytes > 0 && total > maxBytes
		if !overCount && !overBytes {
			break
		}
		removeEntry(it.meta)
		count--
		total -= it.size
		removed++
	}
	return removed, nil
}

func walkMeta(dir string, fn func(path string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), metaSuffix) {
			return nil
		}
		fn(path)
		return nil
	})
}

func removeEntry(metaPath string) {
	_ = os.Remove(metaPath)
	_ = os.Remove(strings.TrimSuffix(metaPath, metaSuffix) + bodySuffix)
}
