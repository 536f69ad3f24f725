package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/pkg/fn"
)

// LoadItems reads every *.json and *.jsonl file under dir, validates each
// item and deduplicates by content hash. Items missing a hash get one derived
// from the image URL. Invalid records are logged and skipped, never fatal.
func LoadItems(dir string, log *slog.Logger) ([]domain.Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var items []domain.Item
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		var batch []domain.Item
		switch {
		case strings.HasSuffix(name, ".jsonl"):
			batch, err = readJSONL(path)
		case strings.HasSuffix(name, ".json"):
			batch, err = readJSONArray(path)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		items = append(items, batch...)
	}

	valid := items[:0]
	dropped := 0
	for i := range items {
		it := items[i]
		if it.ContentHash == "" && it.ImageURL != "" {
			it.ContentHash = domain.ContentHash(it.ImageURL)
		}
		if err := domain.ValidateItem(it); err != nil {
			dropped++
			log.Warn("dropping invalid item", "url", it.ImageURL, "error", err)
			continue
		}
		valid = append(valid, it)
	}
	unique := fn.UniqueBy(valid, func(it domain.Item) string { return it.ContentHash })
	if dropped > 0 || len(unique) < len(valid) {
		log.Info("loaded items",
			"total", len(items), "invalid", dropped, "duplicates", len(valid)-len(unique))
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].ContentHash < unique[j].ContentHash
	})
	return unique, nil
}

// Pending filters out items the checkpoint already recorded as done or
// permanently failed.
func Pending(items []domain.Item, cp *Checkpoint, maxAttempts int) []domain.Item {
	return fn.Filter(items, func(it domain.Item) bool {
		if cp.Done(it.ContentHash) {
			return false
		}
		return cp.Attempts(it.ContentHash) < maxAttempts
	})
}

func readJSONArray(path string) ([]domain.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func readJSONL(path string) ([]domain.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var items []domain.Item
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var it domain.Item
		if err := json.Unmarshal([]byte(line), &it); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, sc.Err()
}
