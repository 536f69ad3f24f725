package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Checkpoint tracks which items have been fully persisted and which have
// failed, so interrupted runs resume without redoing work. State lives in a
// single JSON file rewritten atomically.
type Checkpoint struct {
	mu     sync.Mutex
	path   string
	every  int
	dirty  int
	done   map[string]struct{}
	failed map[string]int
}

type checkpointFile struct {
	Done   []string       `json:"done"`
	Failed map[string]int `json:"failed,omitempty"`
}

// OpenCheckpoint loads checkpoint state from path, starting empty if the
// file does not exist. every controls how many marks accumulate before
// MaybeFlush writes to disk.
func OpenCheckpoint(path string, every int) (*Checkpoint, error) {
	if every <= 0 {
		every = 1
	}
	c := &Checkpoint{
		path:   path,
		every:  every,
		done:   make(map[string]struct{}),
		failed: make(map[string]int),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var f checkpointFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	for _, h := range f.Done {
		c.done[h] = struct{}{}
	}
	for h, n := range f.Failed {
		c.failed[h] = n
	}
	return c, nil
}

// Done reports whether hash has already been persisted.
func (c *Checkpoint) Done(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.done[hash]
	return ok
}

// Attempts returns how many times hash has failed so far.
func (c *Checkpoint) Attempts(hash string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed[hash]
}

// MarkDone records hash as persisted and clears any failure count.
func (c *Checkpoint) MarkDone(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[hash] = struct{}{}
	delete(c.failed, hash)
	c.dirty++
}

// MarkFailed increments the failure count for hash and returns the new count.
func (c *Checkpoint) MarkFailed(hash string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[hash]++
	c.dirty++
	return c.failed[hash]
}

// DoneCount returns how many items are recorded as persisted.
func (c *Checkpoint) DoneCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.done)
}

// MaybeFlush writes to disk if enough marks have accumulated.
func (c *Checkpoint) MaybeFlush() error {
	c.mu.Lock()
	flush := c.dirty >= c.every
	c.mu.Unlock()
	if !flush {
		return nil
	}
	return c.Flush()
}

// Flush writes the full state to disk via a temp file and rename, so a crash
// mid-write never corrupts the checkpoint.
func (c *Checkpoint) Flush() error {
	c.mu.Lock()
	f := checkpointFile{
		Done:   make([]string, 0, len(c.done)),
		Failed: make(map[string]int, len(c.failed)),
	}
	for h := range c.done {
		f.Done = append(f.Done, h)
	}
	for h, n := range c.failed {
		f.Failed[h] = n
	}
	c.dirty = 0
	c.mu.Unlock()

	sort.Strings(f.Done)
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Reset drops all state and removes the file, forcing a full re-run.
func (c *Checkpoint) Reset() error {
	c.mu.Lock()
	c.done = make(map[string]struct{})
	c.failed = make(map[string]int)
	c.dirty = 0
	c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
