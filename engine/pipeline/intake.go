package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/pkg/natsutil"
)

// Intake consumes scraped items off NATS and appends them to a JSONL file in
// the data directory, where the next pipeline run picks them up. Duplicates
// by content hash are dropped at the door.
type Intake struct {
	mu   sync.Mutex
	f    *os.File
	seen map[string]struct{}
	sub  *nats.Subscription
	log  *slog.Logger
}

// StartIntake subscribes to subject and streams items into
// dir/intake.jsonl. seen pre-seeds the dedup set, typically with the hashes
// of already loaded items.
func StartIntake(nc *nats.Conn, subject, dir string, seen []string, log *slog.Logger) (*Intake, error) {
	path := filepath.Join(dir, "intake.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open intake file: %w", err)
	}
	in := &Intake{f: f, seen: make(map[string]struct{}, len(seen)), log: log}
	for _, h := range seen {
		in.seen[h] = struct{}{}
	}
	sub, err := natsutil.Subscribe(nc, subject, in.handle)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	in.sub = sub
	log.Info("intake listening", "subject", subject, "file", path)
	return in, nil
}

func (in *Intake) handle(_ context.Context, item domain.Item) {
	if item.ContentHash == "" && item.ImageURL != "" {
		item.ContentHash = domain.ContentHash(item.ImageURL)
	}
	if err := domain.ValidateItem(item); err != nil {
		in.log.Warn("rejecting intake item", "url", item.ImageURL, "error", err)
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, dup := in.seen[item.ContentHash]; dup {
		return
	}
	in.seen[item.ContentHash] = struct{}{}
	line, err := json.Marshal(item)
	if err != nil {
		in.log.Error("encode intake item", "error", err)
		return
	}
	if _, err := in.f.Write(append(line, '\n')); err != nil {
		in.log.Error("append intake item", "error", err)
	}
}

// Close drains the subscription and closes the file.
func (in *Intake) Close() error {
	if in.sub != nil {
		if err := in.sub.Drain(); err != nil {
			in.log.Warn("drain intake subscription", "error", err)
		}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.f.Close()
}
