package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"pricefeed/internal/pricing"
)

// FSStore persists one JSON file per (class, symbol) under a base directory.
// Writes go through a temp file and rename so a crash or I/O error never
// corrupts a previously valid entry. Anything unreadable is a miss.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("fsstore: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(class pricing.AssetClass, key string) string {
	// Symbols can contain characters that are not filename-safe.
	return filepath.Join(s.dir, string(class), url.PathEscape(key)+".json")
}

func (s *FSStore) Put(ctx context.Context, e Entry) error {
	path := s.path(e.Class, e.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fsstore put: %w", err)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("fsstore put: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("fsstore put: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("fsstore put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("fsstore put: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("fsstore put: %w", err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, class pricing.AssetClass, key string) (*Entry, error) {
	b, err := os.ReadFile(s.path(class, key))
	if err != nil {
		// Absent or unreadable both degrade to a miss.
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, nil
	}
	return &e, nil
}

func (s *FSStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	return filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			// Garbage files are reclaimed by the sweep.
			os.Remove(path)
			return nil
		}
		if e.StoredAt.Before(cutoff) {
			os.Remove(path)
		}
		return nil
	})
}
