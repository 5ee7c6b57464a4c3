// Package state persists editor state (last used browser labels and query history) in a
// bbolt file.
package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// LabelsKey is the fixed key the label browser's last used labels live under.
const LabelsKey = "promql-assist.browser.labels"

var (
	prefsBucket   = []byte("prefs")
	historyBucket = []byte("history")
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("state store closed")

// Store is a bbolt backed LabelStore and HistoryStore.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens (creating when needed) the state file at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state file %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{prefsBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger = logger.With("component", "state")
	logger.Debug("state opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// LastUsedLabels returns the saved labels; nil when none were saved.
func (s *Store) LastUsedLabels() ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(prefsBucket).Get([]byte(LabelsKey))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode %s: %w", LabelsKey, err)
		}
		return nil
	})
	return out, err
}

// SaveLastUsedLabels replaces the saved labels.
func (s *Store) SaveLastUsedLabels(labels []string) error {
	if s.db == nil {
		return ErrClosed
	}
	if labels == nil {
		labels = []string{}
	}
	raw, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(prefsBucket).Put([]byte(LabelsKey), raw)
	})
}

// History returns up to limit queries, newest first.
func (s *Store) History(limit int) ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(historyBucket).Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			out = append(out, string(v))
		}
		return nil
	})
	return out, err
}

// AppendHistory records query unless it repeats the newest entry, then drops the oldest
// entries beyond limit.
func (s *Store) AppendHistory(query string, limit int) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(historyBucket)
		if _, last := b.Cursor().Last(); last != nil && string(last) == query {
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), []byte(query)); err != nil {
			return err
		}
		if limit <= 0 {
			return nil
		}
		var keys [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for i := 0; i < len(keys)-limit; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
