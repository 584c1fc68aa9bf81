package buffer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

var pendingBucket = []byte("pending")

// Store parks document writes in BoltDB while Postgres is unavailable and keeps the importer
// checkpoints in the same file. At most one item is pending per document: a newer write or
// delete of the same row replaces the older one.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Open creates the file and its buckets when missing.
func Open(path string, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = "buffer"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open buffer %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{[]byte(bucket), pendingBucket, checkpointBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		bucket: []byte(bucket),
	}, nil
}

// Enqueue stores item, replacing any pending item for the same document.
func (s *Store) Enqueue(item Item) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	item.normalize()
	item.bucketKey = buildKey(item)

	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(s.bucket)
		if doc := item.documentKey(); doc != nil {
			index := tx.Bucket(pendingBucket)
			if previous := index.Get(doc); previous != nil {
				if err := items.Delete(previous); err != nil {
					return err
				}
			}
			if err := index.Put(doc, item.bucketKey); err != nil {
				return err
			}
		}
		return items.Put(item.bucketKey, payload)
	})
}

// GetBatch returns up to limit items, highest priority and oldest first, without removing them.
func (s *Store) GetBatch(limit int) ([]Item, error) {
	if s == nil || s.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	if limit <= 0 {
		limit = 50
	}

	var items []Item
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil && len(items) < limit; k, v = c.Next() {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				continue
			}
			item.bucketKey = append([]byte(nil), k...)
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

// Pending returns the item waiting for a document, if any.
func (s *Store) Pending(table, documentID string) (Item, bool, error) {
	if s == nil || s.db == nil {
		return Item{}, false, bolt.ErrDatabaseNotOpen
	}
	if documentID == "" {
		return Item{}, false, nil
	}
	var (
		item  Item
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(pendingBucket).Get(Item{Table: table, DocumentID: documentID}.documentKey())
		if key == nil {
			return nil
		}
		raw := tx.Bucket(s.bucket).Get(key)
		if raw == nil {
			return nil
		}
		found = true
		item.bucketKey = append([]byte(nil), key...)
		return json.Unmarshal(raw, &item)
	})
	return item, found, err
}

// Remove deletes item. Items read through GetBatch are removed by key, others by id.
func (s *Store) Remove(item Item) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(s.bucket)
		key := item.bucketKey
		if len(key) == 0 {
			key = findByID(items, item.ID)
			if key == nil {
				return nil
			}
			raw := items.Get(key)
			if err := json.Unmarshal(raw, &item); err != nil {
				return items.Delete(key)
			}
		}
		if err := unindex(tx, item, key); err != nil {
			return err
		}
		return items.Delete(key)
	})
}

// Requeue re-inserts an item at the back of its priority class.
func (s *Store) Requeue(item Item) error {
	item.bucketKey = nil
	item.Timestamp = time.Now()
	return s.Enqueue(item)
}

// Size returns the number of pending items.
func (s *Store) Size() (int, error) {
	if s == nil || s.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return count, err
}

// Cleanup drops items parked before olderThan and returns how many were dropped.
func (s *Store) Cleanup(olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var dropped int
	err := s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(s.bucket)
		var stale []Item
		_ = items.ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err == nil && item.Timestamp.Before(olderThan) {
				item.bucketKey = append([]byte(nil), k...)
				stale = append(stale, item)
			}
			return nil
		})
		for _, item := range stale {
			if err := unindex(tx, item, item.bucketKey); err != nil {
				return err
			}
			if err := items.Delete(item.bucketKey); err != nil {
				return err
			}
			dropped++
		}
		return nil
	})
	return dropped, err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func findByID(items *bolt.Bucket, id string) []byte {
	if id == "" {
		return nil
	}
	c := items.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var item Item
		if err := json.Unmarshal(v, &item); err != nil {
			continue
		}
		if item.ID == id {
			return append([]byte(nil), k...)
		}
	}
	return nil
}

// unindex clears the pending entry of item's document while it still points at key.
func unindex(tx *bolt.Tx, item Item, key []byte) error {
	doc := item.documentKey()
	if doc == nil {
		return nil
	}
	index := tx.Bucket(pendingBucket)
	if bytes.Equal(index.Get(doc), key) {
		return index.Delete(doc)
	}
	return nil
}

func buildKey(item Item) []byte {
	return []byte(fmt.Sprintf("%d_%020d_%s", item.Priority, item.Timestamp.UnixNano(), item.ID))
}
