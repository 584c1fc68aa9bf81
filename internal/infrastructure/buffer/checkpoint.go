package buffer

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

var checkpointBucket = []byte("checkpoints")

// Checkpoint returns the time of the last successful run of a feed; zero when it never ran.
func (s *Store) Checkpoint(feed string) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, bolt.ErrDatabaseNotOpen
	}
	var at time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(checkpointBucket).Get([]byte(feed))
		if raw == nil {
			return nil
		}
		return at.UnmarshalText(raw)
	})
	return at, err
}

// SaveCheckpoint records a successful run.
func (s *Store) SaveCheckpoint(feed string, at time.Time) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	raw, err := at.UTC().MarshalText()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointBucket).Put([]byte(feed), raw)
	})
}

// ResetCheckpoint forces the next run of a feed to be a full import.
func (s *Store) ResetCheckpoint(feed string) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointBucket).Delete([]byte(feed))
	})
}
