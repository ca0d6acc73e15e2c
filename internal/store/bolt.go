package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/quiverdata/govcontracts/internal/datekey"
)

var (
	bucketProcessed = []byte("processed")
	bucketStaging   = []byte("staging")
	bucketUniverse  = []byte("universe")
)

// BoltStore keeps entity and universe files as keys in a single bbolt
// database. Values are newline-joined lines.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketProcessed, bucketStaging, bucketUniverse} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.path }

func tierBucket(tier Tier) []byte {
	if tier == Processed {
		return bucketProcessed
	}
	return bucketStaging
}

func (s *BoltStore) get(bucket []byte, key string) ([]string, bool, error) {
	var (
		lines []string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		lines = splitLines(v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading %s/%s: %w", bucket, key, err)
	}
	return lines, found, nil
}

func (s *BoltStore) put(bucket []byte, key string, lines []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		// A non-nil empty value marks the key present.
		v := joinLines(lines)
		if v == nil {
			v = []byte{}
		}
		return tx.Bucket(bucket).Put([]byte(key), v)
	})
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *BoltStore) keys(bucket []byte) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", bucket, err)
	}
	return keys, nil
}

func (s *BoltStore) ReadEntity(tier Tier, name string) ([]string, bool, error) {
	return s.get(tierBucket(tier), EntityName(name))
}

func (s *BoltStore) WriteEntity(name string, lines []string) error {
	key := EntityName(name)
	if key == "" {
		return fmt.Errorf("writing entity: empty name")
	}
	return s.put(bucketStaging, key, lines)
}

// ListEntities returns keys in byte order, which bbolt guarantees.
func (s *BoltStore) ListEntities(tier Tier) ([]string, error) {
	return s.keys(tierBucket(tier))
}

func (s *BoltStore) WriteUniverse(date time.Time, lines []string) error {
	return s.put(bucketUniverse, universeKey(date), lines)
}

func (s *BoltStore) ReadUniverse(date time.Time) ([]string, bool, error) {
	return s.get(bucketUniverse, universeKey(date))
}

func (s *BoltStore) ListUniverse() ([]time.Time, error) {
	keys, err := s.keys(bucketUniverse)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		d, err := datekey.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("universe key: %w", err)
		}
		dates = append(dates, d)
	}
	sortDates(dates)
	return dates, nil
}

// ImportProcessed loads the processed tier from an existing directory of
// entity files, replacing keys of the same name.
func (s *BoltStore) ImportProcessed(src Store) (int, error) {
	names, err := src.ListEntities(Processed)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, name := range names {
		lines, found, err := src.ReadEntity(Processed, name)
		if err != nil {
			return n, err
		}
		if !found {
			continue
		}
		if err := s.put(bucketProcessed, EntityName(name), lines); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
