package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const profileBucket = "risk_profiles"

// BoltStore keeps profiles in an embedded bbolt file, one JSON document per
// account. Suitable for single-node deployments without PostgreSQL.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir profile store path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(profileBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Get(ctx context.Context, accountID string) (*Profile, error) {
	var p *Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(profileBucket)).Get([]byte(accountID))
		if len(data) == 0 {
			return ErrProfileNotFound
		}
		var err error
		p, err = unmarshalProfile(data)
		return err
	})
	return p, err
}

func (s *BoltStore) Create(ctx context.Context, p *Profile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(profileBucket))
		key := []byte(p.AccountID)
		if b.Get(key) != nil {
			return ErrProfileExists
		}
		p.Version = 1
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) Save(ctx context.Context, p *Profile) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(profileBucket))
		key := []byte(p.AccountID)
		data := b.Get(key)
		if len(data) == 0 {
			return ErrProfileNotFound
		}
		cur, err := unmarshalProfile(data)
		if err != nil {
			return err
		}
		if cur.Version != p.Version {
			return ErrVersionConflict
		}

		next := *p
		next.Version++
		updated, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		return b.Put(key, updated)
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (s *BoltStore) ListDueForReview(ctx context.Context, t time.Time, limit int) ([]*Profile, error) {
	var due []*Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(profileBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) == 0 {
				continue
			}
			p, err := unmarshalProfile(v)
			if err != nil {
				continue
			}
			if p.NextReview.After(t) {
				continue
			}
			due = append(due, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextReview.Before(due[j].NextReview)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func unmarshalProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}
	return &p, nil
}
