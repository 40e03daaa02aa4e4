package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	gwerrors "github.com/audit-pit-crew/gateway/pkg/domain/errors"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
)

const baselinesBucket = "baselines"

// BoltStore is the bbolt-backed Store. bbolt serializes all writers through
// a single file lock, so Write's atomic-replace requirement is satisfied by
// the underlying transaction without any extra locking in this package.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database at dbPath and
// ensures the baselines bucket exists.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, gwerrors.Store("baseline", fmt.Sprintf("failed to create directory for %s", dbPath), err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, gwerrors.Store("baseline", "failed to open baseline database", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(baselinesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, gwerrors.Store("baseline", "failed to create baselines bucket", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// record is the on-disk shape: a JSON array is simpler to store and debug
// than a bbolt sub-bucket per fingerprint, and baselines are small (low
// thousands of fingerprints at most).
type record struct {
	Fingerprints []finding.Fingerprint `json:"fingerprints"`
}

func (s *BoltStore) Read(_ context.Context, key Key) (Baseline, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(baselinesBucket))
		v := bucket.Get([]byte(key))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Baseline{}, gwerrors.Store("baseline", fmt.Sprintf("failed to read baseline for %s", key), err)
	}
	if data == nil {
		return Empty(), nil
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Empty(), nil
	}

	b := Empty()
	for _, fp := range rec.Fingerprints {
		b.Fingerprints[fp] = struct{}{}
	}
	return b, nil
}

func (s *BoltStore) Write(_ context.Context, key Key, b Baseline) error {
	rec := record{Fingerprints: make([]finding.Fingerprint, 0, len(b.Fingerprints))}
	for fp := range b.Fingerprints {
		rec.Fingerprints = append(rec.Fingerprints, fp)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return gwerrors.Store("baseline", "failed to marshal baseline", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(baselinesBucket))
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return gwerrors.Store("baseline", fmt.Sprintf("failed to write baseline for %s", key), err)
	}
	return nil
}
