// Package stats persists a record of each mining session to an embedded
// bbolt database so operators can review historical runs without an
// external service.
package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// SessionRecord summarizes one mining run for persistence and later review.
type SessionRecord struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	Host            string    `json:"host"`
	WorkerName      string    `json:"worker_name"`
	SharesSubmitted uint64    `json:"shares_submitted"`
	SharesAccepted  uint64    `json:"shares_accepted"`
	SharesRejected  uint64    `json:"shares_rejected"`
	BestShareBits   uint32    `json:"best_share_bits"`
	PeakHashrate    float64   `json:"peak_hashrate"`
}

// Recorder is the persistence surface the Mining Engine depends on. Errors
// are expected to be logged by the caller and never treated as fatal.
type Recorder interface {
	Record(rec SessionRecord) error
	Recent(n int) ([]SessionRecord, error)
	Close() error
}

// Store is a bbolt-backed Recorder.
type Store struct {
	db  *bolt.DB
	log *logrus.Entry
}

// Open opens (creating if necessary) a bbolt database at path and ensures
// the sessions bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("stats: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: init sessions bucket: %w", err)
	}
	return &Store{db: db, log: logrus.WithField("component", "stats")}, nil
}

// Record upserts a session record keyed by its ID, assigning one via uuid
// if the caller didn't set one.
func (s *Store) Record(rec SessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("stats: marshal session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(rec.ID), data)
	})
}

// Recent returns up to n session records, most recently ended first.
// Records are keyed by random UUIDs, so key order says nothing about age;
// they are ordered by EndedAt instead.
func (s *Store) Recent(n int) ([]SessionRecord, error) {
	var records []SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.log.WithError(err).Warn("skipping corrupt session record")
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	sort.SliceStable(records, func(i, j int) bool { return records[i].EndedAt.After(records[j].EndedAt) })
	if n < 0 {
		n = 0
	}
	if len(records) > n {
		records = records[:n]
	}
	return records, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
