package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const journalBucket = "activity"

// Activity kinds recorded in the journal.
const (
	ActivityNewSqueak       = "new_squeak"
	ActivityNewSecretKey    = "new_secret_key"
	ActivityReceivedOffer   = "received_offer"
	ActivityReceivedPayment = "received_payment"
)

// Activity is one journal line.
type Activity struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// Journal is an append-only bbolt log of node activity, kept apart from the
// relational store so operators can read it while the database is busy.
type Journal struct {
	db *bbolt.DB
}

func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(journalBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records a; empty ID and zero Time are filled in.
func (j *Journal) Append(a Activity) error {
	if j == nil || j.db == nil {
		return nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Time.IsZero() {
		a.Time = time.Now().UTC()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(journalBucket))
		key := []byte(fmt.Sprintf("%020d-%s", a.Time.UnixNano(), a.ID))
		return bucket.Put(key, data)
	})
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Activity, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []Activity
	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(journalBucket))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && limit > 0; k, v = cursor.Prev() {
			var a Activity
			if err := json.Unmarshal(v, &a); err == nil {
				out = append(out, a)
			}
			limit--
		}
		return nil
	})
	return out, err
}

// Prune drops entries recorded before cutoff and reports how many were removed.
func (j *Journal) Prune(cutoff time.Time) (int, error) {
	if j == nil || j.db == nil {
		return 0, nil
	}
	bound := []byte(fmt.Sprintf("%020d", cutoff.UnixNano()))
	removed := 0
	err := j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(journalBucket))
		var stale [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && bytes.Compare(k[:len(bound)], bound) < 0; k, _ = cursor.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
