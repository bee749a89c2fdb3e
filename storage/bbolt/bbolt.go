// Package bbolt provides a BBolt-backed storage.Store.
//
// Layout: a "predictions" bucket keyed by session id, and a "feedback"
// bucket holding one nested bucket per signal key with sequence-numbered
// entries, so History can walk a key's records newest-first with a
// reverse cursor.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/Payvo-ai/payvo-middleware-sub001/storage"
)

var (
	predictionsBucket = []byte("predictions")
	feedbackBucket    = []byte("feedback")
)

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path and returns
// a new Store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SavePrediction(ctx context.Context, rec *storage.PredictionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(predictionsBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.SessionID), data)
	})
}

func (s *Store) SaveFeedback(ctx context.Context, rec *storage.FeedbackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(feedbackBucket)
		if err != nil {
			return err
		}
		b, err := root.CreateBucketIfNotExists([]byte(rec.Key))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

func (s *Store) History(ctx context.Context, key string, limit int) ([]storage.FeedbackRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []storage.FeedbackRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(feedbackBucket)
		if root == nil {
			return nil
		}
		b := root.Bucket([]byte(key))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec storage.FeedbackRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Prediction returns the stored prediction for a session.
func (s *Store) Prediction(sessionID string) (*storage.PredictionRecord, error) {
	var rec storage.PredictionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(predictionsBucket)
		if b == nil {
			return fmt.Errorf("%s: %w", sessionID, storage.ErrNotFound)
		}
		data := b.Get([]byte(sessionID))
		if data == nil {
			return fmt.Errorf("%s: %w", sessionID, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		key[i] = byte(seq)
		seq >>= 8
	}
	return key
}
