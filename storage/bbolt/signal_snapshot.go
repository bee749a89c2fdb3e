package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
)

var signalBucket = []byte("signal_caches")

// SaveSignalSnapshot persists the learned records of every cache in the
// layer, one nested bucket per cache kind. Each call replaces the
// previous snapshot for that kind.
func (s *Store) SaveSignalSnapshot(ctx context.Context, layer *signal.Layer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(signalBucket)
		if err != nil {
			return err
		}
		for _, kind := range signal.Kinds {
			if err := root.DeleteBucket([]byte(kind)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			b, err := root.CreateBucket([]byte(kind))
			if err != nil {
				return err
			}
			for _, rec := range layer.ByKind(kind).Snapshot() {
				data, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				if err := b.Put([]byte(rec.Key), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadSignalSnapshot restores previously persisted cache records into
// the layer. Records past their TTL are dropped on the next lookup or
// sweep as usual. A database without a snapshot restores nothing.
func (s *Store) LoadSignalSnapshot(ctx context.Context, layer *signal.Layer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(signalBucket)
		if root == nil {
			return nil
		}
		for _, kind := range signal.Kinds {
			b := root.Bucket([]byte(kind))
			if b == nil {
				continue
			}
			var records []signal.Record
			err := b.ForEach(func(_, v []byte) error {
				var rec signal.Record
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("decoding %s cache record: %w", kind, err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
			layer.ByKind(kind).Restore(records)
		}
		return nil
	})
}
