// Package memory provides a thread-safe in-memory implementation of
// storage.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sync"

	"github.com/Payvo-ai/payvo-middleware-sub001/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// Records are lost on restart.
type Store struct {
	mu          sync.RWMutex
	predictions map[string]*storage.PredictionRecord
	feedback    map[string][]storage.FeedbackRecord
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory Store.
func NewStore() *Store {
	return &Store{
		predictions: make(map[string]*storage.PredictionRecord),
		feedback:    make(map[string][]storage.FeedbackRecord),
	}
}

func (s *Store) SavePrediction(ctx context.Context, rec *storage.PredictionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *rec
	s.mu.Lock()
	s.predictions[rec.SessionID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *Store) SaveFeedback(ctx context.Context, rec *storage.FeedbackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.feedback[rec.Key] = append(s.feedback[rec.Key], *rec)
	s.mu.Unlock()
	return nil
}

func (s *Store) History(ctx context.Context, key string, limit int) ([]storage.FeedbackRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	recs := s.feedback[key]
	out := make([]storage.FeedbackRecord, 0, limit)
	// Most recent first: records are appended in arrival order.
	for i := len(recs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

// Prediction returns the stored prediction for a session, for tests.
func (s *Store) Prediction(sessionID string) (*storage.PredictionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.predictions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}
