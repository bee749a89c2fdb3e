// Package postgres implements storage.Store backed by PostgreSQL.
//
// Record fields are stored as individual columns; feedback rows carry an
// index on (key, created_at DESC) so History is a single index scan.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Payvo-ai/payvo-middleware-sub001/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SavePrediction(ctx context.Context, rec *storage.PredictionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO predictions (session_id, user_id, mcc, confidence, method, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			mcc = EXCLUDED.mcc,
			confidence = EXCLUDED.confidence,
			method = EXCLUDED.method,
			sources = EXCLUDED.sources,
			created_at = EXCLUDED.created_at`,
		rec.SessionID, rec.UserID, rec.MCC, rec.Confidence, rec.Method, rec.Sources, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving prediction: %w", err)
	}
	return nil
}

func (s *Store) SaveFeedback(ctx context.Context, rec *storage.FeedbackRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback (session_id, user_id, key, predicted_mcc, actual_mcc, confidence, method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.SessionID, rec.UserID, rec.Key, rec.PredictedMCC, rec.ActualMCC,
		rec.Confidence, rec.Method, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, key string, limit int) ([]storage.FeedbackRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, user_id, key, predicted_mcc, actual_mcc, confidence, method, created_at
		FROM feedback
		WHERE key = $1
		ORDER BY created_at DESC
		LIMIT $2`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []storage.FeedbackRecord
	for rows.Next() {
		var rec storage.FeedbackRecord
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &rec.Key, &rec.PredictedMCC,
			&rec.ActualMCC, &rec.Confidence, &rec.Method, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prediction returns the stored prediction for a session.
func (s *Store) Prediction(ctx context.Context, sessionID string) (*storage.PredictionRecord, error) {
	var rec storage.PredictionRecord
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, mcc, confidence, method, sources, created_at
		FROM predictions
		WHERE session_id = $1`, sessionID).
		Scan(&rec.SessionID, &rec.UserID, &rec.MCC, &rec.Confidence, &rec.Method, &rec.Sources, &rec.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", sessionID, storage.ErrNotFound)
		}
		return nil, err
	}
	return &rec, nil
}
