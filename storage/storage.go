// Package storage provides the persistence contract for prediction and
// feedback records. The in-memory session flow never depends on a Store
// call succeeding: callers log failures and move on.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PredictionRecord is the durable form of an engine prediction.
type PredictionRecord struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	MCC        string    `json:"mcc"`
	Confidence float64   `json:"confidence"`
	Method     string    `json:"method"`
	Sources    []string  `json:"sources,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FeedbackRecord is the durable form of a predicted-vs-actual outcome.
// Key is the primary signal key the prediction hung off (terminal key when
// present), which is what History queries are keyed by.
type FeedbackRecord struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Key          string    `json:"key"`
	PredictedMCC string    `json:"predicted_mcc"`
	ActualMCC    string    `json:"actual_mcc"`
	Confidence   float64   `json:"confidence"`
	Method       string    `json:"method"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	SavePrediction(ctx context.Context, rec *PredictionRecord) error
	SaveFeedback(ctx context.Context, rec *FeedbackRecord) error
	// History returns up to limit feedback records for the given signal
	// key, most recent first. An unknown key yields an empty slice, not
	// ErrNotFound.
	History(ctx context.Context, key string, limit int) ([]FeedbackRecord, error)
}
