package routing

import (
	"context"
	"time"

	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
	"github.com/Payvo-ai/payvo-middleware-sub001/storage"
)

// feedbackConfidence is the per-observation sample confidence attached
// to a confirmed transaction outcome. High but below 1.0 so the running
// mean converges toward certainty without ever reaching it.
const feedbackConfidence = 0.95

// recordFeedback reconciles the transaction outcome against every
// signal key that contributed to the session's context. Matching keys
// reinforce, conflicting keys decay, per the cache learning rules.
// Store persistence is best-effort and off the caller's path.
func (o *Orchestrator) recordFeedback(s *Session, fb *Feedback) {
	keys := map[signal.Kind]string{}
	if s.Context != nil {
		keys = s.Context.Keys()
	}
	now := time.Now()

	for kind, key := range keys {
		c := o.caches.ByKind(kind)
		if c == nil {
			continue
		}
		c.Observe(key, fb.ActualMCC, feedbackConfidence)
	}

	predictedMCC, confidence, method := FallbackMCC, 0.0, MethodFallback
	if s.Prediction != nil {
		predictedMCC = s.Prediction.MCC
		confidence = s.Prediction.Confidence
		method = s.Prediction.Method
	}
	o.logger.Info("feedback recorded",
		"session_id", s.ID,
		"predicted_mcc", predictedMCC,
		"actual_mcc", fb.ActualMCC,
		"match", predictedMCC == fb.ActualMCC,
		"keys", len(keys))

	if o.store == nil {
		return
	}
	for kind, key := range keys {
		rec := &storage.FeedbackRecord{
			SessionID:    s.ID,
			UserID:       s.UserID,
			Key:          string(kind) + ":" + key,
			PredictedMCC: predictedMCC,
			ActualMCC:    fb.ActualMCC,
			Confidence:   confidence,
			Method:       method,
			CreatedAt:    now,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.collabTimeout)
			defer cancel()
			if err := o.store.SaveFeedback(ctx, rec); err != nil {
				o.logger.Warn("feedback save failed",
					"session_id", rec.SessionID, "error", err)
			}
		}()
	}
}
