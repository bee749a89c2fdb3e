package routing

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
	"github.com/Payvo-ai/payvo-middleware-sub001/storage"
)

// FallbackMCC is the generic-retail category returned when no signal
// source yields a usable prediction.
const FallbackMCC = "5999"

// Detection method tags recorded on predictions.
const (
	MethodConsensus = "weighted_consensus"
	MethodFallback  = "fallback"
)

// Prediction source tags, beyond the four cache kinds.
const (
	SourceHistory    = "history"
	SourceEnrichment = "enrichment"
)

// ConfidenceBucket is the informational grouping of a numeric confidence.
// It never changes the numeric value used internally.
type ConfidenceBucket string

const (
	BucketHigh   ConfidenceBucket = "HIGH"
	BucketMedium ConfidenceBucket = "MEDIUM"
	BucketLow    ConfidenceBucket = "LOW"
)

// BucketFor returns the bucket for a confidence value.
func BucketFor(confidence float64) ConfidenceBucket {
	switch {
	case confidence >= 0.8:
		return BucketHigh
	case confidence >= 0.5:
		return BucketMedium
	default:
		return BucketLow
	}
}

// SignalPrediction is one source's vote for an MCC.
type SignalPrediction struct {
	Source     string  `json:"source"`
	MCC        string  `json:"mcc"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// Prediction is the engine's consensus output for a session.
type Prediction struct {
	MCC            string                 `json:"mcc"`
	Confidence     float64                `json:"confidence"`
	Bucket         ConfidenceBucket       `json:"bucket"`
	Method         string                 `json:"method"`
	ConsensusCount int                    `json:"consensus_count"`
	Sources        []SignalPrediction     `json:"sources,omitempty"`
	Keys           map[signal.Kind]string `json:"-"`
	PredictedAt    time.Time              `json:"predicted_at"`
}

// Enricher is the external model-inference collaborator. It is one more
// weighted input, never the decision authority.
type Enricher interface {
	Infer(ctx context.Context, snapshot *PreTapContext) (mcc string, confidence float64, err error)
}

// Weights is the fixed per-source weight table. Values are design
// defaults summing to roughly 1; the enrichment weight rides on top and
// the final confidence is clamped.
type Weights struct {
	Location   float64
	History    float64
	Terminal   float64
	Wifi       float64
	BLE        float64
	Enrichment float64
}

// DefaultWeights are the shipped weight table.
func DefaultWeights() Weights {
	return Weights{
		Location:   0.35,
		History:    0.25,
		Terminal:   0.20,
		Wifi:       0.10,
		BLE:        0.10,
		Enrichment: 0.30,
	}
}

func (w Weights) forKind(kind signal.Kind) float64 {
	switch kind {
	case signal.KindTerminal:
		return w.Terminal
	case signal.KindLocation:
		return w.Location
	case signal.KindWifi:
		return w.Wifi
	case signal.KindBLE:
		return w.BLE
	}
	return 0
}

// Predictor fuses cache lookups, transaction history, and optional
// enrichment into a single consensus MCC.
type Predictor struct {
	caches        *signal.Layer
	enricher      Enricher
	store         storage.Store
	weights       Weights
	fallback      string
	enrichTimeout time.Duration
	historyLimit  int
	logger        *slog.Logger
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithEnricher sets the external enrichment collaborator.
func WithEnricher(e Enricher) PredictorOption {
	return func(p *Predictor) { p.enricher = e }
}

// WithHistoryStore sets the store consulted for the history vote.
func WithHistoryStore(s storage.Store) PredictorOption {
	return func(p *Predictor) { p.store = s }
}

// WithWeights overrides the per-source weight table.
func WithWeights(w Weights) PredictorOption {
	return func(p *Predictor) { p.weights = w }
}

// WithFallbackMCC overrides the fallback category.
func WithFallbackMCC(mcc string) PredictorOption {
	return func(p *Predictor) { p.fallback = mcc }
}

// WithEnrichTimeout bounds the enrichment call.
func WithEnrichTimeout(d time.Duration) PredictorOption {
	return func(p *Predictor) { p.enrichTimeout = d }
}

// WithPredictorLogger sets the structured logger.
func WithPredictorLogger(logger *slog.Logger) PredictorOption {
	return func(p *Predictor) { p.logger = logger }
}

// NewPredictor creates a Predictor over the given cache layer.
func NewPredictor(caches *signal.Layer, opts ...PredictorOption) *Predictor {
	p := &Predictor{
		caches:        caches,
		weights:       DefaultWeights(),
		fallback:      FallbackMCC,
		enrichTimeout: 1500 * time.Millisecond,
		historyLimit:  10,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict produces the consensus prediction for a snapshot. It never
// fails: with no usable source it returns the fallback MCC at zero
// confidence.
func (p *Predictor) Predict(ctx context.Context, snapshot *PreTapContext) *Prediction {
	keys := snapshot.Keys()
	votes := p.gatherVotes(ctx, snapshot, keys)

	pred := &Prediction{
		Keys:        keys,
		Sources:     votes,
		PredictedAt: time.Now(),
	}

	if len(votes) == 0 {
		pred.MCC = p.fallback
		pred.Confidence = 0
		pred.Method = MethodFallback
		pred.Bucket = BucketFor(0)
		return pred
	}

	type tally struct {
		score float64
		count int
	}
	tallies := make(map[string]*tally)
	for _, v := range votes {
		t, ok := tallies[v.MCC]
		if !ok {
			t = &tally{}
			tallies[v.MCC] = t
		}
		t.score += v.Weight * v.Confidence
		t.count++
	}

	// Deterministic winner: highest weighted score, then higher
	// consensus count, then lexicographically smaller MCC.
	mccs := make([]string, 0, len(tallies))
	for mcc := range tallies {
		mccs = append(mccs, mcc)
	}
	sort.Strings(mccs)

	winner := mccs[0]
	for _, mcc := range mccs[1:] {
		t, best := tallies[mcc], tallies[winner]
		if t.score > best.score || (t.score == best.score && t.count > best.count) {
			winner = mcc
		}
	}

	pred.MCC = winner
	pred.Confidence = clamp01(tallies[winner].score)
	pred.Method = MethodConsensus
	pred.ConsensusCount = tallies[winner].count
	pred.Bucket = BucketFor(pred.Confidence)
	return pred
}

func (p *Predictor) gatherVotes(ctx context.Context, snapshot *PreTapContext, keys map[signal.Kind]string) []SignalPrediction {
	var votes []SignalPrediction

	for _, kind := range signal.Kinds {
		key, ok := keys[kind]
		if !ok {
			continue
		}
		cache := p.caches.ByKind(kind)
		rec, ok := cache.Lookup(key)
		if !ok || rec.Confidence < cache.Config().MinConfidence {
			continue
		}
		votes = append(votes, SignalPrediction{
			Source:     string(kind),
			MCC:        rec.MCC,
			Confidence: rec.Confidence,
			Weight:     p.weights.forKind(kind),
		})
	}

	if v, ok := p.historyVote(ctx, keys); ok {
		votes = append(votes, v)
	}
	if v, ok := p.enrichmentVote(ctx, snapshot); ok {
		votes = append(votes, v)
	}
	return votes
}

// historyVote derives a vote from recent ground-truth feedback for the
// terminal key: the majority actual MCC at a confidence equal to its
// share of the sample. Store failures degrade silently.
func (p *Predictor) historyVote(ctx context.Context, keys map[signal.Kind]string) (SignalPrediction, bool) {
	if p.store == nil {
		return SignalPrediction{}, false
	}
	key, ok := keys[signal.KindTerminal]
	if !ok {
		return SignalPrediction{}, false
	}
	key = string(signal.KindTerminal) + ":" + key

	recs, err := p.store.History(ctx, key, p.historyLimit)
	if err != nil {
		p.logger.Debug("history lookup failed", "key", key, "error", err)
		return SignalPrediction{}, false
	}
	if len(recs) == 0 {
		return SignalPrediction{}, false
	}

	counts := make(map[string]int)
	for _, rec := range recs {
		counts[rec.ActualMCC]++
	}
	best, bestCount := "", 0
	for mcc, n := range counts {
		if n > bestCount || (n == bestCount && mcc < best) {
			best, bestCount = mcc, n
		}
	}
	return SignalPrediction{
		Source:     SourceHistory,
		MCC:        best,
		Confidence: float64(bestCount) / float64(len(recs)),
		Weight:     p.weights.History,
	}, true
}

// enrichmentVote queries the external model provider under a bounded
// timeout. Failure or timeout is dropped without retry.
func (p *Predictor) enrichmentVote(ctx context.Context, snapshot *PreTapContext) (SignalPrediction, bool) {
	if p.enricher == nil || snapshot.Location == nil {
		return SignalPrediction{}, false
	}

	ectx, cancel := context.WithTimeout(ctx, p.enrichTimeout)
	defer cancel()

	mcc, confidence, err := p.enricher.Infer(ectx, snapshot)
	if err != nil {
		p.logger.Debug("enrichment unavailable",
			"session_id", snapshot.SessionID, "error", err)
		return SignalPrediction{}, false
	}
	return SignalPrediction{
		Source:     SourceEnrichment,
		MCC:        mcc,
		Confidence: clamp01(confidence),
		Weight:     p.weights.Enrichment,
	}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
