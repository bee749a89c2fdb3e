package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
	"github.com/Payvo-ai/payvo-middleware-sub001/storage/memory"
	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

type testRig struct {
	orch      *Orchestrator
	layer     *signal.Layer
	store     *memory.Store
	collector *Collector
}

func newTestRig(t *testing.T, opts ...Option) *testRig {
	t.Helper()

	layer := signal.NewLayer()
	store := memory.NewStore()
	collector := NewCollector(
		WithLocationProvider(fakeLocation{loc: Location{Latitude: 40.7128, Longitude: -74.0060}}),
		WithTerminalProvider(fakeTerminal{term: Terminal{TerminalID: "term-42"}}),
	)
	predictor := NewPredictor(layer)
	selector := StaticSelector{Card: CardSelection{CardID: "card-1", Network: "visa", Confidence: 0.9}}
	tokens := token.NewService()

	opts = append([]Option{WithStore(store)}, opts...)
	orch := New(collector, predictor, selector, tokens, layer, opts...)
	t.Cleanup(orch.Stop)
	t.Cleanup(tokens.Stop)

	return &testRig{orch: orch, layer: layer, store: store, collector: collector}
}

func initReq() InitiateRequest {
	return InitiateRequest{
		UserID:   "u1",
		Platform: token.PlatformIOS,
		Wallet:   token.WalletApplePay,
		Amount:   12.50,
	}
}

func TestInitiateProducesCardSelectedSession(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	require.Equal(t, StateCardSelected, s.State)
	require.NotEmpty(t, s.ID)
	require.NotNil(t, s.Context)
	require.NotNil(t, s.Prediction)
	require.Equal(t, "card-1", s.Card.CardID)

	// Cold caches: prediction falls back.
	require.Equal(t, FallbackMCC, s.Prediction.MCC)
	require.Equal(t, MethodFallback, s.Prediction.Method)
}

func TestActivateProvisionsAndActivatesToken(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)

	res, err := rig.orch.Activate(context.Background(), s.ID, nil)
	require.NoError(t, err)
	require.Equal(t, StateActivated, res.Session.State)
	require.Equal(t, token.StateActivated, res.Token.State)
	require.Equal(t, res.Token.ID, res.Session.TokenID)
}

func TestActivateRealTimeContextOverridesPrediction(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	require.Equal(t, FallbackMCC, s.Prediction.MCC)

	// Teach the terminal cache, then re-present the terminal at tap time.
	rt := &PreTapContext{Terminal: &Terminal{TerminalID: "term-42"}}
	key := rt.Keys()[signal.KindTerminal]
	rig.layer.ByKind(signal.KindTerminal).Observe(key, "5411", 0.9)

	res, err := rig.orch.Activate(context.Background(), s.ID, rt)
	require.NoError(t, err)
	require.Equal(t, "5411", res.Session.Prediction.MCC)
	require.Equal(t, MethodConsensus, res.Session.Prediction.Method)
	require.Equal(t, StateActivated, res.Session.State)
}

func TestActivatePicksUpRecapturedSnapshot(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	require.Equal(t, FallbackMCC, s.Prediction.MCC)

	// Teach the terminal cache, then re-capture the snapshot the way a
	// background refresh would.
	key := signal.TerminalKey("term-42", "")
	rig.layer.ByKind(signal.KindTerminal).Observe(key, "5812", 0.9)
	time.Sleep(time.Millisecond)
	_, err = rig.collector.Collect(context.Background(), "u1", s.ID)
	require.NoError(t, err)

	res, err := rig.orch.Activate(context.Background(), s.ID, nil)
	require.NoError(t, err)
	require.Equal(t, "5812", res.Session.Prediction.MCC)
	require.Equal(t, MethodConsensus, res.Session.Prediction.Method)
}

func TestActivateUnknownSession(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.orch.Activate(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestActivateBeforeCardSelectionImpossible(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	_, err = rig.orch.Cancel(context.Background(), s.ID)
	require.NoError(t, err)

	_, err = rig.orch.Activate(context.Background(), s.ID, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteRecordsFeedbackIntoCaches(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	_, err = rig.orch.Activate(context.Background(), s.ID, nil)
	require.NoError(t, err)

	done, err := rig.orch.Complete(context.Background(), s.ID, &Feedback{ActualMCC: "5411"})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, done.State)

	// The next session at the same terminal predicts from the feedback.
	s2, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	require.Equal(t, "5411", s2.Prediction.MCC)
	require.Equal(t, MethodConsensus, s2.Prediction.Method)
}

func TestCompleteWithoutFeedback(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	_, err = rig.orch.Activate(context.Background(), s.ID, nil)
	require.NoError(t, err)

	done, err := rig.orch.Complete(context.Background(), s.ID, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, done.State)

	// Caches stay untouched.
	for _, kind := range signal.Kinds {
		require.Zero(t, rig.layer.ByKind(kind).Stats().Size)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)

	first, err := rig.orch.Cancel(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, first.State)

	second, err := rig.orch.Cancel(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, second.State)
	require.Len(t, second.Transitions, len(first.Transitions), "repeat cancel adds no transition")
}

func TestStatusReturnsSnapshot(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)

	got, err := rig.orch.Status(s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, StateCardSelected, got.State)

	_, err = rig.orch.Status("nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReapExpiresIdleSessions(t *testing.T) {
	rig := newTestRig(t, WithIdleTimeout(time.Nanosecond))

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	expired, _ := rig.orch.Reap()
	require.Equal(t, 1, expired)

	got, err := rig.orch.Status(s.ID)
	require.NoError(t, err)
	require.Equal(t, StateExpired, got.State)

	_, err = rig.orch.Activate(context.Background(), s.ID, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReapEvictsTerminalSessions(t *testing.T) {
	rig := newTestRig(t, WithTerminalGrace(time.Nanosecond))

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	_, err = rig.orch.Cancel(context.Background(), s.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, evicted := rig.orch.Reap()
	require.Equal(t, 1, evicted)

	_, err = rig.orch.Status(s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentCompleteSingleWinner(t *testing.T) {
	rig := newTestRig(t)

	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	_, err = rig.orch.Activate(context.Background(), s.ID, nil)
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rig.orch.Complete(context.Background(), s.ID, nil)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			require.True(t, errors.Is(err, ErrInvalidTransition))
		}
	}
	require.Equal(t, 1, ok, "exactly one completion must win")
}

func TestSessionStats(t *testing.T) {
	rig := newTestRig(t)

	for i := 0; i < 3; i++ {
		_, err := rig.orch.Initiate(context.Background(), initReq())
		require.NoError(t, err)
	}
	s, err := rig.orch.Initiate(context.Background(), initReq())
	require.NoError(t, err)
	_, err = rig.orch.Cancel(context.Background(), s.ID)
	require.NoError(t, err)

	stats := rig.orch.SessionStats()
	require.Equal(t, 3, stats[StateCardSelected])
	require.Equal(t, 1, stats[StateCancelled])
}
