package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/Payvo-ai/payvo-middleware-sub001/api"
	"github.com/Payvo-ai/payvo-middleware-sub001/routing"
	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
	"github.com/Payvo-ai/payvo-middleware-sub001/storage/memory"
	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

const testBearer = "test-token"

func setupServer(t *testing.T) (*httptest.Server, *signal.Layer) {
	t.Helper()

	caches := signal.NewLayer()
	store := memory.NewStore()
	collector := routing.NewCollector()
	predictor := routing.NewPredictor(caches, routing.WithHistoryStore(store))
	selector := routing.StaticSelector{
		Card: routing.CardSelection{CardID: "card-1", Network: "visa", Confidence: 0.9},
	}
	tokens := token.NewService()
	t.Cleanup(tokens.Stop)

	orch := routing.New(collector, predictor, selector, tokens, caches,
		routing.WithStore(store))
	t.Cleanup(orch.Stop)

	a := api.New(orch, caches, tokens,
		api.WithAuth(api.StaticTokenAuth{testBearer: "user-1"}))
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, caches
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testBearer)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) api.SessionResponse {
	t.Helper()
	defer resp.Body.Close()
	var s api.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return s
}

func initiateSession(t *testing.T, baseURL string) api.SessionResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/api/v1/sessions", api.InitiateSessionRequest{
		Platform: token.PlatformIOS,
		Wallet:   token.WalletApplePay,
		Context: &api.ContextPayload{
			Terminal: &api.TerminalPayload{TerminalID: "term-42"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeSession(t, resp)
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := setupServer(t)

	s := initiateSession(t, srv.URL)
	require.NotEmpty(t, s.ID)
	require.Equal(t, routing.StateCardSelected, s.State)
	require.NotNil(t, s.Prediction)
	require.Equal(t, "card-1", s.Card.CardID)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+s.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var act api.ActivateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&act))
	resp.Body.Close()
	require.Equal(t, routing.StateActivated, act.Session.State)
	require.Equal(t, token.StateActivated, act.Token.State)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+s.ID+"/complete",
		api.CompleteSessionRequest{ActualMCC: "5411"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decodeSession(t, resp)
	require.Equal(t, routing.StateCompleted, done.State)
}

func TestFeedbackImprovesNextPrediction(t *testing.T) {
	srv, _ := setupServer(t)

	s := initiateSession(t, srv.URL)
	require.Equal(t, routing.FallbackMCC, s.Prediction.MCC)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+s.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+s.ID+"/complete",
		api.CompleteSessionRequest{ActualMCC: "5411"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	next := initiateSession(t, srv.URL)
	require.Equal(t, "5411", next.Prediction.MCC)
}

func TestActivateWithRealTimeContext(t *testing.T) {
	srv, caches := setupServer(t)

	s := initiateSession(t, srv.URL)

	rt := &routing.PreTapContext{Terminal: &routing.Terminal{TerminalID: "term-99"}}
	key := rt.Keys()[signal.KindTerminal]
	caches.ByKind(signal.KindTerminal).Observe(key, "5812", 0.9)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+s.ID+"/activate",
		api.ActivateSessionRequest{Context: &api.ContextPayload{
			Terminal: &api.TerminalPayload{TerminalID: "term-99"},
		}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var act api.ActivateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&act))
	resp.Body.Close()
	require.Equal(t, "5812", act.Session.Prediction.MCC)
}

func TestCancelSession(t *testing.T) {
	srv, _ := setupServer(t)

	s := initiateSession(t, srv.URL)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+s.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeSession(t, resp)
	require.Equal(t, routing.StateCancelled, got.State)

	// Activation after cancel conflicts.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+s.ID+"/activate", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestSessionStatusAndNotFound(t *testing.T) {
	srv, _ := setupServer(t)

	s := initiateSession(t, srv.URL)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+s.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeSession(t, resp)
	require.Equal(t, s.ID, got.ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestInitiateValidation(t *testing.T) {
	srv, _ := setupServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions",
		api.InitiateSessionRequest{Platform: token.PlatformIOS})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestInitiateRateLimited(t *testing.T) {
	srv, _ := setupServer(t)

	body := api.InitiateSessionRequest{
		Platform: token.PlatformIOS,
		Wallet:   token.WalletApplePay,
	}
	for i := 0; i < 30; i++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode, "initiation %d", i+1)
		resp.Body.Close()
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestAuthRequired(t *testing.T) {
	srv, _ := setupServer(t)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		srv.URL+"/api/v1/sessions/whatever", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestMetricsAndHealth(t *testing.T) {
	srv, _ := setupServer(t)

	initiateSession(t, srv.URL)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/api/v1/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var m api.MetricsResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&m))
	require.Equal(t, 1, m.Sessions[routing.StateCardSelected])
}
