package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"eldervoice/internal/logger"
	"eldervoice/internal/metrics"
	"eldervoice/internal/prompt"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return &Client{
		baseURL: baseURL,
		apiKey:  "test-key",
		agentID: "agent-1",
		turnParams: turnParams{
			VADThreshold:      0.5,
			SilenceDurationMs: 800,
			MaxDurationSecs:   600,
			InactivitySecs:    60,
		},
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        logger.NewLogger("error", false),
	}
}

func testPromptPackage() *prompt.PromptPackage {
	return &prompt.PromptPackage{
		OpeningLine:  "Hello Mary! It's your companion calling for our regular check-in.",
		SystemPrompt: "You are a warm, patient phone companion for Mary.",
		VoiceID:      prompt.DefaultVoiceID,
	}
}

// failingTransport fails the test if any network call is attempted.
type failingTransport struct {
	t *testing.T
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.t.Error("network call attempted without a configured credential")
	return nil, fmt.Errorf("unexpected network call")
}

func TestStartSessionNoCredentialSkipsNetwork(t *testing.T) {
	c := testClient(t, "http://provider.invalid")
	c.apiKey = ""
	c.httpClient = &http.Client{Transport: &failingTransport{t: t}}

	_, err := c.StartSession(context.Background(), testPromptPackage())
	require.Error(t, err)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
}

func TestStartSessionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, conversationsPath, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))

		var req createSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent-1", req.AgentID)
		assert.Equal(t, prompt.DefaultVoiceID, req.VoiceID)
		assert.NotEmpty(t, req.FirstMessage)
		assert.NotEmpty(t, req.SystemPrompt)
		assert.Equal(t, 600, req.TurnParams.MaxDurationSecs)

		json.NewEncoder(w).Encode(createSessionResponse{ConversationID: "conv-42"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sess, err := c.StartSession(context.Background(), testPromptPackage())
	require.NoError(t, err)

	assert.Equal(t, "conv-42", sess.ID)
	assert.Equal(t, "agent-1", sess.AgentID)
	assert.Equal(t, StateActive, sess.State())
}

func TestStartSessionProviderErrors(t *testing.T) {
	tests := map[string]struct {
		status   int
		wantKind ErrorKind
	}{
		"ServerError":  {status: http.StatusInternalServerError, wantKind: KindUnavailable},
		"BadGateway":   {status: http.StatusBadGateway, wantKind: KindUnavailable},
		"BadRequest":   {status: http.StatusBadRequest, wantKind: KindRejected},
		"Unauthorized": {status: http.StatusUnauthorized, wantKind: KindUnauthenticated},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "provider says no", tc.status)
			}))
			defer srv.Close()

			c := testClient(t, srv.URL)
			sess, err := c.StartSession(context.Background(), testPromptPackage())
			require.Error(t, err)
			assert.Nil(t, sess, "no partial session may leak on failure")
			assert.Equal(t, tc.wantKind, KindOf(err))
		})
	}
}

func TestStartSessionTransportFailure(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.StartSession(context.Background(), testPromptPackage())
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestSendUserTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, conversationsPath+"/conv-1/turn", r.URL.Path)

		var req turnRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(TurnResult{
			AgentText: "Echo: " + req.Text,
			Status:    "active",
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sess := newSession("conv-1", "agent-1")

	res, err := c.SendUserTurn(context.Background(), sess, "I had a lovely walk today")
	require.NoError(t, err)
	assert.Equal(t, "Echo: I had a lovely walk today", res.AgentText)
	assert.False(t, res.Ended())
	assert.Equal(t, StateActive, sess.State())
}

func TestSendUserTurnOnEndedSession(t *testing.T) {
	c := testClient(t, "http://provider.invalid")
	c.httpClient = &http.Client{Transport: &failingTransport{t: t}}

	sess := newSession("conv-1", "agent-1")
	sess.transition(StateEnded)

	_, err := c.SendUserTurn(context.Background(), sess, "hello?")
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestSendUserTurnProviderTimeoutEndsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TurnResult{
			AgentText: "Goodbye for now!",
			Status:    conversationEnded,
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sess := newSession("conv-1", "agent-1")

	res, err := c.SendUserTurn(context.Background(), sess, "are you still there?")
	require.NoError(t, err)
	assert.True(t, res.Ended())

	// Provider-initiated termination is an expected end, not a failure.
	assert.Equal(t, StateEnded, sess.State())

	select {
	case <-sess.Done():
	default:
		t.Fatal("done channel not closed after provider-initiated end")
	}
}

func TestSendUserTurnServerErrorFailsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sess := newSession("conv-1", "agent-1")

	_, err := c.SendUserTurn(context.Background(), sess, "hello")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, StateFailed, sess.State())
}

// Two overlapping turns on one session must be applied in submission order,
// never interleaved.
func TestSendUserTurnSerialized(t *testing.T) {
	var mu sync.Mutex
	var inFlight int
	var maxInFlight int
	var order []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req turnRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		order = append(order, req.Text)
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		json.NewEncoder(w).Encode(TurnResult{AgentText: "ok", Status: "active"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sess := newSession("conv-1", "agent-1")

	first := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		close(first)
		_, err := c.SendUserTurn(context.Background(), sess, "turn-1")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		<-first
		time.Sleep(10 * time.Millisecond) // let turn-1 grab the session first
		_, err := c.SendUserTurn(context.Background(), sess, "turn-2")
		assert.NoError(t, err)
	}()

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "turns must never overlap on one session")
	assert.Equal(t, []string{"turn-1", "turn-2"}, order)
}

func TestEndSessionIdempotent(t *testing.T) {
	var deletes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deletes++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sess := newSession("conv-1", "agent-1")

	require.NoError(t, c.EndSession(context.Background(), sess))
	assert.Equal(t, StateEnded, sess.State())

	// Second end is a no-op, not an error, and hits no network.
	require.NoError(t, c.EndSession(context.Background(), sess))
	assert.Equal(t, StateEnded, sess.State())
	assert.Equal(t, 1, deletes)

	require.NoError(t, c.EndSession(context.Background(), nil))
}

// A turn that ends the session while EndSession's DELETE is still in flight
// must decrement the active-sessions gauge exactly once, not twice.
func TestEndSessionConcurrentProviderEndDecrementsOnce(t *testing.T) {
	deleteStarted := make(chan struct{})
	deleteRelease := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			close(deleteStarted)
			<-deleteRelease
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			json.NewEncoder(w).Encode(TurnResult{
				AgentText: "Time for me to go, talk soon!",
				Status:    conversationEnded,
			})
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sess := newSession("conv-1", "agent-1")
	metrics.ActiveSessions.Inc()
	before := testutil.ToFloat64(metrics.ActiveSessions)

	endDone := make(chan error, 1)
	go func() {
		endDone <- c.EndSession(context.Background(), sess)
	}()
	<-deleteStarted

	// Provider closes the conversation through the turn while the delete is
	// still pending.
	res, err := c.SendUserTurn(context.Background(), sess, "are you there?")
	require.NoError(t, err)
	require.True(t, res.Ended())
	assert.Equal(t, StateEnded, sess.State())

	close(deleteRelease)
	require.NoError(t, <-endDone)

	assert.Equal(t, before-1, testutil.ToFloat64(metrics.ActiveSessions),
		"one session ending once must decrement the gauge exactly once")
}

func TestEndSessionProviderFailureStillEndsLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flaky", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sess := newSession("conv-1", "agent-1")

	err := c.EndSession(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, StateEnded, sess.State(), "a delete failure must not leave the session active")
}

func TestCheckHealth(t *testing.T) {
	t.Run("Reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, accountPath, r.URL.Path)
			w.Write([]byte(`{"subscription":"active"}`))
		}))
		defer srv.Close()

		c := testClient(t, srv.URL)
		status := c.CheckHealth(context.Background())
		assert.True(t, status.Reachable)
		assert.GreaterOrEqual(t, status.RoundTripLatencyMs, int64(0))
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := testClient(t, srv.URL)
		status := c.CheckHealth(context.Background())
		assert.False(t, status.Reachable)
	})

	t.Run("Unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c := testClient(t, srv.URL)
		status := c.CheckHealth(context.Background())
		assert.False(t, status.Reachable)
	})

	t.Run("NoCredential", func(t *testing.T) {
		c := testClient(t, "http://provider.invalid")
		c.apiKey = ""
		c.httpClient = &http.Client{Transport: &failingTransport{t: t}}

		status := c.CheckHealth(context.Background())
		assert.False(t, status.Reachable)
	})
}
