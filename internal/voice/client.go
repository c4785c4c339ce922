// Package voice drives a single phone call's AI conversation against the
// external voice provider, from session creation to teardown.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"eldervoice/internal/config"
	"eldervoice/internal/logger"
	"eldervoice/internal/metrics"
	"eldervoice/internal/prompt"

	"github.com/sirupsen/logrus"
)

const (
	conversationsPath = "/v1/convai/conversations"
	accountPath       = "/v1/user"

	// conversationEnded is reported by the provider when it unilaterally
	// closed the session (max duration or inactivity timeout). An expected
	// termination, not an error.
	conversationEnded = "ended"
)

// Client talks to the voice AI provider over its REST session-control API.
// The credential is process-wide, read-only configuration.
type Client struct {
	baseURL string
	apiKey  string
	agentID string

	turnParams turnParams
	httpClient *http.Client
	log        *logger.Logger
}

type turnParams struct {
	VADThreshold      float64 `json:"vad_threshold"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	MaxDurationSecs   int     `json:"max_duration_seconds"`
	InactivitySecs    int     `json:"inactivity_timeout_seconds"`
}

type createSessionRequest struct {
	AgentID      string     `json:"agent_id"`
	VoiceID      string     `json:"voice_id"`
	FirstMessage string     `json:"first_message"`
	SystemPrompt string     `json:"system_prompt"`
	TurnParams   turnParams `json:"turn_params"`
}

type createSessionResponse struct {
	ConversationID string `json:"conversation_id"`
}

type turnRequest struct {
	Text string `json:"text"`
}

// TurnResult is the agent's reply to one user turn. AudioRef points at the
// synthesized audio on the telephony leg when the provider produced one.
type TurnResult struct {
	AgentText string `json:"agent_text"`
	AudioRef  string `json:"audio_ref,omitempty"`
	Status    string `json:"conversation_status,omitempty"`
}

// Ended reports whether the provider closed the conversation with this turn.
func (r *TurnResult) Ended() bool {
	return r.Status == conversationEnded
}

// HealthStatus is the result of a provider reachability probe.
type HealthStatus struct {
	Reachable          bool  `json:"reachable"`
	RoundTripLatencyMs int64 `json:"round_trip_latency_ms"`
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		baseURL: cfg.ProviderBaseURL,
		apiKey:  cfg.ProviderAPIKey,
		agentID: cfg.AgentID,
		turnParams: turnParams{
			VADThreshold:      cfg.VADThreshold,
			SilenceDurationMs: cfg.SilenceDurationMs,
			MaxDurationSecs:   cfg.MaxCallDurationSeconds,
			InactivitySecs:    cfg.InactivityTimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// StartSession opens a conversation session carrying the prompt package and
// the fixed turn-taking parameters. On any failure the session remains
// unopened: no provider-side resource exists until a success response is
// received, so a failed start is always safe to retry as a whole new call
// attempt.
func (c *Client) StartSession(ctx context.Context, pkg *prompt.PromptPackage) (*Session, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{
			Kind: KindUnauthenticated,
			Op:   "create session",
			Err:  fmt.Errorf("no provider API key configured"),
		}
	}

	req := createSessionRequest{
		AgentID:      c.agentID,
		VoiceID:      pkg.VoiceID,
		FirstMessage: pkg.OpeningLine,
		SystemPrompt: pkg.SystemPrompt,
		TurnParams:   c.turnParams,
	}

	var resp createSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, conversationsPath, "create session", req, &resp); err != nil {
		return nil, err
	}

	sess := newSession(resp.ConversationID, c.agentID)
	metrics.ActiveSessions.Inc()

	c.log.Info("Conversation session started", logrus.Fields{
		"session_id": sess.ID,
		"agent_id":   sess.AgentID,
		"voice_id":   pkg.VoiceID,
	})
	return sess, nil
}

// SendUserTurn forwards one user utterance and returns the agent's reply.
// Turns on the same session are serialized; a turn on an ended or failed
// session returns ErrSessionNotActive. When the provider reports that it
// closed the conversation (timeout, inactivity) the session transitions to
// Ended, not Failed.
func (c *Client) SendUserTurn(ctx context.Context, s *Session, text string) (*TurnResult, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if s.State() != StateActive {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, s.ID, s.State())
	}

	path := fmt.Sprintf("%s/%s/turn", conversationsPath, s.ID)

	var result TurnResult
	if err := c.doJSON(ctx, http.MethodPost, path, "user turn", turnRequest{Text: text}, &result); err != nil {
		if s.transition(StateFailed) {
			metrics.ActiveSessions.Dec()
		}
		return nil, err
	}

	if result.Ended() {
		if s.transition(StateEnded) {
			metrics.ActiveSessions.Dec()
		}
	}
	return &result, nil
}

// EndSession releases the provider-side conversation. Ending an already
// ended session is a no-op.
func (c *Client) EndSession(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}

	if s.State() == StateEnded {
		return nil
	}

	path := fmt.Sprintf("%s/%s", conversationsPath, s.ID)
	err := c.doJSON(ctx, http.MethodDelete, path, "end session", nil, nil)

	// The local session ends regardless: a provider-side delete failure must
	// not leave the call task holding an Active session. The transition is
	// atomic, so a session that meanwhile ended or failed through a turn is
	// left alone and the gauge is decremented exactly once per session.
	if s.transition(StateEnded) {
		metrics.ActiveSessions.Dec()
	}

	if err != nil {
		return fmt.Errorf("end session %s: %w", s.ID, err)
	}

	c.log.Info("Conversation session ended", logrus.Fields{"session_id": s.ID})
	return nil
}

// CheckHealth probes the provider account endpoint for reachability and
// latency. It is read-only, side-effect free, and never returns an error:
// failures are reported in the result since this is a diagnostic path.
func (c *Client) CheckHealth(ctx context.Context) HealthStatus {
	if c.apiKey == "" {
		metrics.ProviderReachable.Set(0)
		return HealthStatus{Reachable: false}
	}

	start := time.Now()
	err := c.doJSON(ctx, http.MethodGet, accountPath, "health probe", nil, nil)
	latency := time.Since(start).Milliseconds()

	status := HealthStatus{
		Reachable:          err == nil,
		RoundTripLatencyMs: latency,
	}

	if status.Reachable {
		metrics.ProviderReachable.Set(1)
	} else {
		metrics.ProviderReachable.Set(0)
		c.log.Warn("Provider health probe failed", logrus.Fields{"error": fmt.Sprint(err)})
	}
	return status
}

// doJSON performs one provider request and decodes the JSON response into
// out when non-nil. All failures come back as *ProviderError.
func (c *Client) doJSON(ctx context.Context, method, path, op string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Kind: KindRejected, Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &ProviderError{Kind: KindRejected, Op: op, Err: err}
	}
	req.Header.Set("xi-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return &ProviderError{Kind: KindUnavailable, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &ProviderError{
			Kind:       KindUnavailable,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", readErrorBody(resp.Body)),
		}
	}
	if resp.StatusCode >= 400 {
		kind := KindRejected
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindUnauthenticated
		}
		return &ProviderError{
			Kind:       kind,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", readErrorBody(resp.Body)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Kind: KindUnavailable, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	snippet, _ := io.ReadAll(io.LimitReader(r, 256))
	if len(snippet) == 0 {
		return "no response body"
	}
	return string(snippet)
}
