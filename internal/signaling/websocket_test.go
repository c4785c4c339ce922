package signaling_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eldervoice/internal/logger"
	"eldervoice/internal/orchestrator"
	"eldervoice/internal/prompt"
	"eldervoice/internal/signaling"
	"eldervoice/internal/voice"
	"eldervoice/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecipients struct{}

func (fakeRecipients) GetCareRecipient(id int64) (*models.CareRecipient, error) {
	if id == 1 || id == 2 {
		return &models.CareRecipient{ID: id, Name: "Mary", Active: true}, nil
	}
	return nil, fmt.Errorf("care recipient %d not found", id)
}

// fakeDriver opens sessions that stay alive until torn down.
type fakeDriver struct {
	started int
}

func (f *fakeDriver) StartSession(ctx context.Context, pkg *prompt.PromptPackage) (*voice.Session, error) {
	f.started++
	return voice.NewTestSession(fmt.Sprintf("conv-%d", f.started), "agent-1"), nil
}

func (f *fakeDriver) EndSession(ctx context.Context, s *voice.Session) error {
	s.MarkEnded()
	return nil
}

type fakeTurnSender struct{}

func (fakeTurnSender) SendUserTurn(ctx context.Context, s *voice.Session, text string) (*voice.TurnResult, error) {
	return &voice.TurnResult{AgentText: "Echo: " + text}, nil
}

func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()

	log := logger.NewLogger("error", false)
	orch := orchestrator.New(&fakeDriver{}, 5*time.Second, log)
	server := signaling.NewServer(fakeRecipients{}, orch, fakeTurnSender{}, log)

	srv := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) signaling.ControlMessage {
	t.Helper()
	var msg signaling.ControlMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// A device must not switch identity while its call is running: the call
// goroutine reads the registration, so a mid-call register is rejected.
func TestRegisterRejectedDuringCall(t *testing.T) {
	conn := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "register", RecipientID: 1}))
	msg := readMessage(t, conn)
	assert.Equal(t, "registered", msg.Type)
	assert.Equal(t, int64(1), msg.RecipientID)

	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "start_call"}))
	assert.Equal(t, "call_started", readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "register", RecipientID: 2}))
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "cannot re-register during a call", msg.Message)

	// Hangup ends the call; the original registration drove it to completion.
	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "hangup"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "call_ended", msg.Type)
	require.NotNil(t, msg.Outcome)
	assert.True(t, msg.Outcome.Connected)

	// Between calls, re-registration is allowed again.
	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "register", RecipientID: 2}))
	msg = readMessage(t, conn)
	assert.Equal(t, "registered", msg.Type)
	assert.Equal(t, int64(2), msg.RecipientID)
}

func TestStartCallRequiresRegistration(t *testing.T) {
	conn := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "start_call"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "register first", msg.Message)
}

func TestUserTurnRelayedDuringCall(t *testing.T) {
	conn := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "register", RecipientID: 1}))
	readMessage(t, conn)
	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "start_call"}))
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(signaling.ControlMessage{Type: "user_turn", Text: "hello there"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "agent_turn", msg.Type)
	assert.Equal(t, "Echo: hello there", msg.Text)
}
