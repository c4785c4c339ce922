// Package signaling bridges the companion device to a live call over a
// websocket: control frames manage registration and call lifecycle, text
// turns are relayed into the assistant session.
package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"eldervoice/internal/logger"
	"eldervoice/internal/orchestrator"
	"eldervoice/internal/voice"
	"eldervoice/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ControlMessage carries every text frame in both directions.
type ControlMessage struct {
	Type        string `json:"type"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	Text        string `json:"text,omitempty"`
	AudioRef    string `json:"audio_ref,omitempty"`
	Message     string `json:"message,omitempty"`

	Outcome *orchestrator.CallOutcome `json:"outcome,omitempty"`
}

// RecipientStore resolves device registrations against the care recipients
// on record.
type RecipientStore interface {
	GetCareRecipient(id int64) (*models.CareRecipient, error)
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	// mu guards everything below; the fields are shared between the read
	// loop and the call goroutine.
	mu           sync.Mutex
	recipient    *models.CareRecipient
	session      *voice.Session
	cancelCall   context.CancelFunc
	lastActivity time.Time
}

type Server struct {
	db          RecipientStore
	orch        *orchestrator.Orchestrator
	voiceClient TurnSender
	log         *logger.Logger
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*client
}

// TurnSender is the slice of the voice client the turn relay needs.
type TurnSender interface {
	SendUserTurn(ctx context.Context, s *voice.Session, text string) (*voice.TurnResult, error)
}

func NewServer(db RecipientStore, orch *orchestrator.Orchestrator, voiceClient TurnSender, log *logger.Logger) *Server {
	return &Server{
		db:          db,
		orch:        orch,
		voiceClient: voiceClient,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]*client),
	}
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Websocket upgrade failed", logrus.Fields{"error": err.Error()})
		return
	}

	c := &client{conn: conn, lastActivity: time.Now()}
	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.cleanup(c)

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		if msgType != websocket.TextMessage {
			// Binary frames are raw microphone audio; with a text-turn
			// provider they only count as liveness.
			continue
		}

		var msg ControlMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.sendError(c, "malformed message")
			continue
		}

		switch msg.Type {
		case "register":
			s.register(c, msg.RecipientID)
		case "start_call":
			s.startCall(c)
		case "user_turn":
			s.relayUserTurn(c, msg.Text)
		case "hangup":
			s.hangup(c)
		default:
			s.sendError(c, "unknown message type")
		}
	}
}

func (s *Server) register(c *client, recipientID int64) {
	rec, err := s.db.GetCareRecipient(recipientID)
	if err != nil {
		s.log.Warn("Registration for unknown recipient", logrus.Fields{
			"recipient_id": recipientID,
			"error":        err.Error(),
		})
		s.sendError(c, "unknown care recipient")
		return
	}

	// The call goroutine reads the registered recipient; re-registration is
	// only allowed between calls.
	c.mu.Lock()
	if c.cancelCall != nil {
		c.mu.Unlock()
		s.sendError(c, "cannot re-register during a call")
		return
	}
	prev := c.recipient
	c.recipient = rec
	c.mu.Unlock()

	s.mu.Lock()
	if prev != nil && s.clients[prev.ID] == c {
		delete(s.clients, prev.ID)
	}
	s.clients[rec.ID] = c
	s.mu.Unlock()

	s.sendJSON(c, ControlMessage{Type: "registered", RecipientID: rec.ID})
	s.log.Info("Device registered", logrus.Fields{"recipient_id": rec.ID})
}

// startCall launches the orchestrated call for the registered recipient in
// its own goroutine. The connection's read loop stays free so user turns and
// hangups arrive while the call runs.
func (s *Server) startCall(c *client) {
	c.mu.Lock()
	rec := c.recipient
	if rec == nil {
		c.mu.Unlock()
		s.sendError(c, "register first")
		return
	}
	if c.cancelCall != nil {
		c.mu.Unlock()
		s.sendError(c, "call already in progress")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelCall = cancel
	c.mu.Unlock()

	go func() {
		outcome := s.orch.RunCall(ctx, rec, func(sess *voice.Session) {
			c.mu.Lock()
			c.session = sess
			c.mu.Unlock()
			s.sendJSON(c, ControlMessage{Type: "call_started"})
		})

		c.mu.Lock()
		c.session = nil
		c.cancelCall = nil
		c.mu.Unlock()
		cancel()

		s.sendJSON(c, ControlMessage{Type: "call_ended", Outcome: &outcome})
	}()
}

// relayUserTurn forwards one utterance into the live session and returns the
// assistant's reply to the device.
func (s *Server) relayUserTurn(c *client, text string) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		s.sendError(c, "no active call")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := s.voiceClient.SendUserTurn(ctx, sess, text)
	if err != nil {
		s.log.Warn("User turn failed", logrus.Fields{
			"session_id": sess.ID,
			"error":      err.Error(),
		})
		s.sendError(c, "could not deliver the message")
		return
	}

	s.sendJSON(c, ControlMessage{
		Type:     "agent_turn",
		Text:     result.AgentText,
		AudioRef: result.AudioRef,
	})
}

func (s *Server) hangup(c *client) {
	c.mu.Lock()
	cancel := c.cancelCall
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Server) cleanup(c *client) {
	s.hangup(c)

	c.mu.Lock()
	rec := c.recipient
	c.mu.Unlock()

	if rec != nil {
		s.mu.Lock()
		if s.clients[rec.ID] == c {
			delete(s.clients, rec.ID)
		}
		s.mu.Unlock()
		s.log.Info("Device disconnected", logrus.Fields{"recipient_id": rec.ID})
	}

	c.conn.Close()
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) sendError(c *client, message string) {
	s.sendJSON(c, ControlMessage{Type: "error", Message: message})
}

func (s *Server) sendJSON(c *client, v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		s.log.Debug("Websocket write failed", logrus.Fields{"error": err.Error()})
	}
}
