package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/middleware"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services/push"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is what a push client sends.
//
//	{"type":"subscribe","resource":"cars","params":{"make":"Saab"},"ref":"1"}
//	{"type":"unsubscribe","job":"7","ref":"2"}
//	{"type":"ping"}
type clientMessage struct {
	Type     string                     `json:"type"`
	Resource string                     `json:"resource"`
	Params   map[string]json.RawMessage `json:"params"`
	Job      string                     `json:"job"`
	Ref      string                     `json:"ref"`
}

// wsSession adapts a WebSocket connection to push.Session.
type wsSession struct {
	id   string
	conn *websocket.Conn
	open atomic.Bool

	writeMu sync.Mutex
}

func newWSSession(conn *websocket.Conn) *wsSession {
	s := &wsSession{id: uuid.NewString(), conn: conn}
	s.open.Store(true)
	return s
}

func (s *wsSession) ID() string   { return s.id }
func (s *wsSession) IsOpen() bool { return s.open.Load() }

// Send writes one text frame. Writes are serialized; the deadline is the
// earlier of ctx's and writeWait.
func (s *wsSession) Send(ctx context.Context, payload []byte) error {
	if !s.open.Load() {
		return apperrors.ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.open.Store(false)
		return err
	}
	return nil
}

// PushHandler upgrades clients to push sessions.
type PushHandler struct {
	resources services.ResourceService
	logger    *zap.Logger
}

// NewPushHandler creates a push handler.
func NewPushHandler(resources services.ResourceService, logger *zap.Logger) *PushHandler {
	return &PushHandler{resources: resources, logger: logger}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *PushHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.Connect)
}

// Connect handles GET /ws. The session lives until the client disconnects
// or stops answering pings; its subscriptions end with it.
func (h *PushHandler) Connect(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := newWSSession(conn)
	logger := middleware.Logger(r.Context(), h.logger).With(zap.String("session", s.id))
	logger.Debug("Push session opened")

	done := make(chan struct{})
	defer func() {
		close(done)
		s.open.Store(false)
		h.resources.Leave(s.id)
		_ = conn.Close()
		logger.Debug("Push session closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go keepAlive(conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Push session read failed", zap.Error(err))
			}
			return
		}

		reply := h.handle(s, data, logger)
		if err := s.Send(r.Context(), reply.Encode()); err != nil {
			logger.Debug("Push reply failed", zap.Error(err))
			return
		}
	}
}

// keepAlive pings the client until done closes.
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handle processes one client message and returns the reply.
func (h *PushHandler) handle(s *wsSession, data []byte, logger *zap.Logger) push.Message {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return push.Message{Type: push.MessageError, Error: "invalid JSON"}
	}

	switch msg.Type {
	case "subscribe":
		if msg.Resource == "" {
			return push.Message{Type: push.MessageError, Error: "resource is required", Ref: msg.Ref}
		}
		params := make(map[string]string, len(msg.Params))
		for k, raw := range msg.Params {
			params[k] = jsonutil.FlexibleStringValue(raw)
		}
		jobID, err := h.resources.Subscribe(msg.Resource, params, s)
		if err != nil {
			return push.Message{Type: push.MessageError, Resource: msg.Resource, Error: subscribeError(err, logger), Ref: msg.Ref}
		}
		logger.Debug("Subscribed", zap.String("resource", msg.Resource), zap.String("job", jobID))
		return push.Message{Type: push.MessageSubscribed, Job: jobID, Resource: msg.Resource, Ref: msg.Ref}

	case "unsubscribe":
		if !h.resources.Unsubscribe(msg.Job, s.id) {
			return push.Message{Type: push.MessageError, Job: msg.Job, Error: "not subscribed to job", Ref: msg.Ref}
		}
		return push.Message{Type: push.MessageUnsubscribed, Job: msg.Job, Ref: msg.Ref}

	case "ping":
		return push.Message{Type: push.MessagePong, Ref: msg.Ref}

	default:
		return push.Message{Type: push.MessageError, Error: "unknown message type", Ref: msg.Ref}
	}
}

func subscribeError(err error, logger *zap.Logger) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "resource not found"
	case services.IsClientError(err):
		return err.Error()
	case errors.Is(err, apperrors.ErrJobStopped):
		return "server is shutting down"
	default:
		logger.Error("Subscribe failed", zap.String("error", logging.SanitizeError(err)))
		return logging.SanitizeError(err)
	}
}
