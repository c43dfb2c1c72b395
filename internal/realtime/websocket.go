package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufferSize = 64
)

var errSendBufferFull = errors.New("send buffer full")

// GatewayConfig describes the dependencies for the websocket gateway.
type GatewayConfig struct {
	Verifier   TokenVerifier
	Rooms      *RoomManager
	Presence   *Registry
	Analytics  ActivitySink
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

// Gateway upgrades HTTP requests to websocket connections and runs a Session
// per connection.
type Gateway struct {
	verifier   TokenVerifier
	rooms      *RoomManager
	presence   *Registry
	analytics  ActivitySink
	dispatcher *Dispatcher
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewGateway constructs the websocket gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	if cfg.Rooms == nil {
		return nil, errMissingRooms
	}
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		verifier:   cfg.Verifier,
		rooms:      cfg.Rooms,
		presence:   cfg.Presence,
		analytics:  cfg.Analytics,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers connect from the app origin; token auth happens at
			// join, so cross-origin upgrades are allowed here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// ServeHTTP upgrades the request and pumps messages until the peer goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		id:     uuid.NewString(),
		socket: socket,
		send:   make(chan Envelope, sendBufferSize),
		done:   make(chan struct{}),
		logger: g.logger,
	}
	session, err := NewSession(SessionConfig{
		Transport:  client,
		Verifier:   g.verifier,
		Rooms:      g.rooms,
		Presence:   g.presence,
		Analytics:  g.analytics,
		Dispatcher: g.dispatcher,
		Logger:     g.logger,
	})
	if err != nil {
		g.logger.Error("session construction failed", zap.Error(err))
		_ = socket.Close()
		return
	}

	go client.writePump()
	client.readPump(session)
}

// wsClient is the gorilla-backed Peer. Writes go through a buffered channel
// drained by a single writer goroutine; a full buffer drops the message so a
// slow reader cannot stall the room.
type wsClient struct {
	id     string
	socket *websocket.Conn
	send   chan Envelope
	done   chan struct{}
	logger *zap.Logger
}

func (c *wsClient) ID() string {
	return c.id
}

func (c *wsClient) Send(event string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	envelope := Envelope{Event: event, Data: encoded}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	case c.send <- envelope:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsClient) readPump(session *Session) {
	defer func() {
		session.HandleDisconnect(context.Background())
		close(c.done)
		_ = c.socket.Close()
	}()
	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read ended",
					zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}
		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.logger.Debug("malformed frame dropped",
				zap.String("connection_id", c.id), zap.Error(err))
			continue
		}
		c.dispatch(session, envelope)
	}
}

func (c *wsClient) dispatch(session *Session, envelope Envelope) {
	ctx := context.Background()
	switch envelope.Event {
	case EventJoin:
		var payload JoinPayload
		if c.decode(envelope.Data, &payload) {
			session.HandleJoin(ctx, payload)
		}
	case EventDocUpdate:
		var payload DocUpdatePayload
		if c.decode(envelope.Data, &payload) {
			session.HandleDocUpdate(ctx, payload)
		}
	case EventCursorUpdate:
		var payload CursorPayload
		if c.decode(envelope.Data, &payload) {
			session.HandleCursor(payload)
		}
	case EventTyping:
		var payload TypingPayload
		if c.decode(envelope.Data, &payload) {
			session.HandleTyping(payload)
		}
	case EventLeave:
		var payload LeavePayload
		if c.decode(envelope.Data, &payload) {
			session.HandleLeave(ctx, payload)
		}
	default:
		c.logger.Debug("unknown event dropped",
			zap.String("connection_id", c.id), zap.String("event", envelope.Event))
	}
}

func (c *wsClient) decode(raw json.RawMessage, target any) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, target); err != nil {
		c.logger.Debug("malformed payload dropped",
			zap.String("connection_id", c.id), zap.Error(err))
		return false
	}
	return true
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case envelope := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(envelope); err != nil {
				c.logger.Debug("websocket write failed",
					zap.String("connection_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
