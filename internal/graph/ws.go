package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/ayush/library-catalog/backend/internal/auth"
	"github.com/ayush/library-catalog/backend/internal/middleware"
)

// Sub-protocols understood by the subscription transport.
const (
	protocolTransportWS = "graphql-transport-ws"
	protocolLegacyWS    = "graphql-ws"
)

// Close codes from the graphql-transport-ws protocol.
const (
	closeBadRequest        = 4400
	closeUnauthorized      = 4401
	closeForbidden         = 4403
	closeSubscriberExists  = 4409
	closeTooManyInitialise = 4429
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsDialect names the message types of one sub-protocol.
type wsDialect struct {
	subscribe string
	stop      string
	next      string
	terminate string
	legacy    bool
}

var (
	transportWSDialect = wsDialect{subscribe: "subscribe", stop: "complete", next: "next"}
	legacyWSDialect    = wsDialect{subscribe: "start", stop: "stop", next: "data", terminate: "connection_terminate", legacy: true}
)

type wsConn struct {
	h       *Handler
	conn    *websocket.Conn
	dialect wsDialect
	logger  *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	ops      map[string]context.CancelFunc
	acked    bool
	initSeen bool
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(h.wsReadLimit)

	dialect := transportWSDialect
	if conn.Subprotocol() == protocolLegacyWS {
		dialect = legacyWSDialect
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{
		h:       h,
		conn:    conn,
		dialect: dialect,
		logger:  h.logger.With(zap.String("request_id", middleware.RequestID(r.Context()))),
		ctx:     ctx,
		ops:     make(map[string]context.CancelFunc),
	}
	defer conn.Close()
	c.readLoop()
}

func (c *wsConn) readLoop() {
	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read", zap.Error(err))
			}
			c.stopAll()
			return
		}

		switch msg.Type {
		case "connection_init":
			if !c.init(msg.Payload) {
				c.stopAll()
				return
			}
		case "ping":
			c.write(wsMessage{Type: "pong", Payload: msg.Payload})
		case "pong":
		case c.dialect.subscribe:
			if !c.isAcked() {
				c.close(closeUnauthorized, "Unauthorized")
				c.stopAll()
				return
			}
			if !c.start(msg) {
				c.stopAll()
				return
			}
		case c.dialect.stop:
			c.stop(msg.ID)
		default:
			if c.dialect.terminate != "" && msg.Type == c.dialect.terminate {
				c.stopAll()
				c.close(websocket.CloseNormalClosure, "")
				return
			}
			c.close(closeBadRequest, "Invalid message received")
			c.stopAll()
			return
		}
	}
}

// init handles connection_init, applying any authorization carried in its
// payload the same way the HTTP session middleware does.
func (c *wsConn) init(payload json.RawMessage) bool {
	c.mu.Lock()
	seen := c.initSeen
	c.initSeen = true
	c.mu.Unlock()
	if seen {
		c.close(closeTooManyInitialise, "Too many initialisation requests")
		return false
	}

	var params map[string]interface{}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &params)
	}
	header := authorizationFrom(params)

	user, err := middleware.ResolveSession(c.ctx, header, c.h.tokens, c.h.users)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.logger.Info("websocket rejected bearer token", zap.Error(err))
		} else {
			c.logger.Error("websocket session lookup failed", zap.Error(err))
		}
		if c.dialect.legacy {
			body, _ := json.Marshal(map[string]string{"message": "invalid token"})
			c.write(wsMessage{Type: "connection_error", Payload: body})
		}
		c.close(closeForbidden, "Forbidden")
		return false
	}

	c.mu.Lock()
	if user != nil {
		c.ctx = middleware.WithCurrentUser(c.ctx, user)
	}
	c.acked = true
	ctx := c.ctx
	c.mu.Unlock()

	c.write(wsMessage{Type: "connection_ack"})
	if c.dialect.legacy {
		c.write(wsMessage{Type: "ka"})
		go c.keepAlive(ctx, c.h.keepAlive)
	}
	return true
}

// keepAlive sends ka frames until the connection ends. graphql-ws clients
// drop connections that stay silent longer than their keep-alive timeout.
func (c *wsConn) keepAlive(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.write(wsMessage{Type: "ka"})
		}
	}
}

func authorizationFrom(params map[string]interface{}) string {
	for _, key := range []string{"authorization", "Authorization"} {
		if v, ok := params[key].(string); ok {
			return v
		}
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		return authorizationFrom(headers)
	}
	return ""
}

func (c *wsConn) isAcked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}

// start begins one subscription operation. It returns false when the
// connection must be closed.
func (c *wsConn) start(msg wsMessage) bool {
	var req Request
	if msg.ID == "" || json.Unmarshal(msg.Payload, &req) != nil {
		c.close(closeBadRequest, "Invalid message received")
		return false
	}

	c.mu.Lock()
	if _, exists := c.ops[msg.ID]; exists {
		c.mu.Unlock()
		c.close(closeSubscriberExists, "Subscriber for "+msg.ID+" already exists")
		return false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.ops[msg.ID] = cancel
	c.mu.Unlock()

	results := c.h.engine.Subscribe(ctx, req)
	go c.forward(ctx, msg.ID, results)
	return true
}

func (c *wsConn) forward(ctx context.Context, id string, results chan *graphql.Result) {
	first := true
	for {
		select {
		case <-ctx.Done():
			// let the executor finish a pending send
			go func() {
				for range results {
				}
			}()
			return
		case res, ok := <-results:
			if !ok {
				if c.finish(id) {
					c.write(wsMessage{ID: id, Type: "complete"})
				}
				return
			}
			if first && res.Data == nil && res.HasErrors() {
				body, _ := json.Marshal(res.Errors)
				if c.finish(id) {
					c.write(wsMessage{ID: id, Type: "error", Payload: body})
				}
				return
			}
			first = false
			body, err := json.Marshal(res)
			if err != nil {
				c.logger.Error("encode subscription result", zap.Error(err))
				continue
			}
			c.write(wsMessage{ID: id, Type: c.dialect.next, Payload: body})
		}
	}
}

// finish removes a server-ended operation. It reports false if the client
// already stopped it.
func (c *wsConn) finish(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.ops[id]
	if !ok {
		return false
	}
	delete(c.ops, id)
	cancel()
	return true
}

func (c *wsConn) stop(id string) {
	c.mu.Lock()
	cancel, ok := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()
	if ok {
		cancel()
		if c.dialect.legacy {
			c.write(wsMessage{ID: id, Type: "complete"})
		}
	}
}

func (c *wsConn) stopAll() {
	c.mu.Lock()
	ops := c.ops
	c.ops = make(map[string]context.CancelFunc)
	c.mu.Unlock()
	for _, cancel := range ops {
		cancel()
	}
}

func (c *wsConn) write(msg wsMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("websocket write", zap.Error(err))
	}
}

func (c *wsConn) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
