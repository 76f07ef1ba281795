package graph

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayush/library-catalog/backend/internal/middleware"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Transport defaults: a POST body cap, a per-message WebSocket cap and the
// graphql-ws keep-alive interval.
const (
	defaultMaxBodyBytes    = 1 << 20
	defaultWSReadLimit     = 1 << 20
	defaultLegacyKeepAlive = 15 * time.Second
)

// Handler serves GraphQL over HTTP and subscriptions over WebSocket.
type Handler struct {
	engine   *Engine
	tokens   middleware.TokenVerifier
	users    middleware.UserLookup
	upgrader websocket.Upgrader
	logger   *zap.Logger

	maxBodyBytes int64
	wsReadLimit  int64
	// keepAlive is the interval between ka frames on graphql-ws connections.
	keepAlive time.Duration
}

func NewHandler(engine *Engine, tokens middleware.TokenVerifier, users middleware.UserLookup, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		engine:       engine,
		tokens:       tokens,
		users:        users,
		logger:       logger,
		maxBodyBytes: defaultMaxBodyBytes,
		wsReadLimit:  defaultWSReadLimit,
		keepAlive:    defaultLegacyKeepAlive,
	}
	h.upgrader = websocket.Upgrader{
		Subprotocols: []string{protocolTransportWS, protocolLegacyWS},
		CheckOrigin:  originChecker(allowedOrigins),
	}
	return h
}

// ServeHTTP dispatches WebSocket upgrades to the subscription transport and
// everything else to query/mutation execution. Session context is expected
// to have been attached by middleware.Session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}

	var req Request
	switch r.Method {
	case http.MethodPost:
		body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large", CodeBadUserInput))
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody("invalid request body", CodeBadUserInput))
			return
		}
	case http.MethodGet:
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if vars := q.Get("variables"); vars != "" {
			if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody("invalid variables", CodeBadUserInput))
				return
			}
		}
		// GET may only read.
		if op := operationType(req.Query, req.OperationName); op != "" && op != "query" {
			w.Header().Set("Allow", "POST")
			writeJSON(w, http.StatusMethodNotAllowed, errorBody("can only perform a "+op+" operation from a POST request", CodeBadUserInput))
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed", CodeBadUserInput))
		return
	}

	result := h.engine.Do(r.Context(), req)
	if result.HasErrors() {
		h.logger.Debug("graphql errors",
			zap.String("operation", req.OperationName),
			zap.Any("errors", result.Errors),
			zap.String("request_id", middleware.RequestID(r.Context())))
	}
	writeJSON(w, http.StatusOK, result)
}

func errorBody(message, code string) map[string]interface{} {
	return map[string]interface{}{
		"errors": []map[string]interface{}{{
			"message":    message,
			"extensions": map[string]interface{}{"code": code},
		}},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || wildcard || set[origin]
	}
}
