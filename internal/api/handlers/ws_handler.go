package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradesys/exchange/internal/auth"
	"github.com/tradesys/exchange/internal/publisher"
)

// WebSocketHandler serves GET /ws/update, grounded on internal/ws/auth.go
// and internal/api/websocket/pairs_ws.go's register/read-loop shape.
type WebSocketHandler struct {
	upgrader  *auth.Upgrader
	publisher *publisher.Publisher
	logger    *zap.Logger
}

// NewWebSocketHandler builds a WebSocketHandler authenticating via
// upgrader and registering live sessions with pub.
func NewWebSocketHandler(upgrader *auth.Upgrader, pub *publisher.Publisher, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{upgrader: upgrader, publisher: pub, logger: logger}
}

// RegisterRoutes wires GET /ws/update under router.
func (h *WebSocketHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws/update", h.Update)
}

type inboundMessage struct {
	Type string `json:"type"`
}

// Update upgrades the connection and validates the bearer token (the
// upgrader closes the socket itself when the token is rejected),
// registers it with the publisher, then services inbound frames —
// the only inbound frame this spec defines is a ping, answered with a
// pong (spec.md §6).
func (h *WebSocketHandler) Update(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request)
	if err != nil {
		if !errors.Is(err, auth.ErrWSUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		}
		return
	}

	h.publisher.Register(conn.Conn, conn.UserID)
	defer h.publisher.Unregister(conn.Conn)
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}
		if in.Type == "ping" {
			if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}
