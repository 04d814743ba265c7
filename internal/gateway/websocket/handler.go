package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/httpmw"
	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/subscription"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The viewer is served from the same local server, often through a dev proxy.
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub    *subscription.Hub
	logger *logger.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *subscription.Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades HTTP to WebSocket and serves the session until it closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(conn, h.hub, h.logger)
	session, err := h.hub.Connect(client)
	if err != nil {
		h.logger.Warn("rejecting connection", zap.Error(err))
		client.close()
		return
	}

	h.logger.Debug("websocket connection established",
		zap.String("session_id", session.ID()),
		zap.String("remote_addr", c.Request.RemoteAddr),
		zap.String("request_id", httpmw.GetRequestID(c)),
	)
	client.Run(session)
}
