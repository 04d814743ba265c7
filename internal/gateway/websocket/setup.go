// Package websocket serves the subscription hub over WebSocket connections.
package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/subscription"
)

// Gateway represents the WebSocket gateway
type Gateway struct {
	Hub     *subscription.Hub
	Handler *Handler
}

// NewGateway creates a gateway in front of hub.
func NewGateway(hub *subscription.Hub, log *logger.Logger) *Gateway {
	return &Gateway{
		Hub:     hub,
		Handler: NewHandler(hub, log),
	}
}

// SetupRoutes adds the WebSocket routes to the Gin engine
func (g *Gateway) SetupRoutes(router gin.IRoutes) {
	router.GET("/ws", g.Handler.HandleConnection)
}
