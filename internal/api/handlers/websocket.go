package handlers

import (
	"github.com/52200132/SuaChuaXeMay-sub000/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleWebSocket upgrades the request and registers the connection with
// the hub. Identity is not required here: public channels need none, and
// restricted channels are gated per subscribe via the auth endpoint's
// signature.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	websocket.ServeWS(h.hub, c.Writer, c.Request)
}
