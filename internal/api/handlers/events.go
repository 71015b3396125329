package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/auth"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/config"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/websocket"

	"github.com/gin-gonic/gin"
)

// triggerTimeout bounds the whole trigger request; fan-out to individual
// members is fire-and-forget beyond this point.
const triggerTimeout = 5 * time.Second

type EventsHandler struct {
	hub *websocket.Hub
	cfg *config.Config
}

func NewEventsHandler(hub *websocket.Hub, cfg *config.Config) *EventsHandler {
	return &EventsHandler{hub: hub, cfg: cfg}
}

type triggerRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Trigger lets trusted backend services inject an event into a channel
// without holding a socket. The request body is signed with the app secret;
// a channel with no subscribers succeeds with zero deliveries.
func (h *EventsHandler) Trigger(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if !h.validCredential(c, body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid app credential"})
		return
	}

	var req triggerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if req.Channel == "" || req.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel and event are required"})
		return
	}

	subscribers := h.hub.Subscribers(req.Channel)

	ctx, cancel := context.WithTimeout(c.Request.Context(), triggerTimeout)
	defer cancel()

	if err := h.hub.Broadcast(ctx, req.Channel, req.Event, req.Data); err != nil {
		slog.Error("Trigger broadcast failed", "channel", req.Channel, "event", req.Event, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broadcast failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"subscribers": subscribers,
	})
}

func (h *EventsHandler) validCredential(c *gin.Context, body []byte) bool {
	key := c.GetHeader("X-Pusher-Key")
	signature := c.GetHeader("X-Pusher-Signature")
	if key != h.cfg.Auth.AppKey || signature == "" {
		return false
	}
	return auth.VerifyPayload(h.cfg.Auth.AppSecret, body, signature)
}

// Webhook accepts asynchronous provider callbacks. The relay only logs and
// acknowledges them; downstream processing happens off the Kafka topic.
func (h *EventsHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	slog.Info("Webhook received", "size", len(body), "body", string(body))
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Info reports service status and the WebSocket endpoint address.
func (h *EventsHandler) Info(c *gin.Context) {
	wsURL := h.cfg.Server.PublicURL
	if wsURL == "" {
		wsURL = "ws://" + c.Request.Host
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"websocket": wsURL + "/ws",
	})
}
