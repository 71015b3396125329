package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/api/middleware"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/auth"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	signer *auth.SignatureAuthorizer
}

func NewAuthHandler(signer *auth.SignatureAuthorizer) *AuthHandler {
	return &AuthHandler{signer: signer}
}

type channelAuthRequest struct {
	SocketID    string `json:"socket_id" binding:"required"`
	ChannelName string `json:"channel_name" binding:"required"`
}

// ChannelAuth issues the signature a client must present when subscribing
// to a restricted channel. Runs behind RequireAuth, so the caller's identity
// comes from its session token claims, never from the request body.
func (h *AuthHandler) ChannelAuth(c *gin.Context) {
	var req channelAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "socket_id and channel_name are required"})
		return
	}

	switch auth.ClassifyChannel(req.ChannelName) {
	case auth.ChannelPublic:
		// Public channels need no grant.
		c.Status(http.StatusOK)

	case auth.ChannelPrivate:
		c.JSON(http.StatusOK, gin.H{
			"auth": h.signer.Sign(req.SocketID, req.ChannelName, ""),
		})

	case auth.ChannelPresence:
		member, ok := presenceIdentity(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "presence channel requires an identified user"})
			return
		}

		channelData, err := json.Marshal(member)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode channel_data"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"auth":         h.signer.Sign(req.SocketID, req.ChannelName, string(channelData)),
			"channel_data": string(channelData),
		})
	}
}

// presenceIdentity maps the session claims set by the auth middleware to a
// presence member.
func presenceIdentity(c *gin.Context) (*auth.PresenceMember, bool) {
	userID, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return nil, false
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		return nil, false
	}

	member := &auth.PresenceMember{UserID: id}
	if info, ok := c.Get(middleware.ContextUserInfo); ok {
		if infoMap, ok := info.(map[string]any); ok && len(infoMap) > 0 {
			member.UserInfo = infoMap
		}
	}
	return member, true
}
