package routes

import (
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/api/handlers"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/api/middleware"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/auth"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/config"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/services"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/websocket"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine        *gin.Engine
	wsHandler     *handlers.WSHandler
	authHandler   *handlers.AuthHandler
	eventsHandler *handlers.EventsHandler
	rateLimitMW   *middleware.RateLimitMiddleware
	authMW        *middleware.AuthMiddleware
}

func NewRouter(
	hub *websocket.Hub,
	redisService *services.RedisService,
	signer *auth.SignatureAuthorizer,
	cfg *config.Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	return &Router{
		engine:        engine,
		wsHandler:     handlers.NewWSHandler(hub),
		authHandler:   handlers.NewAuthHandler(signer),
		eventsHandler: handlers.NewEventsHandler(hub, cfg),
		rateLimitMW:   middleware.NewRateLimitMiddleware(redisService),
		authMW:        middleware.NewAuthMiddleware(cfg.Auth.JWTSecret),
	}
}

func (r *Router) SetupRoutes() {
	// Health/info endpoint for operators
	r.engine.GET("/", r.eventsHandler.Info)

	// WebSocket endpoint for the admin frontend
	r.engine.GET("/ws", r.wsHandler.HandleWebSocket)

	pusher := r.engine.Group("/pusher")
	{
		// Channel auth requires an identified frontend session
		pusher.POST("/auth",
			r.rateLimitMW.RateLimitIP(100, time.Minute),
			r.authMW.RequireAuth(),
			r.authHandler.ChannelAuth,
		)

		// Trigger is credentialed by request signature, not by session
		pusher.POST("/trigger",
			r.rateLimitMW.RateLimitIP(300, time.Minute),
			r.eventsHandler.Trigger,
		)

		pusher.POST("/webhook",
			r.rateLimitMW.RateLimitIP(100, time.Minute),
			r.eventsHandler.Webhook,
		)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
