package http

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"camrelay/internal/adapters/signal"
	"camrelay/internal/config"
	"camrelay/internal/core"
	"camrelay/internal/metrics"
)

// ClientTokenMiddleware assigns each browser a stable client token used
// as the viewer connection id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// CORSMiddleware allows the configured frontend origin only.
func CORSMiddleware(frontendURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", frontendURL)
		c.Header("Access-Control-Allow-Methods", "GET, POST")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *Handlers, ws *signal.Controller, m *metrics.Metrics, clock core.Clock) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware(cfg.FrontendURL))

	store := cookie.NewStore([]byte(cfg.CookieSecret))
	r.Use(sessions.Sessions("CamRelaySessions", store))
	r.Use(ClientTokenMiddleware())

	limiter := NewRateLimiter(clock, 100, 15*time.Minute)
	r.Use(limiter.Middleware())

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")

	api := r.Group("/api")
	api.POST("/authenticate", h.Authenticate)
	api.GET("/devices", h.Devices)
	api.GET("/health", h.Health)

	api.GET("/ws", func(c *gin.Context) {
		ws.HandleSocket(ctx, c)
	})

	r.GET("/metrics", gin.WrapH(m.Handler(h.RefreshGauges)))

	return r
}
