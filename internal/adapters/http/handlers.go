package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"camrelay/internal/app"
	"camrelay/internal/config"
	"camrelay/internal/core"
	"camrelay/internal/domain"
	"camrelay/internal/metrics"
)

type Handlers struct {
	Auth     *app.AuthGateway
	Registry *app.Registry
	Hub      *app.Hub
	Metrics  *metrics.Metrics
	Clock    core.Clock
	Cfg      *config.Config

	startedAt time.Time
}

func NewHandlers(auth *app.AuthGateway, registry *app.Registry, hub *app.Hub, m *metrics.Metrics, clock core.Clock, cfg *config.Config) *Handlers {
	return &Handlers{
		Auth:      auth,
		Registry:  registry,
		Hub:       hub,
		Metrics:   m,
		Clock:     clock,
		Cfg:       cfg,
		startedAt: clock.Now(),
	}
}

type authenticateRequest struct {
	DeviceID     string `json:"deviceId"`
	DeviceSecret string `json:"deviceSecret"`
}

type authenticateResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	DeviceID  string `json:"deviceId"`
}

// Authenticate exchanges the shared device secret for a bearer token.
func (h *Handlers) Authenticate(c *gin.Context) {
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing deviceId or deviceSecret"})
		return
	}

	token, err := h.Auth.IssueToken(domain.DeviceID(req.DeviceID), req.DeviceSecret)
	if err != nil {
		h.Metrics.IncAuthFailures()
		switch {
		case errors.Is(err, app.ErrMissingFields):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing deviceId or deviceSecret"})
		case errors.Is(err, app.ErrServerMisconfigured):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error: device secret not set"})
		case errors.Is(err, app.ErrInvalidSecret):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized device"})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Msg("token issue failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, authenticateResponse{
		Token:     token.Value,
		ExpiresIn: token.ExpiresAt.Sub(token.IssuedAt).Milliseconds(),
		DeviceID:  string(token.DeviceID),
	})
}

type deviceInfo struct {
	DeviceID     string `json:"deviceId"`
	ConnectedAt  int64  `json:"connectedAt"`
	LastActivity int64  `json:"lastActivity"`
	IsActive     bool   `json:"isActive"`
}

// Devices lists connected producers. A device counts as active when it
// showed activity within the last 30 seconds.
func (h *Handlers) Devices(c *gin.Context) {
	now := h.Clock.Now()
	sessions := h.Registry.Devices()
	devices := make([]deviceInfo, 0, len(sessions))
	for _, s := range sessions {
		devices = append(devices, deviceInfo{
			DeviceID:     string(s.DeviceID),
			ConnectedAt:  s.CreatedAt.UnixMilli(),
			LastActivity: s.LastActivityAt.UnixMilli(),
			IsActive:     now.Sub(s.LastActivityAt) < 30*time.Second,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// Health reports liveness plus session/token/socket counts.
func (h *Handlers) Health(c *gin.Context) {
	now := h.Clock.Now()
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"timestamp":         now.UTC().Format(time.RFC3339),
		"uptime":            now.Sub(h.startedAt).Seconds(),
		"activeSessions":    h.Registry.Count(),
		"activeTokens":      h.Auth.ActiveTokens(),
		"socketConnections": h.Registry.Count() + h.Hub.ViewerCount(),
		"configuration": gin.H{
			"port":            h.Cfg.Port,
			"deviceSecretSet": h.Cfg.DeviceSecret != "",
			"frontendUrl":     h.Cfg.FrontendURL,
		},
	})
}

// RefreshGauges updates prometheus gauges before a scrape.
func (h *Handlers) RefreshGauges() {
	h.Metrics.SetActiveSessions(h.Registry.Count())
	h.Metrics.SetViewerConnections(h.Hub.ViewerCount())
}
