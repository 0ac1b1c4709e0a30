package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"camrelay/internal/app"
	"camrelay/internal/core"
	"camrelay/internal/domain"
	"camrelay/internal/metrics"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the websocket endpoint for both producers and
// viewers. Authentication happens before the upgrade: a rejected client
// never reaches a pump.
type Controller struct {
	Auth     *app.AuthGateway
	Registry *app.Registry
	Relay    *app.Relay
	Hub      *app.Hub
	Metrics  *metrics.Metrics
	Clock    core.Clock

	ReadLimit     int64
	SendBuffer    int
	FrameInterval time.Duration
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(msg []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- msg:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSocket authenticates the handshake and hands the connection to
// the producer or viewer pumps. Producers present ?token=, viewers
// present ?identity=.
func (ctl *Controller) HandleSocket(ctx context.Context, c *gin.Context) {
	token := c.Query("token")
	credential := c.Query("identity")

	switch {
	case token != "":
		deviceID, err := ctl.Auth.VerifyToken(token)
		if err != nil {
			ctl.Metrics.IncAuthFailures()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed: Invalid or expired token"})
			return
		}
		ctl.serveProducer(ctx, c, deviceID)
	case credential != "":
		identity, err := ctl.Auth.VerifyIdentity(c.Request.Context(), credential)
		if err != nil {
			ctl.Metrics.IncAuthFailures()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed: Invalid identity credential"})
			return
		}
		ctl.serveViewer(ctx, c, identity)
	default:
		ctl.Metrics.IncAuthFailures()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed: No credentials provided"})
	}
}

func (ctl *Controller) upgrade(c *gin.Context) (*wsConn, bool) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return nil, false
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	buf := ctl.SendBuffer
	if buf <= 0 {
		buf = 32
	}
	return &wsConn{conn: ws, send: make(chan []byte, buf)}, true
}

func (ctl *Controller) serveProducer(ctx context.Context, c *gin.Context, deviceID domain.DeviceID) {
	conn, ok := ctl.upgrade(c)
	if !ok {
		return
	}
	log.Info().Str("module", "signal").Str("device", string(deviceID)).Msg("producer connected")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Register(deviceID, conn, cancel)

	ctl.welcome(conn, string(deviceID), false)

	go ctl.writePump(ctx, conn)
	go ctl.producerReadPump(ctx, deviceID, conn)
}

func (ctl *Controller) serveViewer(ctx context.Context, c *gin.Context, identity domain.ViewerIdentity) {
	conn, ok := ctl.upgrade(c)
	if !ok {
		return
	}

	// The session middleware assigns a stable client token cookie;
	// fall back to a fresh id for cookie-less clients.
	viewerID := core.ClientID(c.GetString("client_token"))
	if viewerID == "" {
		viewerID = core.ClientID(uuid.NewString())
	}
	log.Info().Str("module", "signal").Str("viewer", string(viewerID)).Str("user", string(identity.UserID)).Msg("viewer connected")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.AddViewer(viewerID, conn)

	ctl.welcome(conn, "web-frontend", true)
	ctl.sendJSON(conn, core.EvtStreamingStatus, ctl.Relay.StreamingStatus())

	go ctl.writePump(ctx, conn)
	go ctl.viewerReadPump(ctx, viewerID, conn, cancel)
}

func (ctl *Controller) welcome(conn *wsConn, deviceID string, isWeb bool) {
	msg := "Device successfully connected to camera stream server"
	if isWeb {
		msg = "Web frontend connected to camera stream server"
	}
	ctl.sendJSON(conn, core.EvtConnected, core.ConnectedPayload{
		Message:     msg,
		DeviceID:    deviceID,
		IsWebClient: isWeb,
		ServerTime:  ctl.Clock.Now().UnixMilli(),
	})
}

func (ctl *Controller) sendJSON(conn *wsConn, event string, payload any) {
	msg, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("encode")
		return
	}
	_ = conn.TrySend(msg)
}
