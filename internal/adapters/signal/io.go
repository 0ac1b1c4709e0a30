package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"camrelay/internal/core"
	"camrelay/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) producerReadPump(ctx context.Context, deviceID domain.DeviceID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("device", string(deviceID)).Msg("producer readPump closing")
		ctl.Relay.OnProducerDisconnect(deviceID, c)
		c.Close()
	}()

	var lastFrameAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("device", string(deviceID)).Msg("producer read error")
				return
			}
			ctl.dispatchProducer(deviceID, data, &lastFrameAt)
		}
	}
}

func (ctl *Controller) viewerReadPump(ctx context.Context, viewerID core.ClientID, c *wsConn, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "signal").Str("viewer", string(viewerID)).Msg("viewer readPump closing")
		ctl.Hub.RemoveViewer(viewerID)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("viewer", string(viewerID)).Msg("viewer read error")
				return
			}
			ctl.dispatchViewer(c, data)
		}
	}
}

func (ctl *Controller) dispatchProducer(deviceID domain.DeviceID, data []byte, lastFrameAt *time.Time) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Event {
	case core.EvtCameraStream:
		var p core.CameraStreamPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad camera-stream payload")
			return
		}
		now := ctl.Clock.Now()
		// Per-device inbound cap: frames above the configured rate are
		// dropped before they touch the registry or the fan-out.
		if ctl.FrameInterval > 0 && now.Sub(*lastFrameAt) < ctl.FrameInterval {
			ctl.Metrics.IncFramesThrottled()
			return
		}
		*lastFrameAt = now
		ctl.Relay.OnProducerFrame(deviceID, domain.Frame{
			Payload:    p.Frame,
			CapturedAt: time.UnixMilli(p.Timestamp),
			DeviceID:   deviceID,
		})
	case core.EvtStateUpdate:
		var p core.StateUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad streaming-state-update payload")
			return
		}
		ctl.Relay.OnStateUpdate(deviceID, p.IsStreaming)
	case core.EvtSnapshotData:
		var p core.SnapshotDataPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad snapshot-data payload")
			return
		}
		ctl.Relay.OnSnapshotData(deviceID, p.ImageData)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown producer event")
	}
}

func (ctl *Controller) dispatchViewer(c *wsConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	var ref core.DeviceRefPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("event", env.Event).Msg("bad viewer payload")
			return
		}
	}
	deviceID := domain.DeviceID(ref.DeviceID)

	switch env.Event {
	case core.EvtStartStreaming:
		ctl.Relay.OnStart(c, deviceID)
	case core.EvtStopStreaming:
		ctl.Relay.OnStop(c, deviceID)
	case core.EvtRequestSnapshot:
		ctl.Relay.OnSnapshot(c, deviceID)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown viewer event")
	}
}
