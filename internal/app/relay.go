package app

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"camrelay/internal/core"
	"camrelay/internal/domain"
	"camrelay/internal/metrics"
)

// Relay is the control-plane dispatcher between viewers and producers.
// It owns no transport: commands are forwarded over the producer conn
// stored in the registry, and notifications fan out through the hub.
//
// isStreaming in the registry is a cached belief set only here, from
// explicit viewer commands or producer state updates. Frame arrival
// alone never flips it.
type Relay struct {
	clock    core.Clock
	registry *Registry
	hub      *Hub
	metrics  *metrics.Metrics

	newRequestID func() string
}

func NewRelay(clock core.Clock, registry *Registry, hub *Hub, m *metrics.Metrics) *Relay {
	return &Relay{
		clock:        clock,
		registry:     registry,
		hub:          hub,
		metrics:      m,
		newRequestID: uuid.NewString,
	}
}

// OnProducerFrame records the frame and fans it out to every viewer.
// Fire-and-forget: slow viewers lose frames at the transport buffer,
// never inside this path.
func (rl *Relay) OnProducerFrame(deviceID domain.DeviceID, frame domain.Frame) PublishResult {
	rl.registry.RecordFrame(deviceID, frame)

	msg, err := core.Encode(core.EvtCameraFeed, core.CameraFeedPayload{
		DeviceID:  string(deviceID),
		Frame:     frame.Payload,
		Timestamp: rl.clock.Now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode camera-feed")
		return PublishResult{}
	}
	res := rl.hub.Broadcast(msg)
	rl.metrics.IncFramesRelayed()
	if res.Dropped > 0 {
		rl.metrics.AddViewerDrops(res.Dropped)
	}
	return res
}

// OnStart forwards a start instruction to the producer and notifies all
// viewers of the state change.
func (rl *Relay) OnStart(viewer core.ClientConn, deviceID domain.DeviceID) {
	sess, ok := rl.registry.Find(deviceID)
	if !ok {
		rl.replyError(viewer, core.EvtCommandError, deviceID, ErrDeviceNotFound)
		return
	}
	rl.sendTo(sess.Conn, core.EvtStartCommand, nil)
	rl.registry.SetStreaming(deviceID, true)
	rl.broadcastStateChanged(deviceID, true)
	log.Info().Str("module", "app.relay").Str("device", string(deviceID)).Msg("start command forwarded")
}

// OnStop is symmetric to OnStart and idempotent: stopping an already
// stopped producer still broadcasts the state without error.
func (rl *Relay) OnStop(viewer core.ClientConn, deviceID domain.DeviceID) {
	sess, ok := rl.registry.Find(deviceID)
	if !ok {
		rl.replyError(viewer, core.EvtCommandError, deviceID, ErrDeviceNotFound)
		return
	}
	rl.sendTo(sess.Conn, core.EvtStopCommand, nil)
	rl.registry.SetStreaming(deviceID, false)
	rl.broadcastStateChanged(deviceID, false)
	log.Info().Str("module", "app.relay").Str("device", string(deviceID)).Msg("stop command forwarded")
}

// OnSnapshot resolves a snapshot request. Streaming producers get a
// capture instruction with a fresh request id; idle producers answer
// from the cached frame when one exists.
func (rl *Relay) OnSnapshot(viewer core.ClientConn, deviceID domain.DeviceID) {
	rl.metrics.IncSnapshotRequests()

	sess, ok := rl.registry.Find(deviceID)
	if !ok {
		rl.replyError(viewer, core.EvtSnapshotError, deviceID, ErrDeviceNotFound)
		return
	}
	switch {
	case sess.IsStreaming:
		reqID := rl.newRequestID()
		rl.sendTo(sess.Conn, core.EvtTakeSnapshot, core.TakeSnapshotPayload{RequestID: reqID})
		log.Info().Str("module", "app.relay").Str("device", string(deviceID)).Str("request_id", reqID).Msg("snapshot request forwarded")
	case sess.LastFrame != "":
		rl.sendTo(viewer, core.EvtSnapshotReady, core.SnapshotReadyPayload{
			DeviceID:    string(deviceID),
			ImageData:   sess.LastFrame,
			Timestamp:   rl.clock.Now().UnixMilli(),
			IsLastFrame: true,
		})
		log.Info().Str("module", "app.relay").Str("device", string(deviceID)).Msg("cached frame served as snapshot")
	default:
		rl.replyError(viewer, core.EvtSnapshotError, deviceID, ErrNoFrameAvailable)
	}
}

// OnStateUpdate applies a producer-originated streaming state change and
// notifies viewers.
func (rl *Relay) OnStateUpdate(deviceID domain.DeviceID, isStreaming bool) {
	rl.registry.SetStreaming(deviceID, isStreaming)
	rl.broadcastStateChanged(deviceID, isStreaming)
}

// OnSnapshotData fans a producer snapshot out to viewers. Snapshots are
// tagged with the device, not correlated back to a single requester;
// every viewer watching that device receives it.
func (rl *Relay) OnSnapshotData(deviceID domain.DeviceID, imageData string) {
	rl.broadcast(core.EvtSnapshotReady, core.SnapshotReadyPayload{
		DeviceID:  string(deviceID),
		ImageData: imageData,
		Timestamp: rl.clock.Now().UnixMilli(),
	})
}

// OnProducerDisconnect removes the session and notifies viewers in the
// same step, so there is no window where a dead session still reads as
// streaming. The conn guard keeps a replaced connection's teardown from
// deleting its successor's session.
func (rl *Relay) OnProducerDisconnect(deviceID domain.DeviceID, conn core.ClientConn) {
	if !rl.registry.RemoveIfConn(deviceID, conn) {
		return
	}
	rl.broadcastStateChanged(deviceID, false)
	log.Info().Str("module", "app.relay").Str("device", string(deviceID)).Msg("producer disconnected")
}

// StreamingStatus builds the snapshot sent to a newly connected viewer.
func (rl *Relay) StreamingStatus() core.StreamingStatusPayload {
	sessions := rl.registry.StreamingSnapshot()
	out := core.StreamingStatusPayload{Devices: make([]core.StreamingDevice, 0, len(sessions))}
	for _, s := range sessions {
		out.Devices = append(out.Devices, core.StreamingDevice{
			DeviceID:    string(s.DeviceID),
			IsStreaming: s.IsStreaming,
			LastFrame:   s.LastFrame,
		})
	}
	return out
}

// Now exposes the relay clock for adapters composing wire timestamps.
func (rl *Relay) Now() time.Time { return rl.clock.Now() }

func (rl *Relay) broadcastStateChanged(deviceID domain.DeviceID, isStreaming bool) {
	rl.broadcast(core.EvtStateChanged, core.StateChangedPayload{
		DeviceID:    string(deviceID),
		IsStreaming: isStreaming,
	})
}

func (rl *Relay) broadcast(event string, payload any) {
	msg, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode broadcast")
		return
	}
	res := rl.hub.Broadcast(msg)
	if res.Dropped > 0 {
		rl.metrics.AddViewerDrops(res.Dropped)
	}
}

func (rl *Relay) sendTo(conn core.ClientConn, event string, payload any) {
	msg, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode send")
		return
	}
	if err := conn.TrySend(msg); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("event", event).Msg("send dropped")
	}
}

func (rl *Relay) replyError(conn core.ClientConn, event string, deviceID domain.DeviceID, cause error) {
	var text string
	switch cause {
	case ErrDeviceNotFound:
		text = "Device not found"
	case ErrNoFrameAvailable:
		text = "No frame available"
	default:
		text = cause.Error()
	}
	rl.sendTo(conn, event, core.ErrorPayload{Error: text, DeviceID: string(deviceID)})
	log.Warn().Str("module", "app.relay").Str("device", string(deviceID)).Str("event", event).Str("error", text).Msg("command failed")
}
