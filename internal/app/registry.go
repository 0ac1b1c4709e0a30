package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"camrelay/internal/core"
	"camrelay/internal/domain"
)

// Session is the server-side record of one live producer connection.
type Session struct {
	DeviceID       domain.DeviceID
	Conn           core.ClientConn
	IsStreaming    bool
	LastFrame      string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

type sessionEntry struct {
	session Session
	cancel  context.CancelFunc
}

// Registry is the authoritative table of producer sessions. Exactly one
// live session per device id; a new connection replaces the prior one.
// All mutations for a device are serialized behind one mutex.
type Registry struct {
	clock core.Clock

	mu       sync.RWMutex
	sessions map[domain.DeviceID]*sessionEntry
}

func NewRegistry(clock core.Clock) *Registry {
	return &Registry{
		clock:    clock,
		sessions: make(map[domain.DeviceID]*sessionEntry),
	}
}

// Register upserts the session for a device. A replaced session is not
// merged: the fresh connection starts idle with no cached frame, and the
// old connection's cancel func is invoked.
func (r *Registry) Register(deviceID domain.DeviceID, conn core.ClientConn, cancel context.CancelFunc) {
	now := r.clock.Now()
	r.mu.Lock()
	prev, existed := r.sessions[deviceID]
	r.sessions[deviceID] = &sessionEntry{
		session: Session{
			DeviceID:       deviceID,
			Conn:           conn,
			CreatedAt:      now,
			LastActivityAt: now,
		},
		cancel: cancel,
	}
	r.mu.Unlock()

	if existed && prev.cancel != nil {
		prev.cancel()
	}
	log.Info().Str("module", "app.registry").Str("device", string(deviceID)).Bool("replaced", existed).Msg("session registered")
}

// RecordFrame caches the latest frame payload and refreshes activity.
// Only the newest frame is retained. Skips with a log entry when the
// device has no session.
func (r *Registry) RecordFrame(deviceID domain.DeviceID, frame domain.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[deviceID]
	if !ok {
		log.Warn().Str("module", "app.registry").Str("device", string(deviceID)).Msg("frame for unknown session skipped")
		return
	}
	e.session.LastFrame = frame.Payload
	e.session.LastActivityAt = r.clock.Now()
}

// SetStreaming updates the cached streaming flag. Idempotent beyond
// refreshing the activity time.
func (r *Registry) SetStreaming(deviceID domain.DeviceID, streaming bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[deviceID]
	if !ok {
		return
	}
	if e.session.IsStreaming != streaming {
		e.session.IsStreaming = streaming
		log.Info().Str("module", "app.registry").Str("device", string(deviceID)).Bool("streaming", streaming).Msg("streaming state updated")
	}
	e.session.LastActivityAt = r.clock.Now()
}

// Find returns a snapshot of the session for a device.
func (r *Registry) Find(deviceID domain.DeviceID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[deviceID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Remove deletes the session on disconnect.
func (r *Registry) Remove(deviceID domain.DeviceID) {
	r.mu.Lock()
	_, existed := r.sessions[deviceID]
	delete(r.sessions, deviceID)
	r.mu.Unlock()
	if existed {
		log.Info().Str("module", "app.registry").Str("device", string(deviceID)).Msg("session removed")
	}
}

// RemoveIfConn deletes the session only when it still belongs to conn.
// After a last-writer-wins replacement the old connection's teardown
// must not take the fresh session with it.
func (r *Registry) RemoveIfConn(deviceID domain.DeviceID, conn core.ClientConn) bool {
	r.mu.Lock()
	e, ok := r.sessions[deviceID]
	if !ok || e.session.Conn != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, deviceID)
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("device", string(deviceID)).Msg("session removed")
	return true
}

// SweepInactive removes sessions idle longer than timeout, dropping the
// cached frame reference with them. Returns the removed device ids.
func (r *Registry) SweepInactive(timeout time.Duration) []domain.DeviceID {
	now := r.clock.Now()
	var removed []domain.DeviceID

	r.mu.Lock()
	for id, e := range r.sessions {
		if now.Sub(e.session.LastActivityAt) > timeout {
			e.session.LastFrame = ""
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	for _, id := range removed {
		log.Info().Str("module", "app.registry").Str("device", string(id)).Msg("inactive session swept")
	}
	return removed
}

// Cancel invokes the stored cancel func for a device, if any.
func (r *Registry) Cancel(deviceID domain.DeviceID) bool {
	r.mu.RLock()
	e, ok := r.sessions[deviceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

// Devices lists session snapshots for the HTTP surface.
func (r *Registry) Devices() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	return out
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StreamingSnapshot lists devices that are currently streaming, with
// their cached frames. Sent to viewers on connect.
func (r *Registry) StreamingSnapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.session.IsStreaming {
			out = append(out, e.session)
		}
	}
	return out
}
