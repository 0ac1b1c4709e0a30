package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"camrelay/internal/core"
)

// PublishResult reports delivery stats for one broadcast.
type PublishResult struct {
	SentTo  int
	Dropped int
}

// Hub is the data-plane fan-out set of viewer connections. Broadcast is
// fire-and-forget: a viewer whose transport buffer is full loses that
// message, and one slow viewer never blocks the others or the inbound
// frame path. The server holds no per-viewer queue beyond the transport
// send buffer.
type Hub struct {
	mu      sync.RWMutex
	viewers map[core.ClientID]core.ClientConn
}

func NewHub() *Hub {
	return &Hub{viewers: make(map[core.ClientID]core.ClientConn)}
}

func (h *Hub) AddViewer(id core.ClientID, conn core.ClientConn) {
	h.mu.Lock()
	h.viewers[id] = conn
	h.mu.Unlock()
	log.Info().Str("module", "app.hub").Str("viewer", string(id)).Msg("viewer added")
}

func (h *Hub) RemoveViewer(id core.ClientID) {
	h.mu.Lock()
	delete(h.viewers, id)
	h.mu.Unlock()
	log.Info().Str("module", "app.hub").Str("viewer", string(id)).Msg("viewer removed")
}

func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast try-sends msg to every viewer. Individual failures are
// counted and skipped.
func (h *Hub) Broadcast(msg []byte) PublishResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := PublishResult{}
	for id, conn := range h.viewers {
		if err := conn.TrySend(msg); err != nil {
			log.Debug().Str("module", "app.hub").Str("viewer", string(id)).Msg("viewer send dropped")
			res.Dropped++
			continue
		}
		res.SentTo++
	}
	return res
}
