package signaling

import (
	"sync"

	"github.com/pairhub/signaling-core/internal/v1/types"
)

// hub is the in-process directory of live connections, used to route
// presence notifications and relayed negotiation frames to a peer by
// connection-id. It is deliberately separate from the Presence Registry:
// the registry owns membership bookkeeping, the hub owns "how do I reach
// connection X's writePump right now."
type hub struct {
	mu    sync.RWMutex
	conns map[types.ConnectionID]*Conn
}

func newHub() *hub {
	return &hub{conns: make(map[types.ConnectionID]*Conn)}
}

func (h *hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *hub) unregister(id types.ConnectionID) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// sendTo enqueues frame on the target connection's send channel. A missing
// connection (already disconnected) is not an error: the caller treats it
// the same as "no other member exists."
func (h *hub) sendTo(id types.ConnectionID, frame any) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.enqueue(marshalFrame(frame))
}
