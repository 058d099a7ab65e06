// Package presence implements the Presence Registry: an in-memory mapping
// of connections to peers and rooms to peer sets, with atomic join/leave/
// disconnect operations. A single sync.Mutex guards both indices; every
// operation is pure in-memory bookkeeping and never suspends while holding
// the lock.
package presence

import (
	"sync"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
	"github.com/pairhub/signaling-core/internal/v1/metrics"
	"github.com/pairhub/signaling-core/internal/v1/types"
	"k8s.io/utils/set"
)

const defaultMaxParticipants = 2

// Peer is the connection's presence projection.
type Peer struct {
	ConnectionID types.ConnectionID
	RoomID       types.RoomID // zero value until admitted
	UserID       types.UserID
	TenantID     types.TenantID
	Admitted     bool
}

type roomEntry struct {
	tenantID        types.TenantID
	members         set.Set[types.ConnectionID]
	maxParticipants int
}

// AdmitResult is returned by Admit on success.
type AdmitResult struct {
	// ExistingMembers is the list of connection-ids already in the room
	// before this admission.
	ExistingMembers []types.ConnectionID
}

// LeaveResult is returned by Leave and DropConnection when the peer was
// admitted.
type LeaveResult struct {
	RoomID           types.RoomID
	RemainingMembers []types.ConnectionID
	UserID           types.UserID // only populated by DropConnection
}

// Registry is the Presence Registry. The zero value is not usable; use New.
type Registry struct {
	mu    sync.Mutex
	peers map[types.ConnectionID]*Peer
	rooms map[types.RoomID]*roomEntry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		peers: make(map[types.ConnectionID]*Peer),
		rooms: make(map[types.RoomID]*roomEntry),
	}
}

// Register creates an unadmitted peer record. Calling twice with the same
// id is a programming error and fails with KindInternal.
func (r *Registry) Register(id types.ConnectionID) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[id]; exists {
		return nil, apierr.New(apierr.KindInternal, apierr.CodeInternal, "connection already registered")
	}

	p := &Peer{ConnectionID: id}
	r.peers[id] = p
	metrics.IncConnection()
	return p, nil
}

// Admit transitions the peer to admitted in the named room.
func (r *Registry) Admit(connID types.ConnectionID, roomID types.RoomID, userID types.UserID, tenantID types.TenantID) (AdmitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[connID]
	if !ok {
		return AdmitResult{}, apierr.New(apierr.KindInternal, apierr.CodeInternal, "no peer record for connection")
	}
	if peer.Admitted {
		return AdmitResult{}, apierr.New(apierr.KindConflict, apierr.CodeAlreadyInRoom, "connection already admitted to a room")
	}

	room, exists := r.rooms[roomID]
	if exists {
		// Tenant mismatch takes precedence over room-full: a credential
		// problem, not a capacity problem.
		if room.tenantID != tenantID {
			return AdmitResult{}, apierr.New(apierr.KindForbidden, apierr.CodeTenantMismatch, "room is pinned to a different tenant")
		}
		if room.members.Len() >= room.maxParticipants {
			return AdmitResult{}, apierr.New(apierr.KindRoomFull, apierr.CodeRoomFull, "room is at capacity")
		}
	} else {
		room = &roomEntry{
			tenantID:        tenantID,
			members:         set.New[types.ConnectionID](),
			maxParticipants: defaultMaxParticipants,
		}
		r.rooms[roomID] = room
	}

	existing := room.members.UnsortedList()

	room.members.Insert(connID)
	peer.Admitted = true
	peer.RoomID = roomID
	peer.UserID = userID
	peer.TenantID = tenantID

	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(room.members.Len()))
	metrics.ActiveRooms.Set(float64(len(r.rooms)))

	return AdmitResult{ExistingMembers: existing}, nil
}

// Leave removes the peer from its room if admitted, resets its admission
// state, and deletes the room entry if it becomes empty. Returns
// (result, true) if the peer was admitted, (zero, false) otherwise.
func (r *Registry) Leave(connID types.ConnectionID) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID)
}

func (r *Registry) leaveLocked(connID types.ConnectionID) (LeaveResult, bool) {
	peer, ok := r.peers[connID]
	if !ok || !peer.Admitted {
		return LeaveResult{}, false
	}

	roomID := peer.RoomID
	room, exists := r.rooms[roomID]
	if !exists {
		// Room was externally deleted between register and leave: reset the
		// peer and report none, without error.
		peer.Admitted = false
		peer.RoomID = ""
		return LeaveResult{}, false
	}

	room.members.Delete(connID)
	remaining := room.members.UnsortedList()

	if room.members.Len() == 0 {
		delete(r.rooms, roomID)
		metrics.RoomMembers.DeleteLabelValues(string(roomID))
	} else {
		metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(room.members.Len()))
	}
	metrics.ActiveRooms.Set(float64(len(r.rooms)))

	peer.Admitted = false
	peer.RoomID = ""

	return LeaveResult{RoomID: roomID, RemainingMembers: remaining}, true
}

// DropConnection performs Leave and then removes the peer record entirely.
func (r *Registry) DropConnection(connID types.ConnectionID) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, peerExists := r.peers[connID]
	var userID types.UserID
	if peerExists {
		userID = peer.UserID
	}

	result, wasAdmitted := r.leaveLocked(connID)
	if peerExists {
		delete(r.peers, connID)
		metrics.DecConnection()
	}

	if wasAdmitted {
		result.UserID = userID
		return result, true
	}
	return LeaveResult{}, false
}

// PeersOf returns all other members in the caller's room.
func (r *Registry) PeersOf(connID types.ConnectionID) []types.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[connID]
	if !ok || !peer.Admitted {
		return nil
	}

	room, ok := r.rooms[peer.RoomID]
	if !ok {
		return nil
	}

	out := make([]types.ConnectionID, 0, room.members.Len())
	for _, m := range room.members.UnsortedList() {
		if m != connID {
			out = append(out, m)
		}
	}
	return out
}

// UsersOf returns a snapshot of user-ids currently in the room.
func (r *Registry) UsersOf(roomID types.RoomID) []types.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	out := make([]types.UserID, 0, room.members.Len())
	for _, connID := range room.members.UnsortedList() {
		if peer, ok := r.peers[connID]; ok {
			out = append(out, peer.UserID)
		}
	}
	return out
}
