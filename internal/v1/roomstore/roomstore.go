// Package roomstore implements the Room lookup contract consumed by the
// Grant Issuer and by the REST room-listing endpoints.
package roomstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
)

const defaultMaxParticipants = 2

// Room is a call container owned by exactly one tenant.
type Room struct {
	ID              string
	TenantID        string
	Name            string
	MaxParticipants int
	CreatedAt       time.Time
}

// Store is the interface consumed by the Grant Issuer's precondition check
// and by the REST `GET /rooms` / `GET /rooms/:roomId` handlers.
type Store interface {
	// Get fetches a room scoped to its owning tenant. Returns apierr with
	// KindNotFound if absent or owned by a different tenant.
	Get(ctx context.Context, tenantID, roomID string) (Room, error)
	// Create registers a new room under tenantID.
	Create(ctx context.Context, tenantID, name string, maxParticipants int) (Room, error)
	// List returns every room owned by tenantID, oldest first.
	List(ctx context.Context, tenantID string) ([]Room, error)
}

// MemoryStore is the reference in-process implementation. Rooms are keyed
// globally by id; tenant scoping is enforced on every read.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Room
	idGen   func() string
	nowFunc func() time.Time
}

func NewMemoryStore(idGen func() string) *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Room),
		idGen:   idGen,
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, tenantID, name string, maxParticipants int) (Room, error) {
	if maxParticipants <= 0 {
		maxParticipants = defaultMaxParticipants
	}

	r := Room{
		ID:              s.idGen(),
		TenantID:        tenantID,
		Name:            name,
		MaxParticipants: maxParticipants,
		CreatedAt:       s.nowFunc().UTC(),
	}

	s.mu.Lock()
	s.byID[r.ID] = r
	s.mu.Unlock()

	return r, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, roomID string) (Room, error) {
	s.mu.RLock()
	r, ok := s.byID[roomID]
	s.mu.RUnlock()

	if !ok || r.TenantID != tenantID {
		return Room{}, apierr.New(apierr.KindNotFound, apierr.CodeNotFound, "room not found")
	}
	return r, nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID string) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Room, 0)
	for _, r := range s.byID {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
