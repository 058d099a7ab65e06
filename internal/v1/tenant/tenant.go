// Package tenant implements the Tenant Store interface: looking up a tenant
// by identifier and verifying a presented secret in constant time.
package tenant

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sort"
	"sync"
	"time"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
)

// Tenant is a third-party application embedding the platform. The secret is
// never echoed back to callers after creation.
type Tenant struct {
	ID        string
	Name      string
	Secret    string
	CreatedAt time.Time
}

// Store is the interface consumed by the Grant Issuer and REST handlers.
// The core does not specify the backing store; any implementation satisfying
// these two operations suffices.
type Store interface {
	// Lookup fetches a tenant by id. Returns apierr with KindNotFound if
	// absent.
	Lookup(ctx context.Context, tenantID string) (Tenant, error)
	// VerifySecret fetches the tenant and compares the presented secret in
	// constant time. Returns apierr with KindUnauthorized on any mismatch,
	// including a tenant that doesn't exist (never distinguishes the two to
	// the caller).
	VerifySecret(ctx context.Context, tenantID, presentedSecret string) (Tenant, error)
	// Create registers a new tenant. Used by the REST POST /apps handler.
	Create(ctx context.Context, name string) (Tenant, error)
	// List returns all tenants, oldest first.
	List(ctx context.Context) ([]Tenant, error)
}

// randomSecret generates a high-entropy, URL-safe tenant secret.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MemoryStore is the reference in-process implementation, suitable for
// single-node deployments and tests. Keyed by tenant id, guarded by a
// sync.RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Tenant
	idGen   func() string
	nowFunc func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore. idGen generates new tenant
// ids; pass a real generator (e.g. wrapping google/uuid) in production.
func NewMemoryStore(idGen func() string) *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Tenant),
		idGen:   idGen,
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, name string) (Tenant, error) {
	secret, err := randomSecret()
	if err != nil {
		return Tenant{}, apierr.Wrap(apierr.KindInternal, apierr.CodeInternal, "failed to generate tenant secret", err)
	}

	t := Tenant{
		ID:        s.idGen(),
		Name:      name,
		Secret:    secret,
		CreatedAt: s.nowFunc().UTC(),
	}

	s.mu.Lock()
	s.byID[t.ID] = t
	s.mu.Unlock()

	return t, nil
}

func (s *MemoryStore) Lookup(ctx context.Context, tenantID string) (Tenant, error) {
	s.mu.RLock()
	t, ok := s.byID[tenantID]
	s.mu.RUnlock()
	if !ok {
		return Tenant{}, apierr.New(apierr.KindNotFound, apierr.CodeNotFound, "tenant not found")
	}
	return t, nil
}

func (s *MemoryStore) VerifySecret(ctx context.Context, tenantID, presentedSecret string) (Tenant, error) {
	s.mu.RLock()
	t, ok := s.byID[tenantID]
	s.mu.RUnlock()

	if !ok {
		// Still perform a comparison against a fixed-length dummy so lookup
		// failure and secret mismatch take the same amount of time.
		subtle.ConstantTimeCompare([]byte(presentedSecret), make([]byte, len(presentedSecret)))
		return Tenant{}, apierr.New(apierr.KindUnauthorized, apierr.CodeInvalidToken, "unauthorized")
	}

	if subtle.ConstantTimeCompare([]byte(t.Secret), []byte(presentedSecret)) != 1 {
		return Tenant{}, apierr.New(apierr.KindUnauthorized, apierr.CodeInvalidToken, "unauthorized")
	}

	return t, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Tenant, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
