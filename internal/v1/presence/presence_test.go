package presence

import (
	"sort"
	"sync"
	"testing"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
	"github.com/pairhub/signaling-core/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegister_DuplicateFails(t *testing.T) {
	r := New()
	_, err := r.Register("c1")
	require.NoError(t, err)

	_, err = r.Register("c1")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindInternal, apiErr.Kind)
}

func TestAdmit_FirstAdmissionCreatesRoom(t *testing.T) {
	r := New()
	_, err := r.Register("c1")
	require.NoError(t, err)

	result, err := r.Admit("c1", "room-1", "alice", "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, result.ExistingMembers)
}

func TestAdmit_SecondMemberSeesFirst(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, _ = r.Register("c2")

	_, err := r.Admit("c1", "room-1", "alice", "tenant-1")
	require.NoError(t, err)

	result, err := r.Admit("c2", "room-1", "bob", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []types.ConnectionID{"c1"}, result.ExistingMembers)
}

func TestAdmit_RoomFull(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, _ = r.Register("c2")
	_, _ = r.Register("c3")

	_, err := r.Admit("c1", "room-1", "alice", "tenant-1")
	require.NoError(t, err)
	_, err = r.Admit("c2", "room-1", "bob", "tenant-1")
	require.NoError(t, err)

	_, err = r.Admit("c3", "room-1", "carol", "tenant-1")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindRoomFull, apiErr.Kind)
}

func TestAdmit_TenantMismatchTakesPrecedenceOverRoomFull(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, _ = r.Register("c2")
	_, _ = r.Register("c3")

	_, err := r.Admit("c1", "room-1", "alice", "tenant-1")
	require.NoError(t, err)
	_, err = r.Admit("c2", "room-1", "bob", "tenant-1")
	require.NoError(t, err)

	// room-1 is both full AND pinned to tenant-1; c3 presents tenant-2.
	_, err = r.Admit("c3", "room-1", "eve", "tenant-2")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindForbidden, apiErr.Kind)
	assert.Equal(t, apierr.CodeTenantMismatch, apiErr.Code)
}

func TestAdmit_AlreadyAdmitted(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, err := r.Admit("c1", "room-1", "alice", "tenant-1")
	require.NoError(t, err)

	_, err = r.Admit("c1", "room-2", "alice", "tenant-1")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)
}

func TestAdmit_NoPeerRecord(t *testing.T) {
	r := New()
	_, err := r.Admit("ghost", "room-1", "alice", "tenant-1")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindInternal, apiErr.Kind)
}

func TestLeave_RemovesFromRoomAndReturnsRemaining(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, _ = r.Register("c2")
	_, _ = r.Admit("c1", "room-1", "alice", "tenant-1")
	_, _ = r.Admit("c2", "room-1", "bob", "tenant-1")

	result, ok := r.Leave("c2")
	require.True(t, ok)
	assert.Equal(t, types.RoomID("room-1"), result.RoomID)
	assert.Equal(t, []types.ConnectionID{"c1"}, result.RemainingMembers)
}

func TestLeave_EmptyRoomIsRemoved(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, _ = r.Admit("c1", "room-1", "alice", "tenant-1")

	_, ok := r.Leave("c1")
	require.True(t, ok)

	// Room should be gone: a fresh admission recreates it with zero
	// existing members.
	_, _ = r.Register("c2")
	result, err := r.Admit("c2", "room-1", "bob", "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, result.ExistingMembers)
}

func TestLeave_UnadmittedPeerReturnsNone(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")

	_, ok := r.Leave("c1")
	assert.False(t, ok)
}

func TestDropConnection_RemovesPeerRecord(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, _ = r.Admit("c1", "room-1", "alice", "tenant-1")

	result, ok := r.DropConnection("c1")
	require.True(t, ok)
	assert.Equal(t, types.UserID("alice"), result.UserID)

	// Re-registering the same id must now succeed (record was removed).
	_, err := r.Register("c1")
	require.NoError(t, err)
}

func TestPeersOf(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, _ = r.Register("c2")
	_, _ = r.Admit("c1", "room-1", "alice", "tenant-1")
	_, _ = r.Admit("c2", "room-1", "bob", "tenant-1")

	peers := r.PeersOf("c1")
	assert.Equal(t, []types.ConnectionID{"c2"}, peers)
}

func TestUsersOf(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, _ = r.Register("c2")
	_, _ = r.Admit("c1", "room-1", "alice", "tenant-1")
	_, _ = r.Admit("c2", "room-1", "bob", "tenant-1")

	users := r.UsersOf("room-1")
	got := []string{string(users[0]), string(users[1])}
	sort.Strings(got)
	assert.Equal(t, []string{"alice", "bob"}, got)
}

func TestUsersOf_RoundTripLaw(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")

	before := r.UsersOf("room-1")
	assert.Empty(t, before)

	_, err := r.Admit("c1", "room-1", "alice", "tenant-1")
	require.NoError(t, err)

	after := r.UsersOf("room-1")
	assert.Equal(t, []types.UserID{"alice"}, after)
}

// TestAdmit_ConcurrentRaceForLastSeat exercises invariant 3 and the
// tie-break rule under concurrent admission attempts for the second seat of
// a two-seat room: exactly one succeeds, the other fails room-full.
func TestAdmit_ConcurrentRaceForLastSeat(t *testing.T) {
	r := New()
	_, _ = r.Register("c1")
	_, err := r.Admit("c1", "room-1", "alice", "tenant-1")
	require.NoError(t, err)

	const contenders = 8
	var wg sync.WaitGroup
	successes := make(chan types.ConnectionID, contenders)

	for i := 0; i < contenders; i++ {
		id := types.ConnectionID(string(rune('a' + i)))
		_, _ = r.Register(id)
		wg.Add(1)
		go func(connID types.ConnectionID) {
			defer wg.Done()
			if _, err := r.Admit(connID, "room-1", "contender", "tenant-1"); err == nil {
				successes <- connID
			}
		}(id)
	}

	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "exactly one contender should win the last seat")
}
