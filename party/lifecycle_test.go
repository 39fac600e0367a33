package party

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movieparty/server/store"
)

func TestCreatePartyRegistersRoomAndRecord(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	go reg.Run()
	t.Cleanup(reg.Close)
	parties := store.NewMemPartyStore()
	lc := NewLifecycle(reg, parties, store.NewMemChatStore(), DefaultOptions(), zerolog.Nop())

	info, err := lc.CreateParty("https://example.com/movie.mp4", "file")
	require.NoError(t, err)
	assert.Len(t, info.Code, partyCodeLength)
	assert.NotEmpty(t, info.LeaderToken)
	assert.NotEmpty(t, info.ViewerToken)
	assert.NotEqual(t, info.LeaderToken, info.ViewerToken)

	room, err := reg.Lookup(info.Code)
	require.NoError(t, err)
	assert.True(t, room.CheckLeaderKey(info.LeaderToken))
	assert.True(t, room.CheckViewerKey(info.ViewerToken))
	assert.False(t, room.CheckLeaderKey(info.ViewerToken))

	p, err := parties.Get(info.Code)
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, "https://example.com/movie.mp4", p.VideoURL)
	assert.Equal(t, "file", p.VideoKind)
}

func TestCreatePartyCodesAreDistinct(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	go reg.Run()
	t.Cleanup(reg.Close)
	lc := NewLifecycle(reg, store.NewMemPartyStore(), nil, DefaultOptions(), zerolog.Nop())

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		info, err := lc.CreateParty("", "")
		require.NoError(t, err)
		_, dup := seen[info.Code]
		require.False(t, dup, "code %s issued twice", info.Code)
		seen[info.Code] = struct{}{}
	}
	assert.Equal(t, 20, reg.Len())
}

func TestCreatePartyRollsBackRecordOnRegistrationFailure(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.Close() // no Run loop will ever accept the room
	parties := store.NewMemPartyStore()
	lc := NewLifecycle(reg, parties, nil, DefaultOptions(), zerolog.Nop())

	_, err := lc.CreateParty("", "")
	require.Error(t, err)

	// the record created ahead of registration must not stay active
	active, err := parties.Active()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEndParty(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	go reg.Run()
	t.Cleanup(reg.Close)
	parties := store.NewMemPartyStore()
	lc := NewLifecycle(reg, parties, nil, DefaultOptions(), zerolog.Nop())

	info, err := lc.CreateParty("", "")
	require.NoError(t, err)

	assert.Equal(t, ErrPartyNotFound, lc.EndParty("NOSUCH", info.LeaderToken))
	assert.Equal(t, ErrForbidden, lc.EndParty(info.Code, info.ViewerToken))
	require.NoError(t, lc.EndParty(info.Code, info.LeaderToken))

	require.Eventually(t, func() bool {
		_, err := reg.Lookup(info.Code)
		return err == ErrPartyEnded
	}, time.Second, 10*time.Millisecond)

	// the code stays burnt after termination
	assert.Equal(t, ErrPartyEnded, lc.EndParty(info.Code, info.LeaderToken))

	p, err := parties.Get(info.Code)
	require.NoError(t, err)
	assert.False(t, p.IsActive)
}
