package membership

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchroom-server/domain"
	"watchroom-server/room"
)

var now = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func setup(t *testing.T, ids ...string) (*Manager, *room.Registry) {
	t.Helper()
	rooms := room.NewRegistry(room.Defaults{})
	for _, id := range ids {
		_, err := rooms.Create(id, room.Options{})
		require.NoError(t, err)
	}
	return New(rooms), rooms
}

func TestManager_Join(t *testing.T) {
	m, _ := setup(t, "r1")

	a, err := m.Join("r1", "conn-abcdef123", "alice", now)
	require.NoError(t, err)
	assert.True(t, a.Added)
	assert.Equal(t, 1, a.Count)
	assert.Equal(t, domain.Viewer{ID: "conn-abcdef123", Username: "alice", JoinedAt: now}, a.Viewer)
	assert.Nil(t, a.Previous)

	roomID, ok := m.RoomOf("conn-abcdef123")
	assert.True(t, ok)
	assert.Equal(t, "r1", roomID)

	_, err = m.Join("missing", "conn-2", "bob", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, ok = m.RoomOf("conn-2")
	assert.False(t, ok)
}

func TestManager_JoinDefaultsUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		connID   string
		want     string
	}{
		{name: "empty", username: "", connID: "1234567890", want: "Viewer-123456"},
		{name: "blank", username: "   ", connID: "abcdefgh", want: "Viewer-abcdef"},
		{name: "short conn id", username: "", connID: "ab", want: "Viewer-ab"},
		{name: "trimmed", username: "  carol ", connID: "x", want: "carol"},
		{name: "capped", username: "abcdefghijklmnopqrstuvwxyz0123456789", connID: "x", want: "abcdefghijklmnopqrstuvwxyz012345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := setup(t, "r1")
			a, err := m.Join("r1", tt.connID, tt.username, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Viewer.Username)
		})
	}
}

func TestManager_JoinTwiceSameRoom(t *testing.T) {
	m, _ := setup(t, "r1")

	_, err := m.Join("r1", "c1", "alice", now)
	require.NoError(t, err)
	a, err := m.Join("r1", "c1", "alice again", now.Add(time.Second))
	require.NoError(t, err)

	assert.False(t, a.Added)
	assert.Equal(t, 1, a.Count)
	assert.Equal(t, "alice", a.Viewer.Username)
}

func TestManager_JoinMovesBetweenRooms(t *testing.T) {
	m, _ := setup(t, "r1", "r2")

	_, err := m.Join("r1", "c1", "alice", now)
	require.NoError(t, err)
	_, err = m.Join("r1", "c2", "bob", now)
	require.NoError(t, err)

	a, err := m.Join("r2", "c1", "alice", now)
	require.NoError(t, err)
	require.NotNil(t, a.Previous)
	assert.Equal(t, "r1", a.Previous.RoomID)
	assert.Equal(t, 1, a.Previous.Count)

	assert.Equal(t, []string{"c2"}, m.Members("r1"))
	assert.Equal(t, []string{"c1"}, m.Members("r2"))
}

func TestManager_LeaveIdempotent(t *testing.T) {
	m, _ := setup(t, "r1")

	_, ok := m.Leave("r1", "never-joined")
	assert.False(t, ok)

	_, err := m.Join("r1", "c1", "alice", now)
	require.NoError(t, err)
	_, err = m.Join("r1", "c2", "bob", now)
	require.NoError(t, err)

	d, ok := m.Leave("r1", "c1")
	assert.True(t, ok)
	assert.Equal(t, "alice", d.Viewer.Username)
	assert.Equal(t, 1, d.Count)

	_, ok = m.Leave("r1", "c1")
	assert.False(t, ok)
	_, ok = m.Disconnect("c1")
	assert.False(t, ok)

	roster, err := m.Roster("r1")
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}

func TestManager_LeaveWrongRoomIsNoop(t *testing.T) {
	m, _ := setup(t, "r1", "r2")
	_, err := m.Join("r1", "c1", "alice", now)
	require.NoError(t, err)

	_, ok := m.Leave("r2", "c1")
	assert.False(t, ok)
	assert.Equal(t, []string{"c1"}, m.Members("r1"))
}

func TestManager_Disconnect(t *testing.T) {
	m, _ := setup(t, "r1")
	_, err := m.Join("r1", "c1", "alice", now)
	require.NoError(t, err)

	d, ok := m.Disconnect("c1")
	assert.True(t, ok)
	assert.Equal(t, "r1", d.RoomID)
	assert.Equal(t, 0, d.Count)
	assert.Empty(t, m.Members("r1"))
}

func TestManager_DeletedRoom(t *testing.T) {
	m, rooms := setup(t, "r1")
	_, err := m.Join("r1", "c1", "alice", now)
	require.NoError(t, err)
	_, err = m.Join("r1", "c2", "bob", now)
	require.NoError(t, err)

	require.NoError(t, rooms.Delete("r1"))
	evicted := m.Evict("r1")
	assert.ElementsMatch(t, []string{"c1", "c2"}, evicted)

	_, ok := m.Disconnect("c1")
	assert.False(t, ok)
	assert.Nil(t, m.Members("r1"))
}

func TestManager_ConcurrentJoins(t *testing.T) {
	m, _ := setup(t, "r1")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Join("r1", fmt.Sprintf("conn-%d", i), "", now)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	roster, err := m.Roster("r1")
	require.NoError(t, err)
	assert.Len(t, roster, n)

	ids := make(map[string]struct{}, n)
	for _, v := range roster {
		ids[v.ID] = struct{}{}
	}
	assert.Len(t, ids, n)

	rooms, viewers := m.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, n, viewers)
}
