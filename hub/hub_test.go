package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	id       string
	received [][]byte
	closed   bool
	mu       sync.Mutex
	sendErr  error
}

func (m *mockConn) ID() string       { return m.id }
func (m *mockConn) Privileged() bool { return false }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeDirectory struct {
	rooms map[string][]string
}

func (f *fakeDirectory) Members(roomID string) []string { return f.rooms[roomID] }

func (f *fakeDirectory) Stats() (rooms, viewers int) {
	for _, ids := range f.rooms {
		if len(ids) > 0 {
			rooms++
			viewers += len(ids)
		}
	}
	return rooms, viewers
}

func TestHub_Broadcast(t *testing.T) {
	tests := []struct {
		name         string
		rooms        map[string][]string
		exclude      string
		wantReceived map[string]int
	}{
		{
			name:         "broadcast to room members except sender",
			rooms:        map[string][]string{"room1": {"sender", "recv1", "recv2"}},
			exclude:      "sender",
			wantReceived: map[string]int{"sender": 0, "recv1": 1, "recv2": 1},
		},
		{
			name:         "no cross-room broadcast",
			rooms:        map[string][]string{"room1": {"sender"}, "room2": {"recv1"}},
			exclude:      "sender",
			wantReceived: map[string]int{"sender": 0, "recv1": 0},
		},
		{
			name:         "no exclusion reaches everyone",
			rooms:        map[string][]string{"room1": {"sender", "recv1"}},
			wantReceived: map[string]int{"sender": 1, "recv1": 1},
		},
		{
			name:         "member without a live connection is skipped",
			rooms:        map[string][]string{"room1": {"ghost", "recv1"}},
			wantReceived: map[string]int{"recv1": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeDirectory{rooms: tt.rooms})
			conns := map[string]*mockConn{}
			for id := range tt.wantReceived {
				conns[id] = &mockConn{id: id}
				h.Register(conns[id])
			}

			h.Broadcast("room1", []byte("test message"), tt.exclude)

			for id, want := range tt.wantReceived {
				assert.Len(t, conns[id].getReceived(), want, "receiver %s", id)
			}
		})
	}
}

func TestHub_BroadcastClosesFailingClient(t *testing.T) {
	h := New(&fakeDirectory{rooms: map[string][]string{"r": {"slow", "ok"}}})
	slow := &mockConn{id: "slow", sendErr: errors.New("queue full")}
	ok := &mockConn{id: "ok"}
	h.Register(slow)
	h.Register(ok)

	h.Broadcast("r", []byte("x"), "")

	assert.Len(t, ok.getReceived(), 1)
	assert.Eventually(t, slow.isClosed, time.Second, 5*time.Millisecond)
}

func TestHub_SendTo(t *testing.T) {
	h := New(&fakeDirectory{})
	c := &mockConn{id: "c1"}
	h.Register(c)

	assert.True(t, h.SendTo("c1", []byte("hi")))
	assert.False(t, h.SendTo("c2", []byte("hi")))
	require.Len(t, c.getReceived(), 1)
	assert.Equal(t, "hi", string(c.getReceived()[0]))
}

func TestHub_Stats(t *testing.T) {
	tests := []struct {
		name        string
		rooms       map[string][]string
		conns       []string
		wantRooms   int
		wantClients int
	}{
		{
			name:        "empty hub",
			wantRooms:   0,
			wantClients: 0,
		},
		{
			name:        "connected but not joined",
			conns:       []string{"c1"},
			wantRooms:   0,
			wantClients: 1,
		},
		{
			name:        "multiple rooms",
			rooms:       map[string][]string{"r1": {"c1", "c2"}, "r2": {"c3"}},
			conns:       []string{"c1", "c2", "c3"},
			wantRooms:   2,
			wantClients: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeDirectory{rooms: tt.rooms})
			for _, id := range tt.conns {
				h.Register(&mockConn{id: id})
			}

			rooms, clients := h.Stats()

			assert.Equal(t, tt.wantRooms, rooms)
			assert.Equal(t, tt.wantClients, clients)
		})
	}
}

func TestHub_UnregisterKeepsReplacedConnection(t *testing.T) {
	h := New(&fakeDirectory{})
	first := &mockConn{id: "c1"}
	second := &mockConn{id: "c1"}
	h.Register(first)
	h.Register(second)

	h.Unregister(first)
	_, clients := h.Stats()
	assert.Equal(t, 1, clients)

	h.Unregister(second)
	_, clients = h.Stats()
	assert.Equal(t, 0, clients)
}
