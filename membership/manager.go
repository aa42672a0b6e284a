package membership

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"watchroom-server/domain"
	"watchroom-server/room"
)

const maxUsernameLength = 32

type session struct {
	roomID string
	viewer domain.Viewer
}

// Departure describes a viewer that left a room.
type Departure struct {
	RoomID string
	Viewer domain.Viewer
	Count  int
}

type Arrival struct {
	Viewer domain.Viewer
	Count  int
	// Added is false when the connection was already in the room.
	Added bool
	// Previous is set when joining moved the connection out of another room.
	Previous *Departure
}

// Manager tracks which room each connection belongs to. Lock order is
// Manager.mu, then the room's own lock.
type Manager struct {
	rooms    *room.Registry
	sessions map[string]session
	mu       sync.Mutex
}

func New(rooms *room.Registry) *Manager {
	return &Manager{
		rooms:    rooms,
		sessions: make(map[string]session),
	}
}

func (m *Manager) Join(roomID, connID, username string, now time.Time) (Arrival, error) {
	r, err := m.rooms.Get(roomID)
	if err != nil {
		return Arrival{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var previous *Departure
	if s, ok := m.sessions[connID]; ok {
		if s.roomID == roomID {
			return Arrival{Viewer: s.viewer, Count: r.ViewerCount()}, nil
		}
		if d, removed := m.leaveLocked(s.roomID, connID); removed {
			previous = &d
		}
	}

	v := domain.Viewer{ID: connID, Username: normalizeUsername(username, connID), JoinedAt: now}
	count, added, err := r.AddViewer(v)
	if err != nil {
		return Arrival{Previous: previous}, err
	}
	m.sessions[connID] = session{roomID: roomID, viewer: v}

	slog.Info("viewer joined", "roomId", roomID, "clientId", connID, "username", v.Username, "viewers", count)
	return Arrival{Viewer: v, Count: count, Added: added, Previous: previous}, nil
}

// Leave removes the connection from roomID. Leaving a room the connection is
// not in is a no-op.
func (m *Manager) Leave(roomID, connID string) (Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok || s.roomID != roomID {
		return Departure{}, false
	}
	return m.leaveLocked(roomID, connID)
}

// Disconnect removes the connection from whatever room it is in.
func (m *Manager) Disconnect(connID string) (Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok {
		return Departure{}, false
	}
	return m.leaveLocked(s.roomID, connID)
}

func (m *Manager) leaveLocked(roomID, connID string) (Departure, bool) {
	delete(m.sessions, connID)

	r, err := m.rooms.Get(roomID)
	if err != nil {
		return Departure{}, false
	}
	v, removed, count := r.RemoveViewer(connID)
	if !removed {
		return Departure{}, false
	}

	slog.Info("viewer left", "roomId", roomID, "clientId", connID, "viewers", count)
	return Departure{RoomID: roomID, Viewer: v, Count: count}, true
}

// Evict forgets every connection bound to roomID and returns their ids. Used
// when a room is deleted.
func (m *Manager) Evict(roomID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []string
	for connID, s := range m.sessions {
		if s.roomID == roomID {
			evicted = append(evicted, connID)
			delete(m.sessions, connID)
		}
	}
	return evicted
}

func (m *Manager) Roster(roomID string) ([]domain.Viewer, error) {
	r, err := m.rooms.Get(roomID)
	if err != nil {
		return nil, err
	}
	return r.Roster()
}

// Members returns the connection ids currently in roomID.
func (m *Manager) Members(roomID string) []string {
	roster, err := m.Roster(roomID)
	if err != nil {
		return nil
	}
	return lo.Map(roster, func(v domain.Viewer, _ int) string {
		return v.ID
	})
}

func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	return s.roomID, ok
}

func (m *Manager) Viewer(connID string) (domain.Viewer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	return s.viewer, ok
}

// Stats reports the number of rooms with at least one viewer and the number
// of viewers overall.
func (m *Manager) Stats() (rooms, viewers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := lo.MapToSlice(m.sessions, func(_ string, s session) string {
		return s.roomID
	})
	return len(lo.Uniq(ids)), len(m.sessions)
}

func normalizeUsername(name, connID string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		short := connID
		if len(short) > 6 {
			short = short[:6]
		}
		return "Viewer-" + short
	}
	if utf8.RuneCountInString(name) > maxUsernameLength {
		name = string([]rune(name)[:maxUsernameLength])
	}
	return name
}
