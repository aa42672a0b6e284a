package hub

import (
	"log/slog"
	"sync"

	"watchroom-server/domain"
	"watchroom-server/metrics"
)

// Directory resolves which connections are in a room.
type Directory interface {
	Members(roomID string) []string
	Stats() (rooms, viewers int)
}

// Hub is the set of live connections. Room membership comes from the
// Directory, so the roster has a single owner.
type Hub struct {
	clients   map[string]domain.Connection
	directory Directory
	mu        sync.RWMutex
}

func New(directory Directory) *Hub {
	return &Hub{
		clients:   make(map[string]domain.Connection),
		directory: directory,
	}
}

func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	h.clients[conn.ID()] = conn
	count := len(h.clients)
	h.mu.Unlock()

	metrics.Connections.Set(float64(count))
	slog.Info("client connected", "clientId", conn.ID(), "privileged", conn.Privileged(), "clients", count)
}

func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	current, exists := h.clients[conn.ID()]
	if exists && current == conn {
		delete(h.clients, conn.ID())
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !exists {
		return
	}
	metrics.Connections.Set(float64(count))
	slog.Info("client disconnected", "clientId", conn.ID(), "clients", count)
}

// Broadcast queues data on every member of roomID except exclude. A member
// whose queue is full is closed; its disconnect path cleans up membership.
func (h *Hub) Broadcast(roomID string, data []byte, exclude string) {
	ids := h.directory.Members(roomID)
	if len(ids) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range ids {
		if id == exclude {
			continue
		}
		conn, ok := h.clients[id]
		if !ok {
			continue
		}
		if err := conn.Send(data); err != nil {
			slog.Warn("dropping slow client", "roomId", roomID, "clientId", id, "error", err)
			go func(c domain.Connection) {
				c.Close()
			}(conn)
		}
	}
}

func (h *Hub) SendTo(connID string, data []byte) bool {
	h.mu.RLock()
	conn, ok := h.clients[connID]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	if err := conn.Send(data); err != nil {
		go conn.Close()
		return false
	}
	return true
}

func (h *Hub) Stats() (rooms, clients int) {
	rooms, _ = h.directory.Stats()

	h.mu.RLock()
	defer h.mu.RUnlock()
	return rooms, len(h.clients)
}
