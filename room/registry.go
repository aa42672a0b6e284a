package room

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"watchroom-server/domain"
	"watchroom-server/metrics"
)

const (
	DefaultSyncTolerance = 2 * time.Second
	DefaultChatLimit     = 200
	DefaultReactionLimit = 50
)

type Defaults struct {
	SyncTolerance time.Duration
	ChatLimit     int
	ReactionLimit int
}

type Options struct {
	Name    string
	MediaID string
	Sources []domain.Source
	// Anchor seeds the playback state; nil starts paused at zero.
	Anchor        *domain.Anchor
	SyncTolerance time.Duration
	CreatedAt     time.Time
}

// Registry owns every room in the process. The map is guarded by mu; each
// room guards its own state.
type Registry struct {
	rooms    map[string]*Room
	defaults Defaults
	mu       sync.RWMutex
}

func NewRegistry(d Defaults) *Registry {
	if d.SyncTolerance <= 0 {
		d.SyncTolerance = DefaultSyncTolerance
	}
	if d.ChatLimit <= 0 {
		d.ChatLimit = DefaultChatLimit
	}
	if d.ReactionLimit <= 0 {
		d.ReactionLimit = DefaultReactionLimit
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		defaults: d,
	}
}

func (g *Registry) Create(id string, opts Options) (*Room, error) {
	createdAt := opts.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	tolerance := opts.SyncTolerance
	if tolerance <= 0 {
		tolerance = g.defaults.SyncTolerance
	}
	anchor := domain.Anchor{LastUpdate: createdAt}
	if opts.Anchor != nil {
		anchor = *opts.Anchor
		anchor.Position = clampPosition(anchor.Position)
	}

	r := &Room{
		id:            id,
		name:          opts.Name,
		mediaID:       opts.MediaID,
		sources:       append([]domain.Source(nil), opts.Sources...),
		createdAt:     createdAt,
		syncTolerance: tolerance,
		chatLimit:     g.defaults.ChatLimit,
		reactionLimit: g.defaults.ReactionLimit,
		anchor:        anchor,
	}

	g.mu.Lock()
	if _, exists := g.rooms[id]; exists {
		g.mu.Unlock()
		return nil, fmt.Errorf("room %q: %w", id, domain.ErrAlreadyExists)
	}
	g.rooms[id] = r
	count := len(g.rooms)
	g.mu.Unlock()

	metrics.Rooms.Set(float64(count))
	slog.Info("room created", "roomId", id, "mediaId", opts.MediaID, "rooms", count)
	return r, nil
}

func (g *Registry) Get(id string) (*Room, error) {
	g.mu.RLock()
	r, exists := g.rooms[id]
	g.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("room %q: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

// Delete removes the room and closes it, so any *Room still held elsewhere
// stops accepting reads and writes.
func (g *Registry) Delete(id string) error {
	g.mu.Lock()
	r, exists := g.rooms[id]
	if exists {
		delete(g.rooms, id)
	}
	count := len(g.rooms)
	g.mu.Unlock()

	if !exists {
		return fmt.Errorf("room %q: %w", id, domain.ErrNotFound)
	}
	r.close()
	metrics.Rooms.Set(float64(count))
	slog.Info("room deleted", "roomId", id, "rooms", count)
	return nil
}

// UpdateAnchor merges upd into a fresh anchor stamped with now. An update older
// than the stored anchor is refused with domain.ErrStaleUpdate.
func (g *Registry) UpdateAnchor(id string, upd domain.AnchorUpdate, now time.Time) (domain.Anchor, error) {
	r, err := g.Get(id)
	if err != nil {
		return domain.Anchor{}, err
	}
	return r.applyAnchor(upd, now)
}

// Snapshot returns the rooms alive at call time, oldest first.
func (g *Registry) Snapshot() []*Room {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].createdAt.Equal(rooms[j].createdAt) {
			return rooms[i].id < rooms[j].id
		}
		return rooms[i].createdAt.Before(rooms[j].createdAt)
	})
	return rooms
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
