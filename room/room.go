package room

import (
	"fmt"
	"math"
	"sync"
	"time"

	"watchroom-server/domain"
)

// Room is a synchronized viewing session. All mutable state sits behind mu; a
// closed room answers every call with domain.ErrNotFound.
type Room struct {
	id            string
	name          string
	mediaID       string
	sources       []domain.Source
	createdAt     time.Time
	syncTolerance time.Duration
	chatLimit     int
	reactionLimit int

	mu            sync.RWMutex
	closed        bool
	anchor        domain.Anchor
	viewers       []domain.Viewer
	messages      []domain.ChatMessage
	reactions     []domain.Reaction
	lastHeartbeat time.Time
}

// State is a consistent read of a room taken under a single lock.
type State struct {
	ID            string
	Name          string
	MediaID       string
	Sources       []domain.Source
	Anchor        domain.Anchor
	SyncTolerance time.Duration
	Viewers       []domain.Viewer
	Messages      []domain.ChatMessage
	Reactions     []domain.Reaction
	CreatedAt     time.Time
	LastHeartbeat time.Time
}

func (r *Room) ID() string                   { return r.id }
func (r *Room) Name() string                 { return r.name }
func (r *Room) MediaID() string              { return r.mediaID }
func (r *Room) CreatedAt() time.Time         { return r.createdAt }
func (r *Room) SyncTolerance() time.Duration { return r.syncTolerance }

func (r *Room) notFound() error {
	return fmt.Errorf("room %q: %w", r.id, domain.ErrNotFound)
}

func (r *Room) Anchor() (domain.Anchor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return domain.Anchor{}, r.notFound()
	}
	return r.anchor, nil
}

func (r *Room) applyAnchor(upd domain.AnchorUpdate, now time.Time) (domain.Anchor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.Anchor{}, r.notFound()
	}
	if now.Before(r.anchor.LastUpdate) {
		return r.anchor, fmt.Errorf("room %q at %s before %s: %w",
			r.id, now.Format(time.RFC3339Nano), r.anchor.LastUpdate.Format(time.RFC3339Nano), domain.ErrStaleUpdate)
	}

	next := domain.Anchor{
		IsPlaying:  r.anchor.IsPlaying,
		Position:   r.anchor.Position,
		LastUpdate: now,
	}
	if upd.IsPlaying != nil {
		next.IsPlaying = *upd.IsPlaying
	}
	if upd.Position != nil {
		next.Position = clampPosition(*upd.Position)
	}
	r.anchor = next
	return next, nil
}

// AddViewer appends v to the roster. A viewer already present keeps its slot.
func (r *Room) AddViewer(v domain.Viewer) (count int, added bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, false, r.notFound()
	}
	for _, existing := range r.viewers {
		if existing.ID == v.ID {
			return len(r.viewers), false, nil
		}
	}
	r.viewers = append(r.viewers, v)
	return len(r.viewers), true, nil
}

// RemoveViewer drops the viewer with the given connection id, if present.
func (r *Room) RemoveViewer(connID string) (domain.Viewer, bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.viewers {
		if v.ID == connID {
			r.viewers = append(r.viewers[:i:i], r.viewers[i+1:]...)
			return v, true, len(r.viewers)
		}
	}
	return domain.Viewer{}, false, len(r.viewers)
}

func (r *Room) Roster() ([]domain.Viewer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, r.notFound()
	}
	return append([]domain.Viewer(nil), r.viewers...), nil
}

func (r *Room) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

func (r *Room) AppendMessage(m domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.notFound()
	}
	r.messages = appendBounded(r.messages, m, r.chatLimit)
	return nil
}

func (r *Room) Messages() []domain.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.ChatMessage(nil), r.messages...)
}

func (r *Room) AppendReaction(re domain.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.notFound()
	}
	r.reactions = appendBounded(r.reactions, re, r.reactionLimit)
	return nil
}

func (r *Room) Reactions() []domain.Reaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Reaction(nil), r.reactions...)
}

func (r *Room) MarkHeartbeat(t time.Time) {
	r.mu.Lock()
	r.lastHeartbeat = t
	r.mu.Unlock()
}

func (r *Room) LastHeartbeat() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHeartbeat
}

func (r *Room) State() (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return State{}, r.notFound()
	}
	return State{
		ID:            r.id,
		Name:          r.name,
		MediaID:       r.mediaID,
		Sources:       append([]domain.Source(nil), r.sources...),
		Anchor:        r.anchor,
		SyncTolerance: r.syncTolerance,
		Viewers:       append([]domain.Viewer(nil), r.viewers...),
		Messages:      append([]domain.ChatMessage(nil), r.messages...),
		Reactions:     append([]domain.Reaction(nil), r.reactions...),
		CreatedAt:     r.createdAt,
		LastHeartbeat: r.lastHeartbeat,
	}, nil
}

func (r *Room) close() {
	r.mu.Lock()
	r.closed = true
	r.viewers = nil
	r.mu.Unlock()
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		n := copy(s, s[len(s)-limit:])
		clear(s[n:])
		s = s[:n]
	}
	return s
}

func clampPosition(p float64) float64 {
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	return p
}
