package playback

import (
	"errors"
	"fmt"
	"math"
	"time"

	"watchroom-server/clock"
	"watchroom-server/domain"
	"watchroom-server/room"
)

var ErrInvalidPosition = errors.New("position must be a finite number")

type Kind string

const (
	KindPlay  Kind = "play"
	KindPause Kind = "pause"
	KindSeek  Kind = "seek"
)

// Transition is the result of an applied transport-control event.
type Transition struct {
	Kind   Kind
	RoomID string
	Anchor domain.Anchor
}

// Status answers a sync request.
type Status struct {
	IsPlaying bool
	Position  float64
	At        time.Time
}

// Controller applies play/pause/seek to a room's anchor. It performs no
// authorization; callers gate privileged events themselves.
type Controller struct {
	rooms *room.Registry
}

func NewController(rooms *room.Registry) *Controller {
	return &Controller{rooms: rooms}
}

func (c *Controller) Play(roomID string, position float64, now time.Time) (Transition, error) {
	playing := true
	return c.apply(KindPlay, roomID, domain.AnchorUpdate{IsPlaying: &playing, Position: &position}, now)
}

func (c *Controller) Pause(roomID string, position float64, now time.Time) (Transition, error) {
	playing := false
	return c.apply(KindPause, roomID, domain.AnchorUpdate{IsPlaying: &playing, Position: &position}, now)
}

// Seek moves the position and leaves the playing flag as it is.
func (c *Controller) Seek(roomID string, position float64, now time.Time) (Transition, error) {
	return c.apply(KindSeek, roomID, domain.AnchorUpdate{Position: &position}, now)
}

func (c *Controller) RequestSync(roomID string, now time.Time) (Status, error) {
	r, err := c.rooms.Get(roomID)
	if err != nil {
		return Status{}, err
	}
	a, err := r.Anchor()
	if err != nil {
		return Status{}, err
	}
	return Status{IsPlaying: a.IsPlaying, Position: clock.Extrapolate(a, now), At: now}, nil
}

func (c *Controller) apply(kind Kind, roomID string, upd domain.AnchorUpdate, now time.Time) (Transition, error) {
	if upd.Position != nil && (math.IsNaN(*upd.Position) || math.IsInf(*upd.Position, 0)) {
		return Transition{}, fmt.Errorf("%s in room %q: %w", kind, roomID, ErrInvalidPosition)
	}
	a, err := c.rooms.UpdateAnchor(roomID, upd, now)
	if err != nil {
		return Transition{}, fmt.Errorf("%s: %w", kind, err)
	}
	return Transition{Kind: kind, RoomID: roomID, Anchor: a}, nil
}
