package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidState  = errors.New("invalid state")
	ErrStaleUpdate   = errors.New("stale update")
)

// Anchor is the authoritative playback state of a room. Position is valid as of
// LastUpdate; the value is always replaced as a whole.
type Anchor struct {
	IsPlaying  bool      `json:"isPlaying"`
	Position   float64   `json:"position"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// AnchorUpdate carries the fields to merge into an anchor. Nil fields keep their
// current value.
type AnchorUpdate struct {
	IsPlaying *bool
	Position  *float64
}

type Viewer struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Reaction struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

// Source is one playable rendition of a media item.
type Source struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

type Connection interface {
	ID() string
	Privileged() bool
	Send(data []byte) error
	Close() error
}

type Broadcaster interface {
	Register(conn Connection)
	Unregister(conn Connection)
	Broadcast(roomID string, data []byte, exclude string)
	SendTo(connID string, data []byte) bool
	Stats() (rooms, clients int)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
	Disconnect(conn Connection)
}
