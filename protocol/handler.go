package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"watchroom-server/clock"
	"watchroom-server/domain"
	"watchroom-server/membership"
	"watchroom-server/metrics"
	"watchroom-server/playback"
	"watchroom-server/room"
)

const (
	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeForbidden      = "FORBIDDEN"
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeUnknownEvent   = "UNKNOWN_EVENT"
	CodeNotInRoom      = "NOT_IN_ROOM"
	CodeInternal       = "INTERNAL"

	DefaultMaxMessageLength = 500
	maxEmojiLength          = 16
	lockStripes             = 64
)

// Error is a failure reported back to the originating connection only.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func invalidPayload(format string, args ...any) error {
	return &Error{Code: CodeInvalidPayload, Message: fmt.Sprintf(format, args...)}
}

type Options struct {
	// AllowViewerSeek lets unprivileged connections seek.
	AllowViewerSeek  bool
	MaxMessageLength int
}

// Session identifies the connection an event came from.
type Session struct {
	ConnID     string
	Privileged bool
}

type Broadcast struct {
	RoomID  string
	Exclude string
	Message Message
}

// Outbox is everything a handler wants delivered: replies go to the
// originator, broadcasts to room members.
type Outbox struct {
	Replies    []Message
	Broadcasts []Broadcast
}

func (o *Outbox) reply(eventType string, payload any) {
	o.Replies = append(o.Replies, Message{Type: eventType, Payload: payload})
}

func (o *Outbox) broadcast(roomID, exclude, eventType string, payload any) {
	o.Broadcasts = append(o.Broadcasts, Broadcast{
		RoomID:  roomID,
		Exclude: exclude,
		Message: Message{Type: eventType, Payload: payload},
	})
}

type HandlerFunc func(s Session, payload json.RawMessage) (Outbox, error)

type route struct {
	handle     HandlerFunc
	privileged bool
}

type Handler struct {
	broadcaster domain.Broadcaster
	rooms       *room.Registry
	members     *membership.Manager
	control     *playback.Controller
	clock       clock.Clock
	opts        Options
	routes      map[string]route
	locks       [lockStripes]sync.Mutex
}

func NewHandler(
	b domain.Broadcaster,
	rooms *room.Registry,
	members *membership.Manager,
	control *playback.Controller,
	clk clock.Clock,
	opts Options,
) *Handler {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	h := &Handler{
		broadcaster: b,
		rooms:       rooms,
		members:     members,
		control:     control,
		clock:       clk,
		opts:        opts,
	}
	h.routes = map[string]route{
		EventJoinRoom:    {handle: h.joinRoom},
		EventLeaveRoom:   {handle: h.leaveRoom},
		EventPlay:        {handle: h.play, privileged: true},
		EventPause:       {handle: h.pause, privileged: true},
		EventSeek:        {handle: h.seek, privileged: !opts.AllowViewerSeek},
		EventRequestSync: {handle: h.requestSync},
		EventChatMessage: {handle: h.chatMessage},
		EventReaction:    {handle: h.reaction},
		EventPing:        {handle: h.ping},
	}
	return h
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}

	rt, ok := h.routes[env.Type]
	if !ok {
		metrics.Events.WithLabelValues("unknown", "rejected").Inc()
		h.replyError(conn, env.Type, "", &Error{Code: CodeUnknownEvent, Message: "unknown event " + env.Type})
		return
	}

	roomID := h.scope(conn, env)
	if rt.privileged && !conn.Privileged() {
		metrics.Events.WithLabelValues(env.Type, "forbidden").Inc()
		h.replyError(conn, env.Type, roomID, &Error{Code: CodeForbidden, Message: env.Type + " requires room owner privileges"})
		return
	}

	scopes := []string{roomID}
	if env.Type == EventJoinRoom {
		if prev, ok := h.members.RoomOf(conn.ID()); ok {
			scopes = append(scopes, prev)
		}
	}
	unlock := h.lock(scopes...)
	defer unlock()

	out, err := rt.handle(Session{ConnID: conn.ID(), Privileged: conn.Privileged()}, env.Payload)
	h.deliver(conn, out)
	if err != nil {
		h.fail(conn, env.Type, roomID, err)
		return
	}
	metrics.Events.WithLabelValues(env.Type, "ok").Inc()
}

// Disconnect runs membership cleanup for a closed connection and tells the
// rest of the room.
func (h *Handler) Disconnect(conn domain.Connection) {
	roomID, ok := h.members.RoomOf(conn.ID())
	if !ok {
		return
	}
	unlock := h.lock(roomID)
	defer unlock()

	d, left := h.members.Disconnect(conn.ID())
	if !left {
		return
	}
	var out Outbox
	departed(&out, d)
	h.deliver(conn, out)
}

// CloseRoom notifies the members of roomID, deletes the room and forgets its
// memberships.
func (h *Handler) CloseRoom(roomID string) error {
	unlock := h.lock(roomID)
	defer unlock()

	if _, err := h.rooms.Get(roomID); err != nil {
		return err
	}
	h.send(roomID, "", Message{Type: EventRoomClosed, Payload: RoomClosed{RoomID: roomID}})
	if err := h.rooms.Delete(roomID); err != nil {
		return err
	}
	evicted := h.members.Evict(roomID)
	slog.Info("room closed", "roomId", roomID, "evicted", len(evicted))
	return nil
}

// scope returns the room an event applies to, used for per-room ordering.
func (h *Handler) scope(conn domain.Connection, env Envelope) string {
	switch env.Type {
	case EventPing:
		return ""
	case EventLeaveRoom:
		roomID, _ := h.members.RoomOf(conn.ID())
		return roomID
	}
	var ref RoomRef
	if len(env.Payload) == 0 || json.Unmarshal(env.Payload, &ref) != nil {
		return ""
	}
	return ref.RoomID
}

// lock serializes events of the given rooms. Mutation and fan-out enqueue
// both run under it, so members see a room's broadcasts in the order they were
// applied. Stripes are taken in ascending order.
func (h *Handler) lock(roomIDs ...string) func() {
	stripes := make([]int, 0, len(roomIDs))
	for _, id := range roomIDs {
		if id == "" {
			continue
		}
		stripes = append(stripes, int(xxhash.Sum64String(id)%lockStripes))
	}
	slices.Sort(stripes)
	stripes = slices.Compact(stripes)

	for _, i := range stripes {
		h.locks[i].Lock()
	}
	return func() {
		for j := len(stripes) - 1; j >= 0; j-- {
			h.locks[stripes[j]].Unlock()
		}
	}
}

func (h *Handler) deliver(conn domain.Connection, out Outbox) {
	for _, m := range out.Replies {
		data, err := m.Encode()
		if err != nil {
			slog.Warn("marshal error", "clientId", conn.ID(), "type", m.Type, "error", err)
			continue
		}
		if err := conn.Send(data); err != nil {
			slog.Warn("reply dropped", "clientId", conn.ID(), "type", m.Type, "error", err)
		}
	}
	for _, b := range out.Broadcasts {
		h.send(b.RoomID, b.Exclude, b.Message)
	}
}

func (h *Handler) send(roomID, exclude string, m Message) {
	data, err := m.Encode()
	if err != nil {
		slog.Warn("marshal error", "roomId", roomID, "type", m.Type, "error", err)
		return
	}
	h.broadcaster.Broadcast(roomID, data, exclude)
}

func (h *Handler) fail(conn domain.Connection, eventType, roomID string, err error) {
	var perr *Error
	switch {
	case errors.Is(err, domain.ErrStaleUpdate):
		metrics.StaleUpdates.Inc()
		metrics.Events.WithLabelValues(eventType, "stale").Inc()
		slog.Debug("stale update ignored", "clientId", conn.ID(), "roomId", roomID, "type", eventType, "error", err)
		return
	case errors.Is(err, domain.ErrNotFound):
		perr = &Error{Code: CodeRoomNotFound, Message: "room not found"}
	case errors.Is(err, playback.ErrInvalidPosition):
		perr = &Error{Code: CodeInvalidPayload, Message: playback.ErrInvalidPosition.Error()}
	case errors.As(err, &perr):
	default:
		slog.Error("event failed", "clientId", conn.ID(), "roomId", roomID, "type", eventType, "error", err)
		perr = &Error{Code: CodeInternal, Message: "internal error"}
	}
	metrics.Events.WithLabelValues(eventType, "rejected").Inc()
	h.replyError(conn, eventType, roomID, perr)
}

func (h *Handler) replyError(conn domain.Connection, eventType, roomID string, perr *Error) {
	var out Outbox
	out.reply(EventError, ErrorPayload{Code: perr.Code, Message: perr.Message, Event: eventType, RoomID: roomID})
	h.deliver(conn, out)
}

func departed(out *Outbox, d membership.Departure) {
	out.broadcast(d.RoomID, d.Viewer.ID, EventViewerLeft, ViewerEvent{Viewer: toViewerInfo(d.Viewer)})
	out.broadcast(d.RoomID, d.Viewer.ID, EventViewerCount, ViewerCount{Count: d.Count})
}
