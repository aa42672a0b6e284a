package protocol

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"watchroom-server/clock"
	"watchroom-server/domain"
	"watchroom-server/metrics"
	"watchroom-server/playback"
)

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return invalidPayload("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidPayload("malformed payload: %v", err)
	}
	return nil
}

func (h *Handler) joinRoom(s Session, raw json.RawMessage) (Outbox, error) {
	var p JoinRoomPayload
	if err := decode(raw, &p); err != nil {
		return Outbox{}, err
	}
	if p.RoomID == "" {
		return Outbox{}, invalidPayload("roomId is required")
	}

	now := h.clock.Now()
	var out Outbox
	arrival, err := h.members.Join(p.RoomID, s.ConnID, p.Username, now)
	if arrival.Previous != nil {
		departed(&out, *arrival.Previous)
	}
	if err != nil {
		return out, err
	}

	r, err := h.rooms.Get(p.RoomID)
	if err != nil {
		return out, err
	}
	st, err := r.State()
	if err != nil {
		return out, err
	}

	out.reply(EventRoomState, NewRoomState(st, now))
	if arrival.Added {
		out.broadcast(p.RoomID, s.ConnID, EventViewerJoined, ViewerEvent{Viewer: toViewerInfo(arrival.Viewer)})
		out.broadcast(p.RoomID, "", EventViewerCount, ViewerCount{Count: arrival.Count})
	}
	return out, nil
}

func (h *Handler) leaveRoom(s Session, _ json.RawMessage) (Outbox, error) {
	var out Outbox
	if d, ok := h.members.Disconnect(s.ConnID); ok {
		departed(&out, d)
	}
	return out, nil
}

func (h *Handler) play(s Session, raw json.RawMessage) (Outbox, error) {
	return h.transport(s, raw, EventSyncPlay, h.control.Play)
}

func (h *Handler) pause(s Session, raw json.RawMessage) (Outbox, error) {
	return h.transport(s, raw, EventSyncPause, h.control.Pause)
}

func (h *Handler) seek(s Session, raw json.RawMessage) (Outbox, error) {
	return h.transport(s, raw, EventSyncSeek, h.control.Seek)
}

type transition func(roomID string, position float64, now time.Time) (playback.Transition, error)

func (h *Handler) transport(s Session, raw json.RawMessage, syncType string, apply transition) (Outbox, error) {
	var p ControlPayload
	if err := decode(raw, &p); err != nil {
		return Outbox{}, err
	}
	if p.RoomID == "" {
		return Outbox{}, invalidPayload("roomId is required")
	}
	if p.CurrentTime == nil {
		return Outbox{}, invalidPayload("currentTime is required")
	}

	now := h.clock.Now()
	tr, err := apply(p.RoomID, *p.CurrentTime, now)
	if err != nil {
		return Outbox{}, err
	}
	metrics.Transitions.WithLabelValues(string(tr.Kind)).Inc()

	var out Outbox
	out.broadcast(p.RoomID, s.ConnID, syncType, SyncEvent{
		CurrentTime: tr.Anchor.Position,
		ServerTime:  clock.Millis(now),
	})
	return out, nil
}

func (h *Handler) requestSync(_ Session, raw json.RawMessage) (Outbox, error) {
	var p RoomRef
	if err := decode(raw, &p); err != nil {
		return Outbox{}, err
	}
	st, err := h.control.RequestSync(p.RoomID, h.clock.Now())
	if err != nil {
		return Outbox{}, err
	}

	var out Outbox
	out.reply(EventSyncState, SyncState{
		IsPlaying:   st.IsPlaying,
		CurrentTime: st.Position,
		ServerTime:  clock.Millis(st.At),
	})
	return out, nil
}

func (h *Handler) chatMessage(s Session, raw json.RawMessage) (Outbox, error) {
	var p ChatPayload
	if err := decode(raw, &p); err != nil {
		return Outbox{}, err
	}
	text := truncate(strings.TrimSpace(p.Message), h.opts.MaxMessageLength)
	if text == "" {
		return Outbox{}, invalidPayload("message is empty")
	}

	viewer, err := h.member(s, p.RoomID)
	if err != nil {
		return Outbox{}, err
	}
	r, err := h.rooms.Get(p.RoomID)
	if err != nil {
		return Outbox{}, err
	}

	msg := domain.ChatMessage{
		ID:        uuid.New().String(),
		Username:  viewer.Username,
		Message:   text,
		Timestamp: h.clock.Now(),
	}
	if err := r.AppendMessage(msg); err != nil {
		return Outbox{}, err
	}

	var out Outbox
	out.broadcast(p.RoomID, "", EventNewMessage, toMessageInfo(msg))
	return out, nil
}

func (h *Handler) reaction(s Session, raw json.RawMessage) (Outbox, error) {
	var p ReactionPayload
	if err := decode(raw, &p); err != nil {
		return Outbox{}, err
	}
	emoji := strings.TrimSpace(p.Emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return Outbox{}, invalidPayload("emoji must be 1 to %d characters", maxEmojiLength)
	}

	viewer, err := h.member(s, p.RoomID)
	if err != nil {
		return Outbox{}, err
	}
	r, err := h.rooms.Get(p.RoomID)
	if err != nil {
		return Outbox{}, err
	}

	re := domain.Reaction{
		ID:        uuid.New().String(),
		Username:  viewer.Username,
		Emoji:     emoji,
		Timestamp: h.clock.Now(),
	}
	if err := r.AppendReaction(re); err != nil {
		return Outbox{}, err
	}

	var out Outbox
	out.broadcast(p.RoomID, "", EventNewReaction, toReactionInfo(re))
	return out, nil
}

func (h *Handler) ping(_ Session, raw json.RawMessage) (Outbox, error) {
	var p PingPayload
	if len(raw) > 0 {
		if err := decode(raw, &p); err != nil {
			return Outbox{}, err
		}
	}
	var out Outbox
	out.reply(EventPong, Pong{Timestamp: p.Timestamp, ServerTime: clock.Millis(h.clock.Now())})
	return out, nil
}

// member returns the viewer of s if it has joined roomID.
func (h *Handler) member(s Session, roomID string) (domain.Viewer, error) {
	if roomID == "" {
		return domain.Viewer{}, invalidPayload("roomId is required")
	}
	if _, err := h.rooms.Get(roomID); err != nil {
		return domain.Viewer{}, err
	}
	current, ok := h.members.RoomOf(s.ConnID)
	if !ok || current != roomID {
		return domain.Viewer{}, &Error{Code: CodeNotInRoom, Message: "join the room first"}
	}
	v, _ := h.members.Viewer(s.ConnID)
	return v, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
