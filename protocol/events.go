package protocol

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"watchroom-server/clock"
	"watchroom-server/domain"
	"watchroom-server/room"
)

// Inbound event types.
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventPlay        = "play"
	EventPause       = "pause"
	EventSeek        = "seek"
	EventRequestSync = "requestSync"
	EventChatMessage = "chatMessage"
	EventReaction    = "reaction"
	EventPing        = "ping"
)

// Outbound event types.
const (
	EventRoomState     = "roomState"
	EventViewerJoined  = "viewerJoined"
	EventViewerLeft    = "viewerLeft"
	EventViewerCount   = "viewerCount"
	EventSyncPlay      = "syncPlay"
	EventSyncPause     = "syncPause"
	EventSyncSeek      = "syncSeek"
	EventSyncState     = "syncState"
	EventSyncHeartbeat = "syncHeartbeat"
	EventNewMessage    = "newMessage"
	EventNewReaction   = "newReaction"
	EventRoomClosed    = "roomClosed"
	EventPong          = "pong"
	EventError         = "error"
)

// Envelope is the frame of every inbound message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is an outbound frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type ControlPayload struct {
	RoomID      string   `json:"roomId"`
	CurrentTime *float64 `json:"currentTime"`
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type ChatPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type ReactionPayload struct {
	RoomID string `json:"roomId"`
	Emoji  string `json:"emoji"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

type ViewerInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	JoinedAt int64  `json:"joinedAt"`
}

type MessageInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type ReactionInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Emoji     string `json:"emoji"`
	Timestamp int64  `json:"timestamp"`
}

type RoomState struct {
	RoomID        string          `json:"roomId"`
	Name          string          `json:"name"`
	MediaID       string          `json:"mediaId"`
	Sources       []domain.Source `json:"sources"`
	IsPlaying     bool            `json:"isPlaying"`
	CurrentTime   float64         `json:"currentTime"`
	ServerTime    int64           `json:"serverTime"`
	SyncTolerance float64         `json:"syncTolerance"`
	Viewers       []ViewerInfo    `json:"viewers"`
	ViewerCount   int             `json:"viewerCount"`
	Messages      []MessageInfo   `json:"messages"`
	Reactions     []ReactionInfo  `json:"reactions"`
}

type ViewerEvent struct {
	Viewer ViewerInfo `json:"viewer"`
}

type ViewerCount struct {
	Count int `json:"count"`
}

// SyncEvent is the payload of syncPlay, syncPause and syncSeek.
type SyncEvent struct {
	CurrentTime float64 `json:"currentTime"`
	ServerTime  int64   `json:"serverTime"`
}

// SyncState is the payload of syncState and syncHeartbeat.
type SyncState struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	ServerTime  int64   `json:"serverTime"`
}

type RoomClosed struct {
	RoomID string `json:"roomId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

func NewRoomState(st room.State, now time.Time) RoomState {
	sources := st.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	return RoomState{
		RoomID:        st.ID,
		Name:          st.Name,
		MediaID:       st.MediaID,
		Sources:       sources,
		IsPlaying:     st.Anchor.IsPlaying,
		CurrentTime:   clock.Extrapolate(st.Anchor, now),
		ServerTime:    clock.Millis(now),
		SyncTolerance: st.SyncTolerance.Seconds(),
		Viewers:       lo.Map(st.Viewers, func(v domain.Viewer, _ int) ViewerInfo { return toViewerInfo(v) }),
		ViewerCount:   len(st.Viewers),
		Messages:      lo.Map(st.Messages, func(m domain.ChatMessage, _ int) MessageInfo { return toMessageInfo(m) }),
		Reactions:     lo.Map(st.Reactions, func(r domain.Reaction, _ int) ReactionInfo { return toReactionInfo(r) }),
	}
}

func toViewerInfo(v domain.Viewer) ViewerInfo {
	return ViewerInfo{ID: v.ID, Username: v.Username, JoinedAt: clock.Millis(v.JoinedAt)}
}

func toMessageInfo(m domain.ChatMessage) MessageInfo {
	return MessageInfo{ID: m.ID, Username: m.Username, Message: m.Message, Timestamp: clock.Millis(m.Timestamp)}
}

func toReactionInfo(r domain.Reaction) ReactionInfo {
	return ReactionInfo{ID: r.ID, Username: r.Username, Emoji: r.Emoji, Timestamp: clock.Millis(r.Timestamp)}
}
