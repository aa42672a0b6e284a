package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchroom-server/domain"
)

type fakeBroadcaster struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
}

func (b *fakeBroadcaster) Register(conn domain.Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = append(b.registered, conn.ID())
}

func (b *fakeBroadcaster) Unregister(conn domain.Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unregistered = append(b.unregistered, conn.ID())
}

func (b *fakeBroadcaster) Broadcast(string, []byte, string) {}
func (b *fakeBroadcaster) SendTo(string, []byte) bool       { return false }
func (b *fakeBroadcaster) Stats() (int, int)                { return 0, 0 }

func (b *fakeBroadcaster) unregisteredIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.unregistered...)
}

type echoHandler struct {
	mu           sync.Mutex
	disconnected []string
}

func (h *echoHandler) Handle(conn domain.Connection, data []byte) {
	prefix := "viewer:"
	if conn.Privileged() {
		prefix = "owner:"
	}
	conn.Send([]byte(prefix + string(data)))
}

func (h *echoHandler) Disconnect(conn domain.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, conn.ID())
}

func (h *echoHandler) disconnectedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.disconnected...)
}

func newServer(t *testing.T, b *fakeBroadcaster, h *echoHandler, privileged bool) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewConn("c1", privileged, ws, b, h, Config{}).Start()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConn_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		privileged bool
		want       string
	}{
		{name: "viewer", privileged: false, want: "viewer:hello"},
		{name: "owner", privileged: true, want: "owner:hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroadcaster{}
			h := &echoHandler{}
			url := newServer(t, b, h, tt.privileged)

			client, _, err := websocket.DefaultDialer.Dial(url, nil)
			require.NoError(t, err)
			defer client.Close()

			require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("hello")))
			client.SetReadDeadline(time.Now().Add(time.Second))
			_, data, err := client.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestConn_DisconnectRunsCleanup(t *testing.T) {
	b := &fakeBroadcaster{}
	h := &echoHandler{}
	url := newServer(t, b, h, false)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return len(h.disconnectedIDs()) == 1 && len(b.unregisteredIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"c1"}, h.disconnectedIDs())
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{PongWait: 10 * time.Second, PingPeriod: 20 * time.Second}.withDefaults()
	assert.Equal(t, DefaultWriteWait, cfg.WriteWait)
	assert.Equal(t, 9*time.Second, cfg.PingPeriod)
	assert.Equal(t, int64(DefaultMaxMessageSize), cfg.MaxMessageSize)
}
