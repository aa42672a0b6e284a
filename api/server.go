package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"watchroom-server/auth"
	"watchroom-server/clock"
	"watchroom-server/domain"
	"watchroom-server/hub"
	"watchroom-server/media"
	"watchroom-server/membership"
	"watchroom-server/protocol"
	"watchroom-server/room"
	ws "watchroom-server/websocket"
)

// Server exposes the websocket endpoint and the admin HTTP surface.
type Server struct {
	rooms    *room.Registry
	members  *membership.Manager
	hub      *hub.Hub
	handler  *protocol.Handler
	catalog  *media.Catalog
	verifier *auth.Verifier
	clock    clock.Clock
	wsConfig ws.Config
}

type Deps struct {
	Rooms    *room.Registry
	Members  *membership.Manager
	Hub      *hub.Hub
	Handler  *protocol.Handler
	Catalog  *media.Catalog
	Verifier *auth.Verifier
	Clock    clock.Clock
	WS       ws.Config
}

func NewServer(d Deps) *Server {
	return &Server{
		rooms:    d.Rooms,
		members:  d.Members,
		hub:      d.Hub,
		handler:  d.Handler,
		catalog:  d.Catalog,
		verifier: d.Verifier,
		clock:    d.Clock,
		wsConfig: d.WS,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", s.serveWS)
	r.GET("/health", s.health)
	r.GET("/stats", s.stats)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := s.verifier.RequireAdmin()
	api := r.Group("/api")
	{
		rooms := api.Group("/rooms")
		rooms.GET("", s.listRooms)
		rooms.GET("/:id", s.getRoom)
		rooms.POST("", admin, s.createRoom)
		rooms.DELETE("/:id", admin, s.closeRoom)

		m := api.Group("/media")
		m.GET("/:id", s.getMedia)
		m.POST("", admin, s.registerMedia)
		m.POST("/:id/progress", admin, s.mediaProgress)
		m.POST("/:id/complete", admin, s.mediaComplete)
		m.POST("/:id/fail", admin, s.mediaFail)
	}
	return r
}

func (s *Server) serveWS(c *gin.Context) {
	privileged := false
	if token := auth.FromRequest(c.Request); token != "" {
		claims, err := s.verifier.Verify(token)
		if err != nil {
			errorJSON(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		privileged = claims.IsAdmin()
	}

	conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}
	ws.NewConn(uuid.New().String(), privileged, conn, s.hub, s.handler, s.wsConfig).Start()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stats(c *gin.Context) {
	_, connections := s.hub.Stats()
	occupied, viewers := s.members.Stats()
	c.JSON(http.StatusOK, gin.H{
		"rooms":         s.rooms.Len(),
		"occupiedRooms": occupied,
		"connections":   connections,
		"viewers":       viewers,
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// fail maps domain errors to HTTP statuses.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		errorJSON(c, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		errorJSON(c, http.StatusConflict, "INVALID_STATE", err.Error())
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		errorJSON(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
