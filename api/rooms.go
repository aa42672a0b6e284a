package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"watchroom-server/clock"
	"watchroom-server/protocol"
	"watchroom-server/room"
)

type createRoomRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name" binding:"required"`
	MediaID string `json:"mediaId" binding:"required"`
	// SyncTolerance is in seconds.
	SyncTolerance float64 `json:"syncTolerance" binding:"gte=0"`
}

type roomSummary struct {
	ID          string  `json:"roomId"`
	Name        string  `json:"name"`
	MediaID     string  `json:"mediaId"`
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	ViewerCount int     `json:"viewerCount"`
	CreatedAt   int64   `json:"createdAt"`
}

func (s *Server) listRooms(c *gin.Context) {
	now := s.clock.Now()
	rooms := lo.FilterMap(s.rooms.Snapshot(), func(r *room.Room, _ int) (roomSummary, bool) {
		a, err := r.Anchor()
		if err != nil {
			return roomSummary{}, false
		}
		return roomSummary{
			ID:          r.ID(),
			Name:        r.Name(),
			MediaID:     r.MediaID(),
			IsPlaying:   a.IsPlaying,
			CurrentTime: clock.Extrapolate(a, now),
			ViewerCount: r.ViewerCount(),
			CreatedAt:   clock.Millis(r.CreatedAt()),
		}, true
	})
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (s *Server) getRoom(c *gin.Context) {
	r, err := s.rooms.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	st, err := r.State()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, protocol.NewRoomState(st, s.clock.Now()))
}

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	sources, err := s.catalog.Playable(req.MediaID)
	if err != nil {
		fail(c, err)
		return
	}

	r, err := s.rooms.Create(req.ID, room.Options{
		Name:          req.Name,
		MediaID:       req.MediaID,
		Sources:       sources,
		SyncTolerance: time.Duration(req.SyncTolerance * float64(time.Second)),
		CreatedAt:     s.clock.Now(),
	})
	if err != nil {
		fail(c, err)
		return
	}
	st, err := r.State()
	if err != nil {
		fail(c, err)
		return
	}
	slog.Info("room created", "roomId", r.ID(), "mediaId", r.MediaID())
	c.JSON(http.StatusCreated, protocol.NewRoomState(st, s.clock.Now()))
}

func (s *Server) closeRoom(c *gin.Context) {
	if err := s.handler.CloseRoom(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
