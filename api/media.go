package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"watchroom-server/media"
)

type registerMediaRequest struct {
	ID    string `json:"id" binding:"required"`
	Title string `json:"title"`
}

type progressRequest struct {
	Progress int `json:"progress"`
}

type completeRequest struct {
	Renditions []media.Rendition `json:"renditions" binding:"required,min=1,dive"`
}

type failRequest struct {
	Error string `json:"error"`
}

func (s *Server) getMedia(c *gin.Context) {
	it, err := s.catalog.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (s *Server) registerMedia(c *gin.Context) {
	var req registerMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	it, err := s.catalog.Register(req.ID, req.Title, s.clock.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (s *Server) mediaProgress(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.respondItem(c)(s.catalog.Progress(c.Param("id"), req.Progress, s.clock.Now()))
}

func (s *Server) mediaComplete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.respondItem(c)(s.catalog.Complete(c.Param("id"), req.Renditions, s.clock.Now()))
}

func (s *Server) mediaFail(c *gin.Context) {
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.respondItem(c)(s.catalog.Fail(c.Param("id"), req.Error, s.clock.Now()))
}

func (s *Server) respondItem(c *gin.Context) func(media.Item, error) {
	return func(it media.Item, err error) {
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, it)
	}
}
