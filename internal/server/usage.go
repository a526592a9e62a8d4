package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
)

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, usagedomain.ErrEmptyEvent)
		return
	}

	event, err := s.usageSvc.RecordUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (s *Server) RecordUsageBatch(c *gin.Context) {
	var reqs []usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		AbortWithError(c, usagedomain.ErrEmptyEvent)
		return
	}

	recorded, err := s.usageSvc.RecordBatch(c.Request.Context(), reqs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"events": recorded})
}

func (s *Server) GetSnapshot(c *gin.Context) {
	snapshot, err := s.usageSvc.GetSnapshot(c.Request.Context(), c.Param("subjectID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	events, err := s.usageSvc.ListEvents(c.Request.Context(), c.Param("subjectID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
