package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListCompliance(c *gin.Context) {
	statuses, err := s.complianceSvc.List(c.Request.Context(), c.Param("subjectID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

func (s *Server) EvaluateCompliance(c *gin.Context) {
	statuses, err := s.complianceSvc.Evaluate(c.Request.Context(), c.Param("subjectID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}
