package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
)

// transitionRequest carries the caller's last-read order version; every
// lifecycle move is an optimistic-concurrency commit.
type transitionRequest struct {
	Version int64  `json:"version"`
	By      string `json:"by"`
	Reason  string `json:"reason"`
}

type taskActionRequest struct {
	By string `json:"by"`
}

type partsRequest struct {
	Version     int64  `json:"version"`
	PartNumber  string `json:"part_number"`
	WarehouseID string `json:"warehouse_id"`
	Quantity    int64  `json:"quantity"`
}

func (s *Server) OpenWorkOrder(c *gin.Context) {
	var req workorderdomain.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, workorderdomain.ErrInvalidAircraft)
		return
	}

	order, err := s.workOrderSvc.Open(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) GetWorkOrder(c *gin.Context) {
	order, err := s.workOrderSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) ListWorkOrders(c *gin.Context) {
	orders, err := s.workOrderSvc.ListByAircraft(c.Request.Context(), c.Param("aircraftID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"work_orders": orders})
}

func (s *Server) SubmitWorkOrder(c *gin.Context) {
	s.transition(c, s.workOrderSvc.Submit)
}

func (s *Server) StartWorkOrder(c *gin.Context) {
	s.transition(c, s.workOrderSvc.StartWork)
}

func (s *Server) ResumeWorkOrder(c *gin.Context) {
	s.transition(c, s.workOrderSvc.Resume)
}

func (s *Server) SubmitWorkOrderForInspection(c *gin.Context) {
	s.transition(c, s.workOrderSvc.SubmitForInspection)
}

func (s *Server) CompleteWorkOrder(c *gin.Context) {
	s.transition(c, s.workOrderSvc.Complete)
}

func (s *Server) transition(c *gin.Context, fn func(ctx context.Context, orderID string, version int64) (*workorderdomain.WorkOrder, error)) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, workorderdomain.ErrConcurrentModification)
		return
	}

	order, err := fn(c.Request.Context(), c.Param("id"), req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) ReleaseWorkOrder(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, workorderdomain.ErrMissingActor)
		return
	}

	order, err := s.workOrderSvc.Release(c.Request.Context(), c.Param("id"), req.Version, req.By)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) CancelWorkOrder(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, workorderdomain.ErrOrderNotFound)
		return
	}

	order, err := s.workOrderSvc.Cancel(c.Request.Context(), c.Param("id"), req.Version, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) RequestParts(c *gin.Context) {
	var req partsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, workorderdomain.ErrInvalidQuantity)
		return
	}

	result, err := s.workOrderSvc.RequestParts(c.Request.Context(), c.Param("id"), req.Version, workorderdomain.PartsRequest{
		PartNumber:  req.PartNumber,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CompleteTask(c *gin.Context) {
	var req taskActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, workorderdomain.ErrMissingActor)
		return
	}

	if err := s.workOrderSvc.CompleteTask(c.Request.Context(), c.Param("id"), c.Param("taskID"), req.By); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) InspectTask(c *gin.Context) {
	var req taskActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, workorderdomain.ErrMissingActor)
		return
	}

	if err := s.workOrderSvc.InspectTask(c.Request.Context(), c.Param("id"), c.Param("taskID"), req.By); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
