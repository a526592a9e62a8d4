// Package server exposes the engine's HTTP surface: usage ingestion,
// compliance reads, the work order lifecycle, and inventory operations.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	compliancedomain "github.com/flightworks/mxengine/internal/compliance/domain"
	"github.com/flightworks/mxengine/internal/config"
	invdomain "github.com/flightworks/mxengine/internal/inventory/domain"
	"github.com/flightworks/mxengine/internal/telemetry"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, metrics *telemetry.Metrics) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	return r
}

type registerGinParams struct {
	fx.In

	Cfg     config.Config
	Metrics *telemetry.Metrics `optional:"true"`
}

func registerGin(p registerGinParams) *gin.Engine {
	return NewEngine(p.Cfg, p.Metrics)
}

type Server struct {
	engine        *gin.Engine
	log           *zap.Logger
	usageSvc      usagedomain.Service
	complianceSvc compliancedomain.Service
	workOrderSvc  workorderdomain.Service
	inventorySvc  invdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	UsageSvc      usagedomain.Service
	ComplianceSvc compliancedomain.Service
	WorkOrderSvc  workorderdomain.Service
	InventorySvc  invdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		log:           p.Log.Named("server"),
		usageSvc:      p.UsageSvc,
		complianceSvc: p.ComplianceSvc,
		workOrderSvc:  p.WorkOrderSvc,
		inventorySvc:  p.InventorySvc,
	}
}

func registerRoutes(s *Server) {
	v1 := s.engine.Group("/v1")

	v1.POST("/usage", s.RecordUsage)
	v1.POST("/usage/batch", s.RecordUsageBatch)
	v1.GET("/subjects/:subjectID/snapshot", s.GetSnapshot)
	v1.GET("/subjects/:subjectID/events", s.ListUsageEvents)

	v1.GET("/subjects/:subjectID/compliance", s.ListCompliance)
	v1.POST("/subjects/:subjectID/compliance/evaluate", s.EvaluateCompliance)

	v1.POST("/workorders", s.OpenWorkOrder)
	v1.GET("/workorders/:id", s.GetWorkOrder)
	v1.GET("/aircraft/:aircraftID/workorders", s.ListWorkOrders)
	v1.POST("/workorders/:id/submit", s.SubmitWorkOrder)
	v1.POST("/workorders/:id/start", s.StartWorkOrder)
	v1.POST("/workorders/:id/resume", s.ResumeWorkOrder)
	v1.POST("/workorders/:id/inspection", s.SubmitWorkOrderForInspection)
	v1.POST("/workorders/:id/complete", s.CompleteWorkOrder)
	v1.POST("/workorders/:id/release", s.ReleaseWorkOrder)
	v1.POST("/workorders/:id/cancel", s.CancelWorkOrder)
	v1.POST("/workorders/:id/parts", s.RequestParts)
	v1.POST("/workorders/:id/tasks/:taskID/complete", s.CompleteTask)
	v1.POST("/workorders/:id/tasks/:taskID/inspect", s.InspectTask)

	v1.POST("/inventory/receipts", s.ReceiveStock)
	v1.GET("/inventory/:partNumber/:warehouseID", s.GetInventoryItem)
	v1.GET("/inventory/:partNumber/:warehouseID/movements", s.ListMovements)
	v1.POST("/inventory/:partNumber/:warehouseID/reconcile", s.ReconcileItem)
	v1.POST("/inventory/reconcile", s.ReconcileAll)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
