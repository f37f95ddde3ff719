package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/billingops/internal/authorization"
	"github.com/smallbiznis/billingops/internal/batch"
	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice"
	"github.com/smallbiznis/billingops/internal/invoice/actions"
	invoicedomain "github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/observability"
	obsmiddleware "github.com/smallbiznis/billingops/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billingops/internal/observability/metrics"
	obstracing "github.com/smallbiznis/billingops/internal/observability/tracing"
	"github.com/smallbiznis/billingops/internal/ratelimit"
	"github.com/smallbiznis/billingops/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	invoice.Module,
	ratelimit.Module,
	batch.Module,
	reconcile.Module,
	authorization.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	actions    *actions.Service
	batches    *batch.Registry
	reconciler *reconcile.Service
	authz      *authorization.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	Actions    *actions.Service
	Batches    *batch.Registry
	Reconciler *reconcile.Service
	Authz      *authorization.Service `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		clock:      clk,
		invoiceSvc: p.InvoiceSvc,
		actions:    p.Actions,
		batches:    p.Batches,
		reconciler: p.Reconciler,
		authz:      p.Authz,
	}

	svc.registerInvoiceRoutes()
	svc.registerJobRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerInvoiceRoutes() {
	inv := s.engine.Group("/invoices")

	inv.GET("/search", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.SearchInvoices)
	inv.POST("/search", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.SearchInvoices)
	inv.GET("/list", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
	inv.GET("/export", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceExport), s.ExportInvoices)
	inv.POST("/enrinch", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceEnrich), s.EnrichInvoices)

	// -------- Actions --------
	inv.POST("/pay", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoicePay), s.PayInvoice)
	inv.POST("/send", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceSend), s.SendInvoice)
	inv.POST("/cancel", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCancel), s.CancelInvoice)

	inv.GET("/pay-from-file", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.PayFromFileHowTo)
	inv.POST("/pay-from-file", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceReconcile), s.PayFromFile)

	// -------- Batch --------
	inv.POST("/batch", s.authorize(authorization.ObjectBatch, authorization.ActionBatchRun), s.StartBatch)
	inv.GET("/batch/:id", s.authorize(authorization.ObjectBatch, authorization.ActionBatchView), s.GetBatch)
	inv.GET("/batch/:id/report", s.authorize(authorization.ObjectBatch, authorization.ActionBatchView), s.GetBatchReport)

	// Short aliases still used by the portal.
	s.engine.POST("/pay", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoicePay), s.PayInvoice)
	s.engine.POST("/cancel", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCancel), s.CancelInvoice)
}

func (s *Server) registerJobRoutes() {
	s.engine.GET("/jobs/sync-invoices", s.authorize(authorization.ObjectJob, authorization.ActionJobSync), s.SyncInvoices)
}
