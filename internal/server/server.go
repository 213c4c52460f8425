package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/mestredigital/creditos/internal/audit"
	auditdomain "github.com/mestredigital/creditos/internal/audit/domain"
	"github.com/mestredigital/creditos/internal/cache"
	"github.com/mestredigital/creditos/internal/config"
	"github.com/mestredigital/creditos/internal/ledger"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
	"github.com/mestredigital/creditos/internal/observability"
	obsmiddleware "github.com/mestredigital/creditos/internal/observability/logger"
	obsmetrics "github.com/mestredigital/creditos/internal/observability/metrics"
	obstracing "github.com/mestredigital/creditos/internal/observability/tracing"
	"github.com/mestredigital/creditos/internal/providers"
	"github.com/mestredigital/creditos/internal/providers/pdf"
	"github.com/mestredigital/creditos/internal/ratelimit"
	"github.com/mestredigital/creditos/internal/reservation"
	reservationdomain "github.com/mestredigital/creditos/internal/reservation/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	cache.Module,
	audit.Module,
	ledger.Module,
	reservation.Module,
	ratelimit.Module,
	providers.Module,
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
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
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
	s.RegisterAdminRoutes()
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	ledgerSvc      ledgerdomain.Service
	reservationSvc reservationdomain.Service
	auditSvc       auditdomain.Service
	toolCosts      *config.ToolCostHolder
	consumeLimiter *ratelimit.ConsumeLimiter
	pdfProvider    pdf.Provider
	accounts       cache.AccountCache
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	GenID          *snowflake.Node
	LedgerSvc      ledgerdomain.Service
	ReservationSvc reservationdomain.Service
	AuditSvc       auditdomain.Service
	ToolCosts      *config.ToolCostHolder
	ConsumeLimiter *ratelimit.ConsumeLimiter `optional:"true"`
	PDFProvider    pdf.Provider
	Accounts       cache.AccountCache  `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		ledgerSvc:      p.LedgerSvc,
		reservationSvc: p.ReservationSvc,
		auditSvc:       p.AuditSvc,
		toolCosts:      p.ToolCosts,
		consumeLimiter: p.ConsumeLimiter,
		pdfProvider:    p.PDFProvider,
		accounts:       p.Accounts,
		obsMetrics:     p.ObsMetrics,
	}
}

// RegisterAPIRoutes mounts the user-facing credit endpoints.
func (s *Server) RegisterAPIRoutes() {
	v1 := s.engine.Group("/v1/credits")
	v1.Use(s.UserRequired())

	v1.GET("/balance", s.GetBalance)
	v1.POST("/consume", s.ConsumeRateLimit(), s.Consume)
	v1.GET("/transactions", s.ListTransactions)

	v1.POST("/reservations", s.CreateReservation)
	v1.GET("/reservations", s.ListReservations)
	v1.POST("/reservations/:id/commit", s.CommitReservation)
	v1.POST("/reservations/:id/release", s.ReleaseReservation)
}

// RegisterAdminRoutes mounts the back-office endpoints. They are disabled
// entirely when no admin key hash is configured.
func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminRequired())

	admin.POST("/accounts/:user_id/credit", s.AdminCredit)
	admin.POST("/accounts/:user_id/access-days", s.AdminGrantAccessDays)
	admin.GET("/accounts/:user_id/transactions", s.AdminListTransactions)
	admin.GET("/accounts/:user_id/statement.pdf", s.AdminStatementPDF)
	admin.GET("/audit-logs", s.AdminListAuditLogs)
	admin.POST("/test/cleanup", s.TestCleanup)
}
