package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/vpnledger/internal/account"
	"github.com/smallbiznis/vpnledger/internal/blockchain"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/connection"
	connectiondomain "github.com/smallbiznis/vpnledger/internal/connection/domain"
	"github.com/smallbiznis/vpnledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/vpnledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/vpnledger/internal/observability/tracing"
	"github.com/smallbiznis/vpnledger/internal/providers"
	"github.com/smallbiznis/vpnledger/internal/quota"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	"github.com/smallbiznis/vpnledger/internal/ratelimit"
	"github.com/smallbiznis/vpnledger/internal/reporting"
	"github.com/smallbiznis/vpnledger/internal/scheduler"
	"github.com/smallbiznis/vpnledger/internal/servermetrics"
	servermetricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	"github.com/smallbiznis/vpnledger/internal/session"
	"github.com/smallbiznis/vpnledger/internal/stats"
	"github.com/smallbiznis/vpnledger/internal/tokens"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Domains lists every module the HTTP surface depends on.
var Domains = fx.Options(
	account.Module,
	providers.Module,
	blockchain.Module,
	servermetrics.Module,
	session.Module,
	quota.Module,
	tokens.Module,
	stats.Module,
	reporting.Module,
	connection.Module,
	ratelimit.Module,
)

var Module = fx.Module("http.server",
	Domains,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterAPIRoutes() }),
	fx.Invoke(RunHTTP),
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

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http.server.listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http.server.failed", zap.Error(err))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	connections   connectiondomain.Service
	quotaSvc      quotadomain.Service
	tokenSvc      tokendomain.Service
	serverMetrics servermetricsdomain.Service
	edgeLimiter   *ratelimit.EdgeReportLimiter
	obsMetrics    *obsmetrics.Metrics

	scheduler *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Connections   connectiondomain.Service
	QuotaSvc      quotadomain.Service
	TokenSvc      tokendomain.Service
	ServerMetrics servermetricsdomain.Service
	EdgeLimiter   *ratelimit.EdgeReportLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics          `optional:"true"`
	Scheduler     *scheduler.Scheduler         `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		connections:   p.Connections,
		quotaSvc:      p.QuotaSvc,
		tokenSvc:      p.TokenSvc,
		serverMetrics: p.ServerMetrics,
		edgeLimiter:   p.EdgeLimiter,
		obsMetrics:    p.ObsMetrics,
		scheduler:     p.Scheduler,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Edge reports --------
	connections := api.Group("/connections", s.EdgeReportRateLimit())
	{
		connections.POST("/validate", s.ValidateConnection)
		connections.POST("/start", s.StartConnection)
		connections.POST("/end", s.EndConnection)
	}
	api.POST("/servers/:id/metrics", s.EdgeReportRateLimit(), s.IngestServerMetrics)
	api.GET("/servers/:id/metrics", s.GetServerMetrics)

	// -------- Stats --------
	api.GET("/stats/history", s.GetHistoricalStats)
	api.GET("/stats/export", s.ExportStats)

	// -------- Quota --------
	api.POST("/addons/purchase", s.PurchaseAddon)
	api.POST("/logins/grants", s.GrantExtraLogins)
	api.GET("/quota/:user_id", s.GetQuotaStatus)

	// -------- Tokens --------
	api.GET("/tokens/:user_id/balance", s.GetTokenBalance)
	api.GET("/tokens/:user_id/entries", s.ListTokenEntries)
	api.GET("/tokens/mining", s.GetPendingMiningReward)
	api.POST("/tokens/mining/claim", s.ClaimMiningReward)
	api.POST("/tokens/withdraw", s.WithdrawTokens)

	// -------- Scheduler --------
	api.GET("/scheduler/tasks", s.ListSchedulerTasks)
	api.POST("/scheduler/tasks/:name/run", s.RunSchedulerTask)
}
