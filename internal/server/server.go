package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/bookline-app/bookline/internal/config"
	extrachargeservice "github.com/bookline-app/bookline/internal/extracharge/service"
	"github.com/bookline-app/bookline/internal/observability/logger"
	"github.com/bookline-app/bookline/internal/observability/tracing"
	paymentservice "github.com/bookline-app/bookline/internal/payment/service"
	"github.com/bookline-app/bookline/internal/payment/webhook"
	"github.com/bookline-app/bookline/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(log))
	r.Use(tracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
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
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	payments     *paymentservice.Service
	extraCharges *extrachargeservice.Service
	webhooks     *webhook.Router
	limiter      *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Payments     *paymentservice.Service
	ExtraCharges *extrachargeservice.Service
	Webhooks     *webhook.Router
	Limiter      *ratelimit.Limiter
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("server"),
		payments:     p.Payments,
		extraCharges: p.ExtraCharges,
		webhooks:     p.Webhooks,
		limiter:      p.Limiter,
	}

	s.registerAPIRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// Webhook deliveries authenticate by signature, not user identity.
	api.POST("/payments/webhook", s.limiter.PerIP(), s.HandleGatewayWebhook)

	authed := api.Group("", s.UserRequired(), s.limiter.PerUser())

	// -------- Payments --------
	authed.POST("/bookings/:id/checkout", s.CreateCheckout)
	authed.POST("/bookings/:id/sync", s.SyncBookingPayment)
	authed.GET("/bookings/:id/payment", s.GetBookingPayment)
	authed.GET("/payments/:id", s.GetPayment)
	authed.POST("/payments/:id/refund", s.RefundPayment)

	// -------- Extra charges --------
	authed.POST("/bookings/:id/extra-charges", s.CreateExtraCharge)
	authed.GET("/bookings/:id/extra-charges", s.ListExtraCharges)
	authed.POST("/extra-charges/:id/pay", s.PayExtraCharge)
	authed.POST("/extra-charges/:id/decline", s.DeclineExtraCharge)
	authed.POST("/extra-charges/:id/cancel", s.CancelExtraCharge)
}
