package server

import (
	"context"
	"net/http"
	"time"

	"github.com/funderhq/payments/internal/billing"
	"github.com/funderhq/payments/internal/callback"
	"github.com/funderhq/payments/internal/config"
	"github.com/funderhq/payments/internal/gateway"
	tokendomain "github.com/funderhq/payments/internal/token/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
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

type pageCreator interface {
	CreatePaymentPage(ctx context.Context, req gateway.PaymentPageRequest) (string, error)
}

type Params struct {
	fx.In

	Engine     *gin.Engine
	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	Repo       tokendomain.Repository
	Gateway    *gateway.Client
	Verifier   callback.Verifier
	BillingSvc billing.Service
	Holder     *config.BillingConfigHolder
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	repo       tokendomain.Repository
	gateway    pageCreator
	verifier   callback.Verifier
	billingSvc billing.Service
	holder     *config.BillingConfigHolder
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:     p.Engine,
		cfg:        p.Config,
		db:         p.DB,
		log:        p.Log.Named("server"),
		repo:       p.Repo,
		gateway:    p.Gateway,
		verifier:   p.Verifier,
		billingSvc: p.BillingSvc,
		holder:     p.Holder,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	payments := api.Group("/payments")
	payments.POST("/init", s.initPayment)
	payments.POST("/callback", s.paymentCallback)

	billingGroup := api.Group("/billing")
	billingGroup.POST("/charge", s.chargeToken)
	billingGroup.GET("/tokens", s.listTokens)
	billingGroup.GET("/history", s.listHistory)
	billingGroup.PATCH("/tokens/:id/monthly-amount", s.updateMonthlyAmount)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
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
