package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vlabcloud/vlab/internal/accounting"
	"github.com/vlabcloud/vlab/internal/audit"
	auditdomain "github.com/vlabcloud/vlab/internal/audit/domain"
	"github.com/vlabcloud/vlab/internal/authorization"
	"github.com/vlabcloud/vlab/internal/config"
	"github.com/vlabcloud/vlab/internal/observability"
	obsmiddleware "github.com/vlabcloud/vlab/internal/observability/logger"
	obstracing "github.com/vlabcloud/vlab/internal/observability/tracing"
	"github.com/vlabcloud/vlab/internal/promocode"
	promodomain "github.com/vlabcloud/vlab/internal/promocode/domain"
	"github.com/vlabcloud/vlab/internal/ratelimit"
	"github.com/vlabcloud/vlab/internal/redemption"
	redemptiondomain "github.com/vlabcloud/vlab/internal/redemption/domain"
	"github.com/vlabcloud/vlab/internal/virtuallab"
	virtuallabdomain "github.com/vlabcloud/vlab/internal/virtuallab/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	accounting.Module,
	promocode.Module,
	ratelimit.Module,
	redemption.Module,
	virtuallab.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
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
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	promoCodeSvc  promodomain.Service
	redemptionSvc redemptiondomain.Service
	virtualLabSvc virtuallabdomain.Service
	limiter       *ratelimit.RedemptionLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	PromoCodeSvc  promodomain.Service
	RedemptionSvc redemptiondomain.Service
	VirtualLabSvc virtuallabdomain.Service
	Limiter       *ratelimit.RedemptionLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		promoCodeSvc:  p.PromoCodeSvc,
		redemptionSvc: p.RedemptionSvc,
		virtualLabSvc: p.VirtualLabSvc,
		limiter:       p.Limiter,
	}

	s.registerAPIRoutes()
	s.registerAdminRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.RequireUser())

	v1.GET("/virtual-labs", s.ListVirtualLabs)
	v1.POST("/virtual-labs", s.CreateVirtualLab)

	lab := v1.Group("/virtual-labs/:lab_id")
	lab.GET("", s.authorizeLabAction(authorization.ObjectVirtualLab, authorization.ActionVirtualLabView), s.GetVirtualLab)
	lab.POST("/promo-codes/redeem", s.RedeemPromoCode)
	lab.GET("/promo-codes/can-redeem", s.CanRedeemPromoCode)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/virtual-labs/:lab_id/admin", s.RequireUser())

	admin.POST("/promo-codes", s.authorizeLabAction(authorization.ObjectPromoCode, authorization.ActionPromoCodeCreate), s.CreatePromoCode)
	admin.GET("/promo-codes", s.authorizeLabAction(authorization.ObjectPromoCode, authorization.ActionPromoCodeView), s.ListPromoCodes)
	admin.GET("/promo-codes/:code_id", s.authorizeLabAction(authorization.ObjectPromoCode, authorization.ActionPromoCodeView), s.GetPromoCode)
	admin.PATCH("/promo-codes/:code_id", s.authorizeLabAction(authorization.ObjectPromoCode, authorization.ActionPromoCodeUpdate), s.UpdatePromoCode)
	admin.DELETE("/promo-codes/:code_id", s.authorizeLabAction(authorization.ObjectPromoCode, authorization.ActionPromoCodeDeactivate), s.DeactivatePromoCode)
	admin.GET("/promo-codes/:code_id/stats", s.authorizeLabAction(authorization.ObjectPromoCode, authorization.ActionPromoCodeView), s.PromoCodeStats)

	admin.GET("/redemption-attempts", s.authorizeLabAction(authorization.ObjectAttemptLog, authorization.ActionAttemptLogView), s.ListRedemptionAttempts)
	admin.DELETE("/rate-limits/users/:user_id", s.authorizeLabAction(authorization.ObjectRateLimit, authorization.ActionRateLimitReset), s.ResetUserRateLimit)

	admin.POST("/members", s.authorizeLabAction(authorization.ObjectVirtualLab, authorization.ActionVirtualLabManage), s.AddLabMember)
	admin.DELETE("/members/:user_id", s.authorizeLabAction(authorization.ObjectVirtualLab, authorization.ActionVirtualLabManage), s.RemoveLabMember)
}
