package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/folio/internal/audit"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/internal/authorization"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/invoice"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/invoice/render"
	"github.com/smallbiznis/folio/internal/observability"
	obslogger "github.com/smallbiznis/folio/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	obstracing "github.com/smallbiznis/folio/internal/observability/tracing"
	"github.com/smallbiznis/folio/internal/ota"
	otadomain "github.com/smallbiznis/folio/internal/ota/domain"
	"github.com/smallbiznis/folio/internal/ratelimit"
	"github.com/smallbiznis/folio/internal/signing"
	signingdomain "github.com/smallbiznis/folio/internal/signing/domain"
	"github.com/smallbiznis/folio/internal/vault"
	"github.com/smallbiznis/folio/internal/verification"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	vault.Module,
	signing.Module,
	ratelimit.Module,
	invoice.Module,
	ota.Module,
	verification.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ClientInfo())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	engine        *gin.Engine
	cfg           config.Config
	tokens        *TokenVerifier
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	invoiceSvc    invoicedomain.Service
	renderer      render.Renderer
	otaSvc        otadomain.Service
	signingSvc    signingdomain.Service
	verifySvc     *verification.Service
	verifyLimiter *ratelimit.VerifyLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Engine        *gin.Engine
	Cfg           config.Config
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	InvoiceSvc    invoicedomain.Service
	Renderer      render.Renderer
	OTASvc        otadomain.Service
	SigningSvc    signingdomain.Service
	VerifySvc     *verification.Service
	VerifyLimiter *ratelimit.VerifyLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Engine,
		cfg:           p.Cfg,
		tokens:        NewTokenVerifier(p.Cfg.AuthJWTSecret, p.Cfg.AuthJWTIssuer),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		invoiceSvc:    p.InvoiceSvc,
		renderer:      p.Renderer,
		otaSvc:        p.OTASvc,
		signingSvc:    p.SigningSvc,
		verifySvc:     p.VerifySvc,
		verifyLimiter: p.VerifyLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	s.RegisterPublicRoutes()
	s.RegisterAPIRoutes()
	return s
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "pubKeyId": s.signingSvc.CurrentKeyID()})
}

func (s *Server) RegisterPublicRoutes() {
	s.engine.GET("/health", s.Health)

	verify := s.engine.Group("/verify", s.VerifyRateLimit())
	{
		verify.GET("/:id", s.VerifyInvoice)
		verify.GET("", s.VerifyRaw)
		verify.POST("", s.VerifyRaw)
	}
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	invoices := api.Group("/invoices")
	{
		invoices.POST("", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceCreate), s.CreateInvoice)
		invoices.GET("", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
		invoices.GET("/:id", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
		invoices.GET("/:id/qr.png", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceQR)
		invoices.GET("/:id/pdf", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoicePDF)
	}

	otaGroup := api.Group("/ota")
	{
		otaGroup.GET("/providers", s.authorizeOrgAction(authorization.ObjectOTAProvider, authorization.ActionOTAProviderView), s.ListOTAProviders)

		otaGroup.GET("/credentials", s.authorizeOrgAction(authorization.ObjectOTACredential, authorization.ActionOTACredentialView), s.ListOTACredentials)
		otaGroup.POST("/credentials", s.authorizeOrgAction(authorization.ObjectOTACredential, authorization.ActionOTACredentialManage), s.UpsertOTACredential)
		otaGroup.DELETE("/credentials/:id", s.authorizeOrgAction(authorization.ObjectOTACredential, authorization.ActionOTACredentialManage), s.DeleteOTACredential)

		otaGroup.GET("/mappings", s.authorizeOrgAction(authorization.ObjectOTAMapping, authorization.ActionOTAMappingView), s.ListOTAMappings)
		otaGroup.POST("/mappings", s.authorizeOrgAction(authorization.ObjectOTAMapping, authorization.ActionOTAMappingManage), s.UpsertOTAMapping)
		otaGroup.DELETE("/mappings/:id", s.authorizeOrgAction(authorization.ObjectOTAMapping, authorization.ActionOTAMappingManage), s.DeleteOTAMapping)

		otaGroup.POST("/push-ari", s.authorizeOrgAction(authorization.ObjectOTAARI, authorization.ActionOTAARIPush), s.PushARI)
	}

	api.GET("/audit-logs", s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	api.GET("/signing-keys", s.authorizeOrgAction(authorization.ObjectSigningKey, authorization.ActionSigningKeyView), s.ListSigningKeys)
}
