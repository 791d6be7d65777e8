// Package routes assembles the kernel's admin/inspection gin router,
// grounded on the teacher's internal/api/routes.SetupRoutes: one
// function wiring middleware and handler groups onto a fresh
// gin.Engine, called once from internal/app.Application.
package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/api/handlers/admin"
	"github.com/capkernel/kernel/internal/api/handlers/common"
	"github.com/capkernel/kernel/internal/api/middleware"
	"github.com/capkernel/kernel/internal/infrastructure/di"
	"github.com/capkernel/kernel/internal/pkg/util"
	"github.com/capkernel/kernel/pkg/validation"
)

// SetupRoutes builds the admin API router: request-ID tagging, rate
// limiting, validation context, health/metrics endpoints, and the
// audit/capability/session/workflow handler groups.
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(common.MaxRequestBodySizeMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(principalMiddleware())
	router.Use(accessLogMiddleware(container.Logger))
	router.Use(middleware.TimeoutMiddleware(middleware.DefaultDatabaseTimeout))
	router.Use(validation.ValidationMiddleware())

	if container.DistRateLimit != nil {
		router.Use(container.DistRateLimit.Middleware())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authLimiter := middleware.NewAuthRateLimiter(120)

	auditHandler := admin.NewAuditHandler(container.Audit)
	capabilityHandler := admin.NewCapabilityHandler(container.Capability)
	sessionHandler := admin.NewSessionHandler(container.Session)
	workflowHandler := admin.NewWorkflowHandler(container.Executor)

	adminGroup := router.Group("/admin")
	adminGroup.Use(authLimiter.LimitByPrincipal())
	{
		adminGroup.GET("/audit", auditHandler.Query)
		adminGroup.GET("/audit/transactions/:id", auditHandler.TransactionLog)
		adminGroup.GET("/audit/integrity", auditHandler.VerifyIntegrity)
		adminGroup.GET("/audit/compliance-report", auditHandler.ComplianceReport)

		adminGroup.POST("/capabilities", capabilityHandler.Grant)
		adminGroup.GET("/capabilities", capabilityHandler.List)
		adminGroup.POST("/capabilities/:token/revoke", capabilityHandler.Revoke)
		adminGroup.POST("/capabilities/revoke-all", capabilityHandler.RevokeAll)

		adminGroup.POST("/sessions", sessionHandler.Create)
		adminGroup.GET("/sessions/:id", sessionHandler.Get)
		adminGroup.POST("/sessions/:id/end", sessionHandler.End)
		adminGroup.GET("/sessions/:id/grants", sessionHandler.ListGrants)

		adminGroup.POST("/workflows/validate", workflowHandler.Validate)
		adminGroup.POST("/workflows/execute", workflowHandler.Execute)
	}

	return router
}

// requestIDMiddleware tags every request with a UUID, the way the
// teacher's middleware stack does, so common.GetRequestID always finds
// one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// accessLogMiddleware logs one line per request, identifying the caller by
// a hash of its principal rather than the raw value so access logs don't
// become a second, unaudited store of principal identity.
func accessLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		principal, _ := c.Get("principal")
		logger.Info("admin request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("principal_hash", util.Redact(fmt.Sprint(principal))),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

// principalMiddleware trusts an X-Principal header, the way the IPC
// server trusts whatever principal the connecting process supplies in
// its ExecuteParams: this admin API is assumed to sit behind a network
// boundary an operator controls, not behind its own login flow.
func principalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p := c.GetHeader("X-Principal"); p != "" {
			c.Set("principal", p)
		}
		c.Next()
	}
}
