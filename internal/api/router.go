package api

import (
	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/cron"
	v1 "github.com/meterline/meterline/internal/api/v1"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/rest/middleware"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Auth         *v1.AuthHandler
	Events       *v1.EventsHandler
	Usage        *v1.UsageHandler
	Organisation *v1.OrganisationHandler
	Project      *v1.ProjectHandler
	Pricing      *v1.PricingHandler
	Invoice      *v1.InvoiceHandler
	Payment      *v1.PaymentHandler
	Webhook      *v1.WebhookHandler
	Refund       *v1.RefundHandler
	Alert        *v1.AlertHandler
	ExchangeRate *v1.ExchangeRateHandler
	Audit        *v1.AuditHandler

	CronPipeline       *cron.PipelineCronHandler
	CronBilling        *cron.BillingCronHandler
	CronPayment        *cron.PaymentCronHandler
	CronReconciliation *cron.ReconciliationCronHandler
	CronAlert          *cron.AlertCronHandler
	CronExchangeRate   *cron.ExchangeRateCronHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger, projects service.ProjectService, m *metrics.Metrics) *gin.Engine {
	router := gin.Default()

	router.Use(
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.PyroscopeMiddleware(cfg),
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Gateway webhooks authenticate by signature, not caller identity.
	router.POST("/webhooks/razorpay", handlers.Webhook.HandleRazorpayWebhook)

	// Signup and login are the only unauthenticated admin endpoints.
	authRoutes := router.Group("/api/v1/auth")
	{
		authRoutes.POST("/signup", handlers.Auth.SignUp)
		authRoutes.POST("/login", handlers.Auth.Login)
	}

	// Event ingest authenticates with project API keys. /events is the
	// short alias SDKs default to; both paths share the rate limiter.
	projectAuth := middleware.ProjectAuthMiddleware(projects, log)
	rateLimiter := middleware.NewIngestRateLimiter(cfg)
	router.POST("/events", projectAuth, rateLimiter.Handle, handlers.Events.IngestEvent)
	router.POST("/api/v1/events", projectAuth, rateLimiter.Handle, handlers.Events.IngestEvent)

	private := router.Group("/api/v1", middleware.AuthenticateMiddleware(cfg, log))
	registerAdminRoutes(private, handlers)

	// Cron triggers mirror the scheduler jobs for manual and external
	// invocation. They are admin-only and optionally IP-restricted.
	cronRoutes := router.Group("/cron",
		middleware.IPWhitelistMiddleware(cfg, log),
		middleware.AuthenticateMiddleware(cfg, log),
		middleware.RequireRole(types.UserRoleAdmin),
	)
	registerCronRoutes(cronRoutes, handlers)

	return router
}

func registerAdminRoutes(router *gin.RouterGroup, handlers Handlers) {
	admin := middleware.RequireRole(types.UserRoleAdmin)
	owner := middleware.RequireRole(types.UserRoleOwner)

	organisations := router.Group("/organisations")
	{
		organisations.POST("", owner, handlers.Organisation.CreateOrganisation)
		organisations.GET("", handlers.Organisation.ListOrganisations)
		organisations.GET("/:id", handlers.Organisation.GetOrganisation)
		organisations.PUT("/:id", owner, handlers.Organisation.UpdateOrganisation)
		organisations.DELETE("/:id", owner, handlers.Organisation.DeleteOrganisation)
	}

	// Creating or deleting a project mints or kills an API key, so those
	// stay owner-only alongside rotation.
	projects := router.Group("/projects")
	{
		projects.POST("", owner, handlers.Project.CreateProject)
		projects.GET("", handlers.Project.ListProjects)
		projects.GET("/:id", handlers.Project.GetProject)
		projects.PUT("/:id", admin, handlers.Project.UpdateProject)
		projects.DELETE("/:id", owner, handlers.Project.DeleteProject)
		projects.POST("/:id/rotate-key", owner, handlers.Project.RotateKey)
	}

	usage := router.Group("/usage")
	{
		usage.GET("/summary", handlers.Usage.GetSummary)
		usage.GET("/trends", handlers.Usage.GetTrends)
		usage.GET("/cost-breakdown", handlers.Usage.GetCostBreakdown)
		usage.GET("/realtime", handlers.Usage.GetRealtime)
	}

	invoices := router.Group("/invoices")
	{
		invoices.GET("", handlers.Invoice.ListInvoices)
		invoices.POST("/generate", admin, handlers.Invoice.GenerateInvoice)
		invoices.GET("/:id", handlers.Invoice.GetInvoice)
		invoices.POST("/:id/finalize", admin, handlers.Invoice.FinalizeInvoice)
		invoices.POST("/:id/void", admin, handlers.Invoice.VoidInvoice)
		invoices.GET("/:id/pdf", handlers.Invoice.GetInvoicePDF)
	}

	payments := router.Group("/payments")
	{
		payments.GET("", handlers.Payment.ListPayments)
		payments.POST("/order", admin, handlers.Payment.CreateOrder)
		payments.GET("/:id", handlers.Payment.GetPayment)
		payments.POST("/:id/retry", admin, handlers.Payment.RetryPayment)
		payments.GET("/:id/retry-status", handlers.Payment.GetRetryStatus)
	}

	refunds := router.Group("/refunds")
	{
		refunds.POST("", admin, handlers.Refund.CreateRefund)
		refunds.GET("", handlers.Refund.ListRefunds)
		refunds.GET("/:id", handlers.Refund.GetRefund)
	}

	alerts := router.Group("/alerts")
	{
		alerts.POST("/rules", admin, handlers.Alert.CreateRule)
		alerts.GET("/rules", handlers.Alert.ListRules)
		alerts.GET("/rules/:id", handlers.Alert.GetRule)
		alerts.PUT("/rules/:id", admin, handlers.Alert.UpdateRule)
		alerts.DELETE("/rules/:id", admin, handlers.Alert.DeleteRule)
		alerts.GET("/history", handlers.Alert.ListHistory)
		alerts.POST("/history/:id/acknowledge", admin, handlers.Alert.AcknowledgeAlert)
	}

	pricing := router.Group("/pricing")
	{
		pricing.POST("/rules", admin, handlers.Pricing.CreateRule)
		pricing.GET("/rules", handlers.Pricing.ListRules)
		pricing.POST("/rules/:id/close", admin, handlers.Pricing.CloseRule)
		pricing.POST("/minimum-charges", admin, handlers.Pricing.CreateMinimumCharge)
	}

	router.PUT("/billing-config", admin, handlers.Pricing.UpsertBillingConfig)
	router.GET("/billing-config", handlers.Pricing.GetBillingConfig)

	rates := router.Group("/exchange-rates")
	{
		rates.GET("", handlers.ExchangeRate.ListRates)
		rates.POST("", admin, handlers.ExchangeRate.UpsertRate)
		rates.POST("/sync", admin, handlers.ExchangeRate.SyncRates)
	}

	router.GET("/audit-logs", handlers.Audit.ListAuditLogs)
	router.GET("/email-notifications", handlers.Audit.ListEmailNotifications)
}

func registerCronRoutes(router *gin.RouterGroup, handlers Handlers) {
	router.POST("/migration", handlers.CronPipeline.TriggerMigration)
	router.POST("/cleanup", handlers.CronPipeline.TriggerCleanup)
	router.POST("/invoices/generate", handlers.CronBilling.GenerateInvoices)
	router.POST("/reminders", handlers.CronBilling.SendReminders)
	router.POST("/payments/retry", handlers.CronPayment.RetryPayments)
	router.POST("/reconciliation", handlers.CronReconciliation.RunReconciliation)
	router.POST("/alerts/evaluate", handlers.CronAlert.EvaluateAlerts)
	router.POST("/exchange-rates/sync", handlers.CronExchangeRate.SyncRates)
}
