package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-enroll-api/internal/handler"
	"github.com/noah-isme/uni-enroll-api/internal/middleware"
	"github.com/noah-isme/uni-enroll-api/internal/models"
	"github.com/noah-isme/uni-enroll-api/internal/repository"
	"github.com/noah-isme/uni-enroll-api/internal/service"
	"github.com/noah-isme/uni-enroll-api/pkg/config"
)

type routeDeps struct {
	auth         *service.AuthService
	documents    *service.DocumentService
	enrollments  *service.EnrollmentService
	contracts    *service.ContractService
	reenrollment *service.ReenrollmentService
	grades       *service.GradeService
	metrics      *service.MetricsService
	users        *repository.UserRepository
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(deps.metrics.Handler()))

	authHandler := handler.NewAuthHandler(deps.auth)
	documentHandler := handler.NewDocumentHandler(deps.documents)
	enrollmentHandler := handler.NewEnrollmentHandler(deps.enrollments, deps.metrics)
	contractHandler := handler.NewContractHandler(deps.contracts, deps.metrics)
	reenrollmentHandler := handler.NewReenrollmentHandler(deps.reenrollment, deps.metrics)
	gradeHandler := handler.NewGradeHandler(deps.grades, deps.metrics)

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(deps.auth))

	documents := authed.Group("/documents")
	{
		documents.POST("", documentHandler.Upload)
		documents.POST("/:id/review",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(deps.users, models.AuditActionDocumentReview, "documents"),
			documentHandler.Review)
		documents.GET("/:id/download-url", documentHandler.DownloadURL)
		documents.GET("/:id/download", documentHandler.Download)
	}
	authed.GET("/users/:id/documents/required",
		middleware.RBAC(string(models.RoleAdmin), "SELF"),
		documentHandler.RequiredTypes)
	authed.GET("/users/:id/documents/approval",
		middleware.RequireRoles(models.RoleAdmin),
		documentHandler.Approval)

	enrollments := authed.Group("/enrollments")
	{
		enrollments.GET("", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.List)
		enrollments.GET("/:id", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Get)
		enrollments.POST("", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Create)
		enrollments.POST("/:id/activate",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(deps.users, models.AuditActionEnrollmentChange, "enrollments"),
			enrollmentHandler.Activate)
		enrollments.POST("/:id/cancel",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(deps.users, models.AuditActionEnrollmentChange, "enrollments"),
			enrollmentHandler.Cancel)
	}

	contracts := authed.Group("/contracts")
	{
		contracts.POST("", middleware.RequireRoles(models.RoleAdmin), contractHandler.Generate)
		contracts.GET("", contractHandler.List)
		contracts.GET("/:id", contractHandler.Get)
		contracts.GET("/:id/download", contractHandler.Download)
		contracts.POST("/:id/accept", contractHandler.Accept)
	}

	authed.POST("/reenrollment/run", middleware.RequireRoles(models.RoleAdmin), reenrollmentHandler.Run)

	evaluations := authed.Group("/evaluations")
	evaluations.Use(middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin))
	{
		evaluations.POST("", gradeHandler.CreateEvaluation)
		evaluations.GET("/:id/grades", gradeHandler.ListGrades)
		evaluations.POST("/:id/grades", gradeHandler.SubmitBatch)
	}
}
