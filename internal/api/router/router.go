package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/product-video/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, middleware ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(middleware...)

	service := deps.ServiceName
	if service == "" {
		service = "video-api-service"
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	jobHandler := handler.NewJobHandler(deps)
	accountHandler := handler.NewAccountHandler(deps)
	deliveryHandler := handler.NewDeliveryHandler(deps)
	cronHandler := handler.NewCronHandler(deps)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/templates", handler.ListTemplates)

		accounts := v1.Group("/accounts/:account_id")
		{
			accounts.PUT("", accountHandler.EnsureAccount)
			accounts.GET("", accountHandler.GetAccount)
			accounts.DELETE("", accountHandler.DeleteAccount)
			accounts.POST("/plan", accountHandler.ChangePlan)

			accounts.POST("/video-jobs", jobHandler.CreateJob)
			accounts.GET("/video-jobs", jobHandler.ListJobs)
			accounts.GET("/video-jobs/:job_id", jobHandler.GetJob)
		}

		// Signed callback from the external delivery scheduler
		v1.POST("/deliveries/video-jobs", deliveryHandler.Deliver)

		cron := v1.Group("/cron")
		{
			cron.GET("/reset-billing", cronHandler.ResetBilling)
			cron.POST("/reset-billing", cronHandler.ResetBilling)
		}
	}

	return r
}
