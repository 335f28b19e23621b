package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/service"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Auth        service.AuthService
	Items       service.ItemService
	Templates   service.TemplateService
	Enrollments service.EnrollmentService
	Periods     service.PeriodManager
	Tracker     service.ExecutionTracker
	Bookings    service.BookingService
	Archive     service.ArchiveService
}

func SetupRoutes(router *gin.Engine, log *zap.Logger, svc Services) {
	authHandler := NewAuthHandler(svc.Auth)
	itemHandler := NewItemHandler(svc.Items)
	coachHandler := NewCoachHandler(svc.Templates, svc.Bookings, svc.Enrollments, svc.Archive)
	clientHandler := NewClientHandler(svc.Enrollments, svc.Tracker, svc.Bookings)
	scheduleHandler := NewScheduleHandler(svc.Bookings, svc.Enrollments, svc.Periods)

	router.Use(RequestID(), RequestLogger(log))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}
	}

	protected := apiV1.Group("")
	protected.Use(AuthMiddleware(svc.Auth))
	{
		protected.GET("/me", authHandler.Me)

		// --- Shared Routes ---
		protected.GET("/coaches/:coachId/slots", scheduleHandler.ListSlots)
		protected.DELETE("/bookings/:id", scheduleHandler.CancelBooking)
		protected.POST("/enrollments/:id/periods/:index", scheduleHandler.EnsurePeriod)

		// --- Coach Routes ---
		coachGroup := protected.Group("/coach")
		coachGroup.Use(RoleMiddleware(domain.RoleCoach))
		{
			coachGroup.POST("/items", itemHandler.CreateItem)
			coachGroup.GET("/items", itemHandler.GetCoachItems)
			coachGroup.PUT("/items/:id", itemHandler.UpdateItem)
			coachGroup.DELETE("/items/:id", itemHandler.DeleteItem)

			coachGroup.PUT("/programs/:programId/template", coachHandler.SaveTemplate)
			coachGroup.GET("/programs/:programId/template", coachHandler.GetTemplate)

			coachGroup.POST("/availability", coachHandler.AddAvailability)
			coachGroup.GET("/availability", coachHandler.ListAvailability)
			coachGroup.DELETE("/availability/:id", coachHandler.RemoveAvailability)

			coachGroup.GET("/enrollments", coachHandler.ListEnrollments)
			coachGroup.POST("/enrollments/:id/archive", coachHandler.ArchiveEnrollment)
			coachGroup.GET("/enrollments/:id/archive", coachHandler.GetArchive)
			coachGroup.GET("/enrollments/:id/archive/export", coachHandler.GetArchiveExport)
			coachGroup.GET("/bookings", clientHandler.ListBookings)
		}

		// --- Client Routes ---
		clientGroup := protected.Group("/client")
		clientGroup.Use(RoleMiddleware(domain.RoleClient))
		{
			clientGroup.POST("/enrollments", clientHandler.Enroll)
			clientGroup.GET("/enrollments", clientHandler.ListEnrollments)
			clientGroup.GET("/enrollments/:id", clientHandler.GetEnrollment)
			clientGroup.DELETE("/enrollments/:id", clientHandler.CancelEnrollment)
			clientGroup.GET("/enrollments/:id/executions", clientHandler.ListExecutions)
			clientGroup.PATCH("/executions/:id", clientHandler.MarkExecution)

			clientGroup.GET("/credits", clientHandler.ListCredits)
			clientGroup.POST("/bookings", clientHandler.Book)
			clientGroup.GET("/bookings", clientHandler.ListBookings)
		}
	}
}
