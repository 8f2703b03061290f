package adminRoutes

import (
	controllers "loanflow/controllers/admin"
	"loanflow/middleware"
	validators "loanflow/validators/admin"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes sets up the back-office routes
func SetupAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin")

	adminGroup.Post("/login", validators.Login(), controllers.Login)

	adminGroup.Get("/customers", middleware.JWTMiddleware, validators.List(), controllers.ListCustomers)
	adminGroup.Get("/applications", middleware.JWTMiddleware, validators.List(), controllers.ListApplications)
	adminGroup.Get("/verifications", middleware.JWTMiddleware, validators.List(), controllers.ListVerifications)
	adminGroup.Get("/sessions/:sessionId", middleware.JWTMiddleware, controllers.GetSessionTranscript)
}
