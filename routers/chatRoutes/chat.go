package chatRoutes

import (
	controllers "loanflow/controllers/chat"
	validators "loanflow/validators/chat"

	"github.com/gofiber/fiber/v2"
)

// SetupChatRoutes sets up the conversational loan application routes
func SetupChatRoutes(app *fiber.App) {
	chatGroup := app.Group("/chat")

	chatGroup.Post("/start", controllers.StartChat)
	chatGroup.Post("/message", validators.Message(), controllers.SendMessage)

	chatGroup.Post("/upload/pan", validators.ImageUpload(), controllers.UploadPanCard)
	chatGroup.Post("/upload/selfie", validators.ImageUpload(), controllers.UploadSelfie)
	chatGroup.Post("/upload/salary-slip", validators.DocumentUpload(), controllers.UploadSalarySlip)

	chatGroup.Get("/sanction-letter/:loanId", controllers.DownloadSanctionLetter)
}
