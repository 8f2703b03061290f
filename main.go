package main

import (
	"log"
	"loanflow/agents"
	"loanflow/config"
	chatController "loanflow/controllers/chat"
	"loanflow/database"
	adminRoutes "loanflow/routers/adminRoutes"
	chatRoutes "loanflow/routers/chatRoutes"
	"loanflow/utils"
	"loanflow/workflow"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func main() {
	config.LoadConfig()
	database.ConnectDb()

	client := agents.NewOpenAIClient()
	machine := workflow.NewMachine(
		database.Database.Db,
		agents.NewMasterAgent(client),
		agents.NewSalesAgent(client),
		agents.NewVerificationAgent(client),
		client.Model(),
	)
	chatController.Setup(machine)

	utils.InitializeSessionSweeper()

	app := fiber.New(fiber.Config{
		BodyLimit: 12 * 1024 * 1024, // uploads are capped per-route below this
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE",        // Allowed HTTP methods
		AllowHeaders: "Content-Type,Authorization", // Allowed headers
	}))

	// Enable the built-in logger middleware to log all requests
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status} ${latency}\n",
	}))

	chatRoutes.SetupChatRoutes(app)
	adminRoutes.SetupAdminRoutes(app)

	log.Printf("Server is running on port %s", config.AppConfig.Port)
	log.Fatal(app.Listen(":" + config.AppConfig.Port))
}
