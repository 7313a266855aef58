package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "leadflow/controllers"
	"leadflow/middleware"
	"leadflow/utils"
	"leadflow/worker"
)

// SetupRoutes wires every HTTP surface: the admin API under /api/v1, and
// the public tracking endpoints under /t.
func SetupRoutes(app *fiber.App, db *gorm.DB, dispatcher *utils.Dispatcher, tracker *utils.Tracker, engine *worker.SequenceWorker) {
	leadController := controller.NewLeadController(db, log.New(os.Stdout, "LEAD: ", log.LstdFlags))
	templateController := controller.NewTemplateController(db, log.New(os.Stdout, "TEMPLATE: ", log.LstdFlags))
	sequenceController := controller.NewSequenceController(db, engine, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	messageController := controller.NewMessageController(db, dispatcher, log.New(os.Stdout, "MESSAGE: ", log.LstdFlags))
	trackingController := controller.NewTrackingController(db, tracker, log.New(os.Stdout, "TRACK: ", log.LstdFlags))
	adminController := controller.NewAdminController(db, log.New(os.Stdout, "ADMIN: ", log.LstdFlags))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Public tracking endpoints: pixel, click redirect, unsubscribe.
	track := app.Group("/t", middleware.TrackRateLimiter())
	track.Get("/o", trackingController.HandleOpen)
	track.Get("/c", trackingController.HandleClick)
	track.Get("/u", trackingController.HandleUnsubscribe)

	// API group with versioning
	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/", leadController.GetLeads)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id", leadController.UpdateLead)
	lead.Delete("/:id", leadController.DeleteLead)
	lead.Get("/:id/score", leadController.GetLeadScore)
	lead.Get("/:id/timeline", leadController.GetLeadTimeline)

	// Template routes
	template := api.Group("/templates")
	template.Post("/", templateController.CreateTemplate)
	template.Get("/", templateController.GetTemplates)
	template.Get("/:id", templateController.GetTemplate)
	template.Put("/:id", templateController.UpdateTemplate)
	template.Delete("/:id", templateController.DeleteTemplate)
	template.Post("/:id/preview", templateController.PreviewTemplate)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Post("/run", sequenceController.RunSequence)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)
	sequence.Get("/:id/runs", sequenceController.GetSequenceRuns)

	// Run routes
	api.Post("/runs/:id/cancel", sequenceController.CancelRun)
	app.Get("/api/v1/runs/progress", websocket.New(controller.HandleRunProgressWS(db)))

	// Message routes
	message := api.Group("/messages")
	message.Post("/send-email", messageController.SendEmail)
	message.Post("/send-sms", messageController.SendSMS)
	message.Get("/lead/:leadId", messageController.GetLeadMessages)
	message.Get("/:id", messageController.GetMessage)

	// Admin rollups
	admin := api.Group("/admin")
	admin.Get("/ab-tests", adminController.GetABTestStats)
	admin.Get("/sequences/performance", adminController.GetSequencePerformance)
	admin.Get("/dashboard", adminController.GetDashboardStats)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	log.Println("API routes initialized successfully")
}
