package controller

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

type TrackingController struct {
	DB      *gorm.DB
	Tracker *utils.Tracker
	Logger  *log.Logger
}

func NewTrackingController(db *gorm.DB, tracker *utils.Tracker, logger *log.Logger) *TrackingController {
	return &TrackingController{
		DB:      db,
		Tracker: tracker,
		Logger:  logger,
	}
}

// HandleOpen serves the tracking pixel: records an open event for the
// token's message and returns a 1x1 transparent gif. Every hit is
// recorded; aggregation decides what counts as unique.
func (tc *TrackingController) HandleOpen(c *fiber.Ctx) error {
	token := c.Query("m")
	if token == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing token")
	}

	message, err := tc.Tracker.MessageByToken(token)
	if err == nil {
		if _, err := tc.Tracker.RecordOpen(message.ID, utils.EventMeta{
			IPAddress: c.IP(),
			UserAgent: c.Get("User-Agent"),
		}); err != nil {
			tc.Logger.Printf("Failed to record open for message %d: %v", message.ID, err)
		}
	}

	// Always return the pixel: a broken token must not break the email.
	return c.Type("gif").Send(transparentPixel())
}

// HandleClick records a click event and redirects to the original URL.
func (tc *TrackingController) HandleClick(c *fiber.Ctx) error {
	token := c.Query("m")
	destination := c.Query("u")
	if token == "" || destination == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing token or url")
	}

	message, err := tc.Tracker.MessageByToken(token)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			// Unknown token still redirects; the destination is in the URL.
			return c.Redirect(destination, fiber.StatusFound)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resolve token", err)
	}

	if _, err := tc.Tracker.RecordClick(message.ID, destination, utils.EventMeta{
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	}); err != nil {
		tc.Logger.Printf("Failed to record click for message %d: %v", message.ID, err)
	}

	return c.Redirect(destination, fiber.StatusFound)
}

// HandleUnsubscribe flags the message's lead as unsubscribed, which also
// cancels the lead's in-flight sequence runs on their next due check.
func (tc *TrackingController) HandleUnsubscribe(c *fiber.Ctx) error {
	token := c.Query("m")
	if token == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing token")
	}

	message, err := tc.Tracker.MessageByToken(token)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).SendString("unknown token")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resolve token", err)
	}

	if err := tc.DB.Model(&models.Lead{}).
		Where("id = ?", message.LeadID).
		Update("is_unsubscribed", true).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to unsubscribe", err)
	}

	activity := models.LeadActivity{
		LeadID:       message.LeadID,
		ActivityType: models.ActivityUnsubscribed,
		ActivityAt:   time.Now(),
	}
	if err := tc.DB.Create(&activity).Error; err != nil {
		tc.Logger.Printf("Failed to record unsubscribe activity: %v", err)
	}

	return c.SendString("You have been unsubscribed.")
}

func transparentPixel() []byte {
	// 1x1 transparent GIF
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
		0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3b,
	}
}
