package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

type MessageController struct {
	DB         *gorm.DB
	Dispatcher *utils.Dispatcher
	Logger     *log.Logger
}

func NewMessageController(db *gorm.DB, dispatcher *utils.Dispatcher, logger *log.Logger) *MessageController {
	return &MessageController{
		DB:         db,
		Dispatcher: dispatcher,
		Logger:     logger,
	}
}

type sendInput struct {
	LeadID     uint   `json:"lead_id" validate:"required"`
	TemplateID *uint  `json:"template_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ABKey      string `json:"ab_key"`
	Variant    string `json:"variant"`
}

// SendEmail dispatches an ad hoc email to a lead.
func (mc *MessageController) SendEmail(c *fiber.Ctx) error {
	return mc.send(c, models.ChannelEmail)
}

// SendSMS dispatches an ad hoc SMS to a lead.
func (mc *MessageController) SendSMS(c *fiber.Ctx) error {
	return mc.send(c, models.ChannelSMS)
}

func (mc *MessageController) send(c *fiber.Ctx, channel string) error {
	var input sendInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if input.TemplateID == nil && input.Body == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Either template_id or body is required", nil)
	}

	message, err := mc.Dispatcher.Send(utils.SendInput{
		LeadID:     input.LeadID,
		Channel:    channel,
		TemplateID: input.TemplateID,
		Subject:    input.Subject,
		Body:       input.Body,
		ABKey:      input.ABKey,
		Variant:    input.Variant,
	})
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrNotFound):
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead or template not found", nil)
		case utils.IsMissingContactInfo(err):
			return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Lead is missing contact info for this channel", err)
		case utils.IsTransportFailure(err):
			// The failed message record is the outcome; report it without
			// masking the created row.
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success": false,
				"error":   "Transport failure",
				"data":    message,
			})
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to send message", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(message))
}

// GetMessage returns a message with its engagement events.
func (mc *MessageController) GetMessage(c *fiber.Ctx) error {
	var message models.Message
	if err := mc.DB.First(&message, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Message not found", nil)
	}

	var events []models.MessageEvent
	if err := mc.DB.Where("message_id = ?", message.ID).
		Order("ts asc").Find(&events).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch events", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": message,
		"events":  events,
	}))
}

// GetLeadMessages returns all messages for a lead, newest first.
func (mc *MessageController) GetLeadMessages(c *fiber.Ctx) error {
	var lead models.Lead
	if err := mc.DB.First(&lead, c.Params("leadId")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	var messages []models.Message
	if err := mc.DB.Where("lead_id = ?", lead.ID).
		Order("created_at desc").Find(&messages).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch messages", err)
	}
	return c.JSON(utils.SuccessResponse(messages))
}
