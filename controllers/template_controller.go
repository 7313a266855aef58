package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

type TemplateController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTemplateController(db *gorm.DB, logger *log.Logger) *TemplateController {
	return &TemplateController{
		DB:     db,
		Logger: logger,
	}
}

type templateInput struct {
	Channel string `json:"channel" validate:"required,oneof=email sms"`
	Name    string `json:"name" validate:"required,max=200"`
	Subject string `json:"subject" validate:"omitempty,max=500"`
	Body    string `json:"body" validate:"required"`
}

func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	var input templateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	template := models.Template{
		Channel: input.Channel,
		Name:    input.Name,
		Subject: input.Subject,
		Body:    input.Body,
	}
	if err := tc.DB.Create(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create template", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(template))
}

func (tc *TemplateController) GetTemplates(c *fiber.Ctx) error {
	query := tc.DB.Model(&models.Template{})
	if channel := c.Query("channel"); channel != "" {
		query = query.Where("channel = ?", channel)
	}

	var templates []models.Template
	if err := query.Order("created_at desc").Find(&templates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch templates", err)
	}
	return c.JSON(utils.SuccessResponse(templates))
}

func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	var template models.Template
	if err := tc.DB.First(&template, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}
	return c.JSON(utils.SuccessResponse(template))
}

// UpdateTemplate edits a template in place. Already-sent messages keep
// their rendered snapshot, so history is unaffected.
func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	var template models.Template
	if err := tc.DB.First(&template, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var input templateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	template.Channel = input.Channel
	template.Name = input.Name
	template.Subject = input.Subject
	template.Body = input.Body

	if err := tc.DB.Save(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update template", err)
	}
	return c.JSON(utils.SuccessResponse(template))
}

// DeleteTemplate refuses to delete templates referenced by sent messages
// or sequence steps.
func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	var template models.Template
	if err := tc.DB.First(&template, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var referenced int64
	if err := tc.DB.Model(&models.Message{}).
		Where("template_id = ?", template.ID).Count(&referenced).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check references", err)
	}
	if referenced == 0 {
		if err := tc.DB.Model(&models.SequenceStep{}).
			Where("template_id = ?", template.ID).Count(&referenced).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check references", err)
		}
	}
	if referenced > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Template is referenced by messages or sequence steps", nil)
	}

	if err := tc.DB.Delete(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete template", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": template.ID}))
}

// PreviewTemplate renders the template against an ad hoc variable bag so
// the admin UI can show partially filled previews.
func (tc *TemplateController) PreviewTemplate(c *fiber.Ctx) error {
	var template models.Template
	if err := tc.DB.First(&template, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var input struct {
		Vars map[string]string `json:"vars"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"subject": utils.Render(template.Subject, input.Vars),
		"body":    utils.Render(template.Body, input.Vars),
	}))
}
