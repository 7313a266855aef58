package controller

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

type LeadController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewLeadController(db *gorm.DB, logger *log.Logger) *LeadController {
	return &LeadController{
		DB:     db,
		Logger: logger,
	}
}

// CreateLead creates a new lead with validation
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	var input struct {
		Email     string `json:"email" validate:"required,email"`
		Phone     string `json:"phone" validate:"omitempty,max=32"`
		Name      string `json:"name" validate:"omitempty,max=200"`
		Company   string `json:"company" validate:"omitempty,max=200"`
		Headcount int    `json:"headcount" validate:"omitempty,min=0"`
		Theme     string `json:"theme" validate:"omitempty,max=200"`
		Memo      string `json:"memo"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lead := models.Lead{
		Email:     strings.ToLower(input.Email),
		Phone:     input.Phone,
		Name:      input.Name,
		Company:   input.Company,
		Headcount: input.Headcount,
		Theme:     input.Theme,
		Status:    models.LeadStatusNew,
		Memo:      input.Memo,
	}

	if err := lc.DB.Create(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

// GetLeads returns paginated leads with optional status filter
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := lc.DB.Model(&models.Lead{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if search := c.Query("q"); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("lower(email) LIKE ? OR lower(name) LIKE ? OR lower(company) LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count leads", err)
	}

	var leads []models.Lead
	if err := query.Order("created_at desc").
		Offset((page - 1) * limit).Limit(limit).
		Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	var lead models.Lead
	if err := lc.DB.First(&lead, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	return c.JSON(utils.SuccessResponse(lead))
}

// UpdateLead mutates contact, qualification and status fields. Status
// transitions are unordered, but every transition lands on the timeline.
func (lc *LeadController) UpdateLead(c *fiber.Ctx) error {
	var lead models.Lead
	if err := lc.DB.First(&lead, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	var input struct {
		Email     *string `json:"email" validate:"omitempty,email"`
		Phone     *string `json:"phone"`
		Name      *string `json:"name"`
		Company   *string `json:"company"`
		Headcount *int    `json:"headcount"`
		Theme     *string `json:"theme"`
		Status    *string `json:"status"`
		Memo      *string `json:"memo"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if input.Status != nil && !models.ValidLeadStatus(*input.Status) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead status", nil)
	}

	previousStatus := lead.Status

	if input.Email != nil {
		lead.Email = strings.ToLower(*input.Email)
	}
	if input.Phone != nil {
		lead.Phone = *input.Phone
	}
	if input.Name != nil {
		lead.Name = *input.Name
	}
	if input.Company != nil {
		lead.Company = *input.Company
	}
	if input.Headcount != nil {
		lead.Headcount = *input.Headcount
	}
	if input.Theme != nil {
		lead.Theme = *input.Theme
	}
	if input.Status != nil {
		lead.Status = *input.Status
	}
	if input.Memo != nil {
		lead.Memo = *input.Memo
	}

	if err := lc.DB.Save(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
	}

	if input.Status != nil && *input.Status != previousStatus {
		activity := models.LeadActivity{
			LeadID:       lead.ID,
			ActivityType: models.ActivityStatusChange,
			ActivityAt:   time.Now(),
			Details:      fmt.Sprintf(`{"from":%q,"to":%q}`, previousStatus, lead.Status),
		}
		if err := lc.DB.Create(&activity).Error; err != nil {
			lc.Logger.Printf("Failed to record status change for lead %d: %v", lead.ID, err)
		}
	}

	return c.JSON(utils.SuccessResponse(lead))
}

func (lc *LeadController) DeleteLead(c *fiber.Ctx) error {
	var lead models.Lead
	if err := lc.DB.First(&lead, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	if err := lc.DB.Delete(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete lead", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": lead.ID}))
}

// GetLeadScore computes the lead's score from its message and event
// history. The score is derived on read, never stored.
func (lc *LeadController) GetLeadScore(c *fiber.Ctx) error {
	var lead models.Lead
	if err := lc.DB.First(&lead, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	var messages []models.Message
	if err := lc.DB.Where("lead_id = ?", lead.ID).Find(&messages).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch messages", err)
	}

	var events []models.MessageEvent
	if len(messages) > 0 {
		ids := make([]uint, len(messages))
		for i, m := range messages {
			ids[i] = m.ID
		}
		if err := lc.DB.Where("message_id IN ?", ids).Find(&events).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch events", err)
		}
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"lead_id": lead.ID,
		"score":   utils.Score(&lead, messages, events),
	}))
}

// GetLeadTimeline returns the lead's activity log, newest first.
func (lc *LeadController) GetLeadTimeline(c *fiber.Ctx) error {
	var lead models.Lead
	if err := lc.DB.First(&lead, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	var activities []models.LeadActivity
	if err := lc.DB.Where("lead_id = ?", lead.ID).
		Order("activity_at desc").Find(&activities).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch timeline", err)
	}

	return c.JSON(utils.SuccessResponse(activities))
}
