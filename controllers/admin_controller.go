package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

type AdminController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewAdminController(db *gorm.DB, logger *log.Logger) *AdminController {
	return &AdminController{
		DB:     db,
		Logger: logger,
	}
}

// abVariantStats is a read-side rollup over Message/MessageEvent rows for
// one variant of an A/B test.
type abVariantStats struct {
	Variant string `json:"variant"`
	Sent    int64  `json:"sent"`
	Opened  int64  `json:"opened"`
	Clicked int64  `json:"clicked"`
}

// GetABTestStats aggregates variant performance for an ab_key. Opened and
// clicked count unique messages with at least one matching event; raw hit
// counts live on the message detail endpoint.
func (ac *AdminController) GetABTestStats(c *fiber.Ctx) error {
	abKey := c.Query("ab_key")
	if abKey == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "ab_key query parameter is required", nil)
	}

	var stats []abVariantStats
	err := ac.DB.Raw(`
        SELECT m.variant,
               COUNT(*) AS sent,
               SUM(CASE WHEN EXISTS (
                   SELECT 1 FROM message_events e
                   WHERE e.message_id = m.id AND e.type = 'open'
               ) THEN 1 ELSE 0 END) AS opened,
               SUM(CASE WHEN EXISTS (
                   SELECT 1 FROM message_events e
                   WHERE e.message_id = m.id AND e.type = 'click'
               ) THEN 1 ELSE 0 END) AS clicked
        FROM messages m
        WHERE m.ab_key = ? AND m.status = 'sent' AND m.deleted_at IS NULL
        GROUP BY m.variant
        ORDER BY m.variant
    `, abKey).Scan(&stats).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to aggregate A/B stats", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"ab_key":   abKey,
		"variants": stats,
	}))
}

// GetSequencePerformance returns the run/open/click/conversion rollup for
// one sequence.
func (ac *AdminController) GetSequencePerformance(c *fiber.Ctx) error {
	sequenceID := c.Query("sequence_id")
	if sequenceID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "sequence_id query parameter is required", nil)
	}

	var sequence models.Sequence
	if err := ac.DB.First(&sequence, sequenceID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var stats struct {
		RunsTotal       int64 `json:"runs_total"`
		RunsActive      int64 `json:"runs_active"`
		RunsCompleted   int64 `json:"runs_completed"`
		RunsCancelled   int64 `json:"runs_cancelled"`
		MessagesSent    int64 `json:"messages_sent"`
		MessagesOpened  int64 `json:"messages_opened"`
		MessagesClicked int64 `json:"messages_clicked"`
		Conversions     int64 `json:"conversions"`
	}

	runs := ac.DB.Model(&models.SequenceRun{}).Where("sequence_id = ?", sequence.ID)
	if err := runs.Count(&stats.RunsTotal).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count runs", err)
	}
	ac.DB.Model(&models.SequenceRun{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.RunStatusActive).
		Count(&stats.RunsActive)
	ac.DB.Model(&models.SequenceRun{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.RunStatusCompleted).
		Count(&stats.RunsCompleted)
	ac.DB.Model(&models.SequenceRun{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.RunStatusCancelled).
		Count(&stats.RunsCancelled)

	// Scanned separately: a struct Scan rebuilds its destination from the
	// result columns and would wipe the run counts above.
	var messageStats struct {
		MessagesSent    int64
		MessagesOpened  int64
		MessagesClicked int64
	}
	err := ac.DB.Raw(`
        SELECT COUNT(*) AS messages_sent,
               SUM(CASE WHEN EXISTS (
                   SELECT 1 FROM message_events e
                   WHERE e.message_id = m.id AND e.type = 'open'
               ) THEN 1 ELSE 0 END) AS messages_opened,
               SUM(CASE WHEN EXISTS (
                   SELECT 1 FROM message_events e
                   WHERE e.message_id = m.id AND e.type = 'click'
               ) THEN 1 ELSE 0 END) AS messages_clicked
        FROM messages m
        JOIN sequence_runs r ON m.sequence_run_id = r.id
        WHERE r.sequence_id = ? AND m.status = 'sent' AND m.deleted_at IS NULL
    `, sequence.ID).Scan(&messageStats).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to aggregate messages", err)
	}
	stats.MessagesSent = messageStats.MessagesSent
	stats.MessagesOpened = messageStats.MessagesOpened
	stats.MessagesClicked = messageStats.MessagesClicked

	// Conversions: enrolled leads that ended up won.
	err = ac.DB.Raw(`
        SELECT COUNT(DISTINCT l.id)
        FROM leads l
        JOIN sequence_runs r ON r.lead_id = l.id
        WHERE r.sequence_id = ? AND l.status = 'won' AND l.deleted_at IS NULL
    `, sequence.ID).Scan(&stats.Conversions).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count conversions", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"sequence_id": sequence.ID,
		"name":        sequence.Name,
		"stats":       stats,
	}))
}

// GetDashboardStats returns the headline numbers for the admin console.
func (ac *AdminController) GetDashboardStats(c *fiber.Ctx) error {
	var stats struct {
		TotalLeads     int64            `json:"total_leads"`
		LeadsByStatus  map[string]int64 `json:"leads_by_status"`
		MessagesSent   int64            `json:"messages_sent"`
		MessagesFailed int64            `json:"messages_failed"`
		OpenEvents     int64            `json:"open_events"`
		ClickEvents    int64            `json:"click_events"`
		ActiveRuns     int64            `json:"active_runs"`
	}
	stats.LeadsByStatus = make(map[string]int64)

	if err := ac.DB.Model(&models.Lead{}).Count(&stats.TotalLeads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count leads", err)
	}

	var byStatus []struct {
		Status string
		N      int64
	}
	if err := ac.DB.Model(&models.Lead{}).
		Select("status, COUNT(*) AS n").Group("status").
		Scan(&byStatus).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to group leads", err)
	}
	for _, row := range byStatus {
		stats.LeadsByStatus[row.Status] = row.N
	}

	ac.DB.Model(&models.Message{}).Where("status = ?", models.MessageStatusSent).Count(&stats.MessagesSent)
	ac.DB.Model(&models.Message{}).Where("status = ?", models.MessageStatusFailed).Count(&stats.MessagesFailed)
	ac.DB.Model(&models.MessageEvent{}).Where("type = ?", models.EventOpen).Count(&stats.OpenEvents)
	ac.DB.Model(&models.MessageEvent{}).Where("type = ?", models.EventClick).Count(&stats.ClickEvents)
	ac.DB.Model(&models.SequenceRun{}).Where("status = ?", models.RunStatusActive).Count(&stats.ActiveRuns)

	return c.JSON(utils.SuccessResponse(stats))
}
