package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
	"leadflow/worker"
)

type SequenceController struct {
	DB     *gorm.DB
	Engine *worker.SequenceWorker
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, engine *worker.SequenceWorker, logger *log.Logger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Engine: engine,
		Logger: logger,
	}
}

type sequenceStepInput struct {
	DelayHours int                    `json:"delay_hours" validate:"min=0"`
	Channel    string                 `json:"channel" validate:"required,oneof=email sms"`
	TemplateID uint                   `json:"template_id" validate:"required"`
	Conditions *models.StepConditions `json:"conditions,omitempty"`

	ABKey              string `json:"ab_key,omitempty"`
	VariantTemplateIDs []uint `json:"variant_template_ids,omitempty"`
}

type sequenceInput struct {
	Name        string              `json:"name" validate:"required,max=200"`
	Description string              `json:"description"`
	Steps       []sequenceStepInput `json:"steps" validate:"required,min=1,dive"`
}

// validateSteps enforces the step invariants: step 0 fires immediately
// and unconditionally, and every referenced template must exist and match
// the step's channel.
func (sc *SequenceController) validateSteps(steps []sequenceStepInput) error {
	for i, step := range steps {
		if i == 0 && (step.Conditions != nil || step.DelayHours != 0) {
			return errors.New("step 0 must have no delay and no conditions")
		}

		ids := append([]uint{step.TemplateID}, step.VariantTemplateIDs...)
		for _, id := range ids {
			var tmpl models.Template
			if err := sc.DB.First(&tmpl, id).Error; err != nil {
				return errors.New("template not found")
			}
			if tmpl.Channel != step.Channel {
				return errors.New("template channel does not match step channel")
			}
		}
	}
	return nil
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := sc.validateSteps(input.Steps); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid steps", err)
	}

	sequence := models.Sequence{
		Name:        input.Name,
		Description: input.Description,
	}
	for i, step := range input.Steps {
		sequence.Steps = append(sequence.Steps, models.SequenceStep{
			StepNumber:         i,
			DelayHours:         step.DelayHours,
			Channel:            step.Channel,
			TemplateID:         step.TemplateID,
			Conditions:         step.Conditions,
			ABKey:              step.ABKey,
			VariantTemplateIDs: step.VariantTemplateIDs,
		})
	}

	if err := sc.DB.Create(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	var sequences []models.Sequence
	if err := sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence_steps.step_number asc")
	}).Order("created_at desc").Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", err)
	}
	return c.JSON(utils.SuccessResponse(sequences))
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence_steps.step_number asc")
	}).First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}
	return c.JSON(utils.SuccessResponse(sequence))
}

// UpdateSequence replaces the sequence's name and step list. Active runs
// keep advancing against the new step list on their next due step.
func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := sc.validateSteps(input.Steps); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid steps", err)
	}

	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		sequence.Name = input.Name
		sequence.Description = input.Description
		if err := tx.Save(&sequence).Error; err != nil {
			return err
		}

		if err := tx.Where("sequence_id = ?", sequence.ID).
			Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
		for i, step := range input.Steps {
			record := models.SequenceStep{
				SequenceID:         sequence.ID,
				StepNumber:         i,
				DelayHours:         step.DelayHours,
				Channel:            step.Channel,
				TemplateID:         step.TemplateID,
				Conditions:         step.Conditions,
				ABKey:              step.ABKey,
				VariantTemplateIDs: step.VariantTemplateIDs,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}

	return sc.GetSequence(c)
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var active int64
	if err := sc.DB.Model(&models.SequenceRun{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.RunStatusActive).
		Count(&active).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check runs", err)
	}
	if active > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Sequence has active runs", nil)
	}

	if err := sc.DB.Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceStep{}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete steps", err)
	}
	if err := sc.DB.Delete(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sequence", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": sequence.ID}))
}

// RunSequence starts a run for a (lead, sequence) pair. Step 0 fires
// before the response returns.
func (sc *SequenceController) RunSequence(c *fiber.Ctx) error {
	var input struct {
		LeadID     uint `json:"lead_id" validate:"required"`
		SequenceID uint `json:"sequence_id" validate:"required"`
		Force      bool `json:"force"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	run, err := sc.Engine.StartRun(input.LeadID, input.SequenceID, input.Force)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrNotFound):
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead or sequence not found", nil)
		case errors.Is(err, worker.ErrActiveRunExists):
			return utils.ErrorResponse(c, fiber.StatusConflict, "An active run already exists for this lead and sequence", nil)
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start run", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(run))
}

// GetSequenceRuns lists runs of a sequence with their step history.
func (sc *SequenceController) GetSequenceRuns(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var runs []models.SequenceRun
	if err := sc.DB.Preload("Steps").
		Where("sequence_id = ?", sequence.ID).
		Order("created_at desc").Find(&runs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch runs", err)
	}
	return c.JSON(utils.SuccessResponse(runs))
}

// CancelRun cancels an active run by id.
func (sc *SequenceController) CancelRun(c *fiber.Ctx) error {
	runID := utils.ParseUint(c.Params("id"))
	if err := sc.Engine.CancelRun(runID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Run not found", nil)
		}
		if errors.Is(err, utils.ErrConcurrentUpdate) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Run was updated concurrently, try again", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel run", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"cancelled": runID}))
}
