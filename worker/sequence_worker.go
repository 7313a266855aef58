package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// ErrActiveRunExists is returned by StartRun when the (lead, sequence)
// pair already has an active run and force was not set.
var ErrActiveRunExists = errors.New("an active run already exists for this lead and sequence")

// SequenceWorker drives sequence runs: a periodic tick scans every active
// run whose due time has elapsed and advances it by one step. All state
// transitions go through an optimistic version check so concurrent ticks
// can never double-fire a step.
type SequenceWorker struct {
	DB         *gorm.DB
	Dispatcher *utils.Dispatcher
	Tracker    *utils.Tracker
	Logger     *log.Logger
	Interval   time.Duration

	// Now is the clock used for due-time decisions.
	Now func() time.Time
}

func NewSequenceWorker(db *gorm.DB, dispatcher *utils.Dispatcher, tracker *utils.Tracker, logger *log.Logger, interval time.Duration) *SequenceWorker {
	return &SequenceWorker{
		DB:         db,
		Dispatcher: dispatcher,
		Tracker:    tracker,
		Logger:     logger,
		Interval:   interval,
		Now:        time.Now,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	sw.Logger.Println("Sequence worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			sw.processDueRuns()
		}
	}
}

func (sw *SequenceWorker) processDueRuns() {
	now := sw.Now()

	var runs []models.SequenceRun
	if err := sw.DB.Where("status = ? AND next_due_at IS NOT NULL AND next_due_at <= ?",
		models.RunStatusActive, now).Find(&runs).Error; err != nil {
		sw.Logger.Printf("Error fetching due runs: %v", err)
		return
	}

	for _, run := range runs {
		if err := sw.safeProcessRun(run.ID); err != nil {
			if errors.Is(err, utils.ErrConcurrentUpdate) {
				// Another tick owns this run; it will be handled there.
				continue
			}
			sw.Logger.Printf("Error processing run %d: %v", run.ID, err)
		}
	}
}

// safeProcessRun isolates one run's failure from the rest of the tick.
func (sw *SequenceWorker) safeProcessRun(runID uint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing run %d: %v", runID, r)
		}
	}()
	return sw.ProcessRun(runID)
}

// StartRun creates a run for the (lead, sequence) pair and fires step 0
// immediately. Unless force is set, creation is idempotent per pair: at
// most one active run at a time.
func (sw *SequenceWorker) StartRun(leadID, sequenceID uint, force bool) (*models.SequenceRun, error) {
	var lead models.Lead
	if err := sw.DB.First(&lead, leadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNotFound
		}
		return nil, err
	}

	var sequence models.Sequence
	if err := sw.DB.Preload("Steps").First(&sequence, sequenceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNotFound
		}
		return nil, err
	}

	if !force {
		var active int64
		if err := sw.DB.Model(&models.SequenceRun{}).
			Where("lead_id = ? AND sequence_id = ? AND status = ?", leadID, sequenceID, models.RunStatusActive).
			Count(&active).Error; err != nil {
			return nil, err
		}
		if active > 0 {
			return nil, ErrActiveRunExists
		}
	}

	now := sw.Now()
	run := models.SequenceRun{
		SequenceID: sequenceID,
		LeadID:     leadID,
		Status:     models.RunStatusActive,
		StartedAt:  now,
		NextDueAt:  &now, // step 0 is due the moment the run exists
	}
	if err := sw.DB.Create(&run).Error; err != nil {
		return nil, err
	}

	activity := models.LeadActivity{
		LeadID:       leadID,
		ActivityType: models.ActivityEnrolled,
		ActivityAt:   now,
		Details:      fmt.Sprintf(`{"sequence_id":%d,"run_id":%d}`, sequenceID, run.ID),
	}
	if err := sw.DB.Create(&activity).Error; err != nil {
		sw.Logger.Printf("Failed to record enrollment activity: %v", err)
	}

	// Fire step 0 without waiting for the next tick. A failed send still
	// advances, so errors here are logged, not surfaced.
	if err := sw.ProcessRun(run.ID); err != nil && !errors.Is(err, utils.ErrConcurrentUpdate) {
		sw.Logger.Printf("Error firing step 0 of run %d: %v", run.ID, err)
	}

	if err := sw.DB.First(&run, run.ID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelRun cancels an active run. Completed runs stay completed.
func (sw *SequenceWorker) CancelRun(runID uint) error {
	var run models.SequenceRun
	if err := sw.DB.First(&run, runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrNotFound
		}
		return err
	}
	if run.Status != models.RunStatusActive {
		return nil
	}
	return sw.transition(&run, map[string]interface{}{
		"status":       models.RunStatusCancelled,
		"completed_at": sw.Now(),
		"next_due_at":  nil,
	})
}

// ProcessRun advances a run by at most one step, if that step is due.
// The step is claimed with a version CAS before any send happens: the
// tick that loses the race gets ErrConcurrentUpdate and must not retry.
func (sw *SequenceWorker) ProcessRun(runID uint) error {
	var run models.SequenceRun
	if err := sw.DB.First(&run, runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrNotFound
		}
		return err
	}
	if run.Status != models.RunStatusActive {
		return nil
	}

	now := sw.Now()
	if run.NextDueAt == nil || run.NextDueAt.After(now) {
		return nil
	}

	// Cancellation gate: a long-delay step must not fire after the lead's
	// status made the sequence irrelevant.
	var lead models.Lead
	if err := sw.DB.First(&lead, run.LeadID).Error; err != nil {
		return err
	}
	if sw.shouldCancel(&lead) {
		sw.Logger.Printf("Cancelling run %d: lead %d is %s (unsubscribed=%t)",
			run.ID, lead.ID, lead.Status, lead.IsUnsubscribed)
		return sw.transition(&run, map[string]interface{}{
			"status":       models.RunStatusCancelled,
			"completed_at": now,
			"next_due_at":  nil,
		})
	}

	var steps []models.SequenceStep
	if err := sw.DB.Where("sequence_id = ?", run.SequenceID).
		Order("step_number asc").Find(&steps).Error; err != nil {
		return err
	}

	if run.CurrentStep >= len(steps) {
		return sw.complete(&run, now)
	}

	step := steps[run.CurrentStep]

	skipReason, err := sw.evaluateConditions(&run, &step)
	if err != nil {
		return err
	}

	// Claim the step before dispatching. The next due time is anchored to
	// this step's processing time plus the following step's delay.
	claim := map[string]interface{}{
		"current_step": run.CurrentStep + 1,
	}
	if run.CurrentStep+1 < len(steps) {
		due := now.Add(time.Duration(steps[run.CurrentStep+1].DelayHours) * time.Hour)
		claim["next_due_at"] = due
	} else {
		claim["next_due_at"] = nil
		claim["status"] = models.RunStatusCompleted
		claim["completed_at"] = now
	}
	if err := sw.transition(&run, claim); err != nil {
		return err
	}

	if skipReason != "" {
		sw.Logger.Printf("Run %d step %d skipped: %s", run.ID, step.StepNumber, skipReason)
		return sw.recordStep(run.ID, step.StepNumber, models.StepOutcomeSkipped, nil, skipReason)
	}

	return sw.fireStep(&run, &lead, &step, now)
}

// shouldCancel decides which lead states make in-flight sequences
// irrelevant: closed leads (won or lost) and unsubscribed leads.
func (sw *SequenceWorker) shouldCancel(lead *models.Lead) bool {
	if lead.IsUnsubscribed {
		return true
	}
	return lead.Status == models.LeadStatusWon || lead.Status == models.LeadStatusLost
}

// evaluateConditions returns a non-empty reason when the step must be
// skipped. Step 0 never has conditions; both flags AND together, so either
// engagement triggers the skip.
func (sw *SequenceWorker) evaluateConditions(run *models.SequenceRun, step *models.SequenceStep) (string, error) {
	if run.CurrentStep == 0 || step.Conditions == nil {
		return "", nil
	}

	var prev models.Message
	err := sw.DB.Where("sequence_run_id = ?", run.ID).
		Order("id desc").First(&prev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Prior steps sent nothing (skipped or failed without a
			// message), so there is no engagement to branch on.
			return "", nil
		}
		return "", err
	}

	if step.Conditions.IfNotOpened {
		opened, err := sw.Tracker.HasOpened(prev.ID)
		if err != nil {
			return "", err
		}
		if opened {
			return "previous message was opened", nil
		}
	}
	if step.Conditions.IfNotClicked {
		clicked, err := sw.Tracker.HasClicked(prev.ID)
		if err != nil {
			return "", err
		}
		if clicked {
			return "previous message was clicked", nil
		}
	}
	return "", nil
}

func (sw *SequenceWorker) fireStep(run *models.SequenceRun, lead *models.Lead, step *models.SequenceStep, now time.Time) error {
	templateID := step.TemplateID
	abKey, variant := "", ""

	if step.ABKey != "" && len(step.VariantTemplateIDs) > 0 {
		labels := utils.VariantLabels(len(step.VariantTemplateIDs))
		variant = utils.AssignVariant(lead.ID, step.ABKey, labels)
		abKey = step.ABKey
		for i, label := range labels {
			if label == variant {
				templateID = step.VariantTemplateIDs[i]
				break
			}
		}
	}

	message, err := sw.Dispatcher.Send(utils.SendInput{
		LeadID:        lead.ID,
		Channel:       step.Channel,
		TemplateID:    &templateID,
		ABKey:         abKey,
		Variant:       variant,
		SequenceRunID: &run.ID,
		StepNumber:    &step.StepNumber,
	})

	if err != nil {
		// Contact-info and transport failures advance the run; the failed
		// message record (when one exists) is the audit trail. Automation
		// must not stall on one bad step.
		var messageID *uint
		if message != nil {
			messageID = &message.ID
		}
		sw.Logger.Printf("Run %d step %d send failed: %v", run.ID, step.StepNumber, err)
		return sw.recordStep(run.ID, step.StepNumber, models.StepOutcomeFailed, messageID, err.Error())
	}

	return sw.recordStep(run.ID, step.StepNumber, models.StepOutcomeFired, &message.ID, "")
}

func (sw *SequenceWorker) complete(run *models.SequenceRun, now time.Time) error {
	return sw.transition(run, map[string]interface{}{
		"status":       models.RunStatusCompleted,
		"completed_at": now,
		"next_due_at":  nil,
	})
}

// transition applies updates guarded by the run's version. Zero rows
// affected means another worker got there first.
func (sw *SequenceWorker) transition(run *models.SequenceRun, updates map[string]interface{}) error {
	updates["version"] = run.Version + 1

	res := sw.DB.Model(&models.SequenceRun{}).
		Where("id = ? AND version = ?", run.ID, run.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrConcurrentUpdate
	}
	run.Version++
	return nil
}

func (sw *SequenceWorker) recordStep(runID uint, stepNumber int, outcome string, messageID *uint, detail string) error {
	record := models.SequenceRunStep{
		RunID:       runID,
		StepNumber:  stepNumber,
		Outcome:     outcome,
		MessageID:   messageID,
		ProcessedAt: sw.Now(),
		Detail:      detail,
	}
	return sw.DB.Create(&record).Error
}
