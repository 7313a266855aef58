package worker

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/models"
	"leadflow/utils"
)

type fakeSender struct {
	calls int
	err   error
}

func (f *fakeSender) Send(_ context.Context, _ utils.OutboundMessage) error {
	f.calls++
	return f.err
}

type engineFixture struct {
	db     *gorm.DB
	worker *SequenceWorker
	email  *fakeSender
	sms    *fakeSender
	now    time.Time
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Lead{},
		&models.LeadActivity{},
		&models.Template{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceRun{},
		&models.SequenceRunStep{},
		&models.Message{},
		&models.MessageEvent{},
	))

	email := &fakeSender{}
	sms := &fakeSender{}
	dispatcher := utils.NewDispatcher(db, email, sms, "https://crm.example.com", 5*time.Second)
	tracker := utils.NewTracker(db)

	fx := &engineFixture{
		db:    db,
		email: email,
		sms:   sms,
		now:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	fx.worker = NewSequenceWorker(db, dispatcher, tracker,
		log.New(os.Stdout, "TEST: ", log.LstdFlags), time.Second)
	fx.worker.Now = func() time.Time { return fx.now }
	return fx
}

func (fx *engineFixture) advance(d time.Duration) {
	fx.now = fx.now.Add(d)
}

// seedTwoStepSequence builds the canonical scenario: an immediate email
// followed by a 24h follow-up that only fires when the first message was
// not opened.
func (fx *engineFixture) seedTwoStepSequence(t *testing.T) (models.Lead, models.Sequence) {
	t.Helper()

	lead := models.Lead{Email: "sato@example.com", Name: "Sato", Status: models.LeadStatusNew}
	require.NoError(t, fx.db.Create(&lead).Error)

	t1 := models.Template{Channel: models.ChannelEmail, Name: "intro", Subject: "Hi", Body: "<p>Hi {{name}}</p>"}
	t2 := models.Template{Channel: models.ChannelEmail, Name: "follow-up", Subject: "Ping", Body: "<p>Still there?</p>"}
	require.NoError(t, fx.db.Create(&t1).Error)
	require.NoError(t, fx.db.Create(&t2).Error)

	seq := models.Sequence{
		Name: "intro-flow",
		Steps: []models.SequenceStep{
			{StepNumber: 0, DelayHours: 0, Channel: models.ChannelEmail, TemplateID: t1.ID},
			{StepNumber: 1, DelayHours: 24, Channel: models.ChannelEmail, TemplateID: t2.ID,
				Conditions: &models.StepConditions{IfNotOpened: true}},
		},
	}
	require.NoError(t, fx.db.Create(&seq).Error)
	return lead, seq
}

func (fx *engineFixture) messages(t *testing.T) []models.Message {
	t.Helper()
	var messages []models.Message
	require.NoError(t, fx.db.Order("id asc").Find(&messages).Error)
	return messages
}

func (fx *engineFixture) reloadRun(t *testing.T, id uint) models.SequenceRun {
	t.Helper()
	var run models.SequenceRun
	require.NoError(t, fx.db.First(&run, id).Error)
	return run
}

func TestStartRunFiresStepZeroImmediately(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	assert.Equal(t, 1, fx.email.calls)
	assert.Equal(t, models.RunStatusActive, run.Status)
	assert.Equal(t, 1, run.CurrentStep)
	require.NotNil(t, run.NextDueAt)
	assert.WithinDuration(t, fx.now.Add(24*time.Hour), *run.NextDueAt, time.Second)

	messages := fx.messages(t)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageStatusSent, messages[0].Status)
	require.NotNil(t, messages[0].StepNumber)
	assert.Equal(t, 0, *messages[0].StepNumber)
}

func TestFollowUpFiresWhenNotOpened(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	// Not due yet: nothing happens at +1h.
	fx.advance(time.Hour)
	fx.worker.processDueRuns()
	assert.Equal(t, 1, fx.email.calls)

	fx.advance(23 * time.Hour)
	fx.worker.processDueRuns()

	assert.Equal(t, 2, fx.email.calls)
	reloaded := fx.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, reloaded.Status)
	assert.Nil(t, reloaded.NextDueAt)
	assert.Len(t, fx.messages(t), 2)
}

func TestFollowUpSkippedWhenOpened(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	first := fx.messages(t)[0]
	_, err = fx.worker.Tracker.RecordOpen(first.ID, utils.EventMeta{})
	require.NoError(t, err)

	fx.advance(24 * time.Hour)
	fx.worker.processDueRuns()

	// No second send; the run completes via a skip.
	assert.Equal(t, 1, fx.email.calls)
	reloaded := fx.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, reloaded.Status)

	var history []models.SequenceRunStep
	require.NoError(t, fx.db.Where("run_id = ?", run.ID).Order("step_number asc").Find(&history).Error)
	require.Len(t, history, 2)
	assert.Equal(t, models.StepOutcomeFired, history[0].Outcome)
	assert.Equal(t, models.StepOutcomeSkipped, history[1].Outcome)
}

func TestClickConditionSkips(t *testing.T) {
	fx := newFixture(t)
	lead, _ := fx.seedTwoStepSequence(t)

	t3 := models.Template{Channel: models.ChannelEmail, Name: "nudge", Body: "<p>nudge</p>"}
	require.NoError(t, fx.db.Create(&t3).Error)
	seq := models.Sequence{
		Name: "click-flow",
		Steps: []models.SequenceStep{
			{StepNumber: 0, Channel: models.ChannelEmail, TemplateID: t3.ID},
			{StepNumber: 1, DelayHours: 1, Channel: models.ChannelEmail, TemplateID: t3.ID,
				Conditions: &models.StepConditions{IfNotClicked: true}},
		},
	}
	require.NoError(t, fx.db.Create(&seq).Error)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	var first models.Message
	require.NoError(t, fx.db.Where("sequence_run_id = ?", run.ID).First(&first).Error)
	_, err = fx.worker.Tracker.RecordClick(first.ID, "https://example.com", utils.EventMeta{})
	require.NoError(t, err)

	sends := fx.email.calls
	fx.advance(time.Hour)
	fx.worker.processDueRuns()
	assert.Equal(t, sends, fx.email.calls)
}

func TestNoDoubleFireUnderConcurrentTicks(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	// Two workers read the same run state; only one wins the version CAS.
	stale := fx.reloadRun(t, run.ID)
	current := fx.reloadRun(t, run.ID)

	require.NoError(t, fx.worker.transition(&current, map[string]interface{}{
		"current_step": current.CurrentStep + 1,
	}))
	err = fx.worker.transition(&stale, map[string]interface{}{
		"current_step": stale.CurrentStep + 1,
	})
	assert.ErrorIs(t, err, utils.ErrConcurrentUpdate)
}

func TestProcessRunIsNoOpWhenNotDue(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	// Reprocessing immediately must not advance or resend.
	require.NoError(t, fx.worker.ProcessRun(run.ID))
	require.NoError(t, fx.worker.ProcessRun(run.ID))
	assert.Equal(t, 1, fx.email.calls)
	assert.Equal(t, 1, fx.reloadRun(t, run.ID).CurrentStep)
}

func TestRunCancelledWhenLeadCloses(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	require.NoError(t, fx.db.Model(&models.Lead{}).
		Where("id = ?", lead.ID).Update("status", models.LeadStatusWon).Error)

	fx.advance(24 * time.Hour)
	fx.worker.processDueRuns()

	assert.Equal(t, 1, fx.email.calls)
	reloaded := fx.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCancelled, reloaded.Status)
}

func TestRunCancelledWhenLeadUnsubscribes(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	require.NoError(t, fx.db.Model(&models.Lead{}).
		Where("id = ?", lead.ID).Update("is_unsubscribed", true).Error)

	fx.advance(24 * time.Hour)
	fx.worker.processDueRuns()

	assert.Equal(t, models.RunStatusCancelled, fx.reloadRun(t, run.ID).Status)
}

func TestFailedSendStillAdvances(t *testing.T) {
	fx := newFixture(t)

	// SMS step against a lead with no phone: the dispatcher refuses, the
	// run must advance anyway.
	lead := models.Lead{Email: "sato@example.com", Phone: "", Status: models.LeadStatusNew}
	require.NoError(t, fx.db.Create(&lead).Error)

	smsTmpl := models.Template{Channel: models.ChannelSMS, Name: "sms", Body: "hi"}
	emailTmpl := models.Template{Channel: models.ChannelEmail, Name: "mail", Body: "<p>hi</p>"}
	require.NoError(t, fx.db.Create(&smsTmpl).Error)
	require.NoError(t, fx.db.Create(&emailTmpl).Error)

	seq := models.Sequence{
		Name: "mixed",
		Steps: []models.SequenceStep{
			{StepNumber: 0, Channel: models.ChannelSMS, TemplateID: smsTmpl.ID},
			{StepNumber: 1, DelayHours: 1, Channel: models.ChannelEmail, TemplateID: emailTmpl.ID},
		},
	}
	require.NoError(t, fx.db.Create(&seq).Error)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, fx.sms.calls)
	assert.Equal(t, 1, run.CurrentStep)

	fx.advance(time.Hour)
	fx.worker.processDueRuns()

	assert.Equal(t, 1, fx.email.calls)
	reloaded := fx.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, reloaded.Status)

	var history []models.SequenceRunStep
	require.NoError(t, fx.db.Where("run_id = ?", run.ID).Order("step_number asc").Find(&history).Error)
	require.Len(t, history, 2)
	assert.Equal(t, models.StepOutcomeFailed, history[0].Outcome)
	assert.Equal(t, models.StepOutcomeFired, history[1].Outcome)
}

func TestStartRunIdempotentPerPair(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	_, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	_, err = fx.worker.StartRun(lead.ID, seq.ID, false)
	assert.ErrorIs(t, err, ErrActiveRunExists)

	// Force allows a concurrent second run for the same pair.
	_, err = fx.worker.StartRun(lead.ID, seq.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, fx.email.calls)
}

func TestStartRunUnknownLeadOrSequence(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	_, err := fx.worker.StartRun(999, seq.ID, false)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = fx.worker.StartRun(lead.ID, 999, false)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestCancelRun(t *testing.T) {
	fx := newFixture(t)
	lead, seq := fx.seedTwoStepSequence(t)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	require.NoError(t, fx.worker.CancelRun(run.ID))
	assert.Equal(t, models.RunStatusCancelled, fx.reloadRun(t, run.ID).Status)

	// Cancelled runs are never reprocessed.
	fx.advance(48 * time.Hour)
	fx.worker.processDueRuns()
	assert.Equal(t, 1, fx.email.calls)
}

func TestABStepAssignsStableVariant(t *testing.T) {
	fx := newFixture(t)

	lead := models.Lead{Email: "sato@example.com", Status: models.LeadStatusNew}
	require.NoError(t, fx.db.Create(&lead).Error)

	ta := models.Template{Channel: models.ChannelEmail, Name: "subject-a", Body: "<p>A</p>"}
	tb := models.Template{Channel: models.ChannelEmail, Name: "subject-b", Body: "<p>B</p>"}
	require.NoError(t, fx.db.Create(&ta).Error)
	require.NoError(t, fx.db.Create(&tb).Error)

	seq := models.Sequence{
		Name: "ab-flow",
		Steps: []models.SequenceStep{
			{StepNumber: 0, Channel: models.ChannelEmail, TemplateID: ta.ID,
				ABKey: "subject-test", VariantTemplateIDs: []uint{ta.ID, tb.ID}},
		},
	}
	require.NoError(t, fx.db.Create(&seq).Error)

	run, err := fx.worker.StartRun(lead.ID, seq.ID, false)
	require.NoError(t, err)

	var msg models.Message
	require.NoError(t, fx.db.Where("sequence_run_id = ?", run.ID).First(&msg).Error)
	assert.Equal(t, "subject-test", msg.ABKey)
	assert.Contains(t, []string{"A", "B"}, msg.Variant)

	expected := utils.AssignVariant(lead.ID, "subject-test", []string{"A", "B"})
	assert.Equal(t, expected, msg.Variant)
}
