package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/models"
	"leadflow/utils"
	"leadflow/worker"
)

type stubSender struct {
	calls int
	err   error
}

func (s *stubSender) Send(_ context.Context, _ utils.OutboundMessage) error {
	s.calls++
	return s.err
}

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	engine *worker.SequenceWorker
	email  *stubSender
	sms    *stubSender
}

// newTestEnv wires the full HTTP surface against an in-memory database
// and stub transports, without config or rate-limit middleware.
func newTestEnv(t *testing.T) *testEnv {
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

	email := &stubSender{}
	sms := &stubSender{}
	dispatcher := utils.NewDispatcher(db, email, sms, "https://crm.example.com", 5*time.Second)
	tracker := utils.NewTracker(db)
	quiet := log.New(io.Discard, "", 0)
	engine := worker.NewSequenceWorker(db, dispatcher, tracker, quiet, time.Second)

	app := fiber.New()

	leadCtrl := NewLeadController(db, quiet)
	templateCtrl := NewTemplateController(db, quiet)
	sequenceCtrl := NewSequenceController(db, engine, quiet)
	messageCtrl := NewMessageController(db, dispatcher, quiet)
	trackingCtrl := NewTrackingController(db, tracker, quiet)

	app.Get("/t/o", trackingCtrl.HandleOpen)
	app.Get("/t/c", trackingCtrl.HandleClick)
	app.Get("/t/u", trackingCtrl.HandleUnsubscribe)

	api := app.Group("/api/v1")

	lead := api.Group("/leads")
	lead.Post("/", leadCtrl.CreateLead)
	lead.Get("/", leadCtrl.GetLeads)
	lead.Get("/:id", leadCtrl.GetLead)
	lead.Put("/:id", leadCtrl.UpdateLead)
	lead.Delete("/:id", leadCtrl.DeleteLead)
	lead.Get("/:id/score", leadCtrl.GetLeadScore)
	lead.Get("/:id/timeline", leadCtrl.GetLeadTimeline)

	template := api.Group("/templates")
	template.Post("/", templateCtrl.CreateTemplate)
	template.Get("/", templateCtrl.GetTemplates)
	template.Get("/:id", templateCtrl.GetTemplate)
	template.Put("/:id", templateCtrl.UpdateTemplate)
	template.Delete("/:id", templateCtrl.DeleteTemplate)
	template.Post("/:id/preview", templateCtrl.PreviewTemplate)

	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceCtrl.CreateSequence)
	sequence.Post("/run", sequenceCtrl.RunSequence)
	sequence.Get("/", sequenceCtrl.GetSequences)
	sequence.Get("/:id", sequenceCtrl.GetSequence)
	sequence.Put("/:id", sequenceCtrl.UpdateSequence)
	sequence.Delete("/:id", sequenceCtrl.DeleteSequence)
	sequence.Get("/:id/runs", sequenceCtrl.GetSequenceRuns)

	run := api.Group("/runs")
	run.Post("/:id/cancel", sequenceCtrl.CancelRun)

	message := api.Group("/messages")
	message.Post("/send-email", messageCtrl.SendEmail)
	message.Post("/send-sms", messageCtrl.SendSMS)
	message.Get("/lead/:leadId", messageCtrl.GetLeadMessages)
	message.Get("/:id", messageCtrl.GetMessage)

	return &testEnv{app: app, db: db, engine: engine, email: email, sms: sms}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

// jsonDecode decodes a raw response body, for endpoints that do not use
// the success envelope (pagination).
func jsonDecode(resp *http.Response, out interface{}) error {
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeData(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
}
