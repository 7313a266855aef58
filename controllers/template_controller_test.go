package controller

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func TestCreateTemplate(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/templates/", fiber.Map{
		"channel": "email",
		"name":    "intro",
		"subject": "Hello {{name}}",
		"body":    "<p>Hi {{name|there}}</p>",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Template
	decodeData(t, resp, &created)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "intro", created.Name)
}

func TestCreateTemplateRejectsUnknownChannel(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/templates/", fiber.Map{
		"channel": "carrier-pigeon",
		"name":    "intro",
		"body":    "hi",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreviewTemplate(t *testing.T) {
	env := newTestEnv(t)

	tmpl := models.Template{Channel: models.ChannelEmail, Name: "intro",
		Subject: "Hello {{name}}", Body: "<p>{{company|your company}}</p>"}
	require.NoError(t, env.db.Create(&tmpl).Error)

	resp := env.request(t, http.MethodPost, "/api/v1/templates/1/preview", fiber.Map{
		"vars": fiber.Map{"name": "Sato"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var preview struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	decodeData(t, resp, &preview)
	assert.Equal(t, "Hello Sato", preview.Subject)
	assert.Equal(t, "<p>your company</p>", preview.Body)
}

func TestDeleteTemplateProtectedByReferences(t *testing.T) {
	env := newTestEnv(t)

	tmpl := models.Template{Channel: models.ChannelEmail, Name: "intro", Body: "hi"}
	require.NoError(t, env.db.Create(&tmpl).Error)
	seq := models.Sequence{Name: "flow", Steps: []models.SequenceStep{
		{StepNumber: 0, Channel: models.ChannelEmail, TemplateID: tmpl.ID},
	}}
	require.NoError(t, env.db.Create(&seq).Error)

	resp := env.request(t, http.MethodDelete, "/api/v1/templates/1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unreferenced templates delete cleanly.
	free := models.Template{Channel: models.ChannelSMS, Name: "spare", Body: "yo"}
	require.NoError(t, env.db.Create(&free).Error)
	resp = env.request(t, http.MethodDelete, "/api/v1/templates/2", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetTemplatesFiltersByChannel(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.db.Create(&models.Template{Channel: models.ChannelEmail, Name: "a", Body: "x"}).Error)
	require.NoError(t, env.db.Create(&models.Template{Channel: models.ChannelSMS, Name: "b", Body: "y"}).Error)

	resp := env.request(t, http.MethodGet, "/api/v1/templates/?channel=sms", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var templates []models.Template
	decodeData(t, resp, &templates)
	require.Len(t, templates, 1)
	assert.Equal(t, "b", templates[0].Name)
}
