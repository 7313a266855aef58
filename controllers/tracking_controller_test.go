package controller

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/models"
	"leadflow/utils"
)

func seedTrackedMessage(t *testing.T, env *testEnv) models.Message {
	t.Helper()

	lead := models.Lead{Email: "sato@example.com", Status: models.LeadStatusNew}
	require.NoError(t, env.db.Create(&lead).Error)

	message := models.Message{
		LeadID:       lead.ID,
		Channel:      models.ChannelEmail,
		BodyRendered: "<p>hi</p>",
		Status:       models.MessageStatusSent,
		TrackToken:   utils.NewTrackToken(),
		SentAt:       utils.Pointer(time.Now()),
	}
	require.NoError(t, env.db.Create(&message).Error)
	return message
}

func TestOpenPixelRecordsEvent(t *testing.T) {
	env := newTestEnv(t)
	message := seedTrackedMessage(t, env)

	resp := env.request(t, http.MethodGet, "/t/o?m="+message.TrackToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "gif")

	var events []models.MessageEvent
	require.NoError(t, env.db.Where("message_id = ?", message.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOpen, events[0].Type)
}

func TestOpenPixelSurvivesUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/t/o?m=does-not-exist", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "gif")
}

func TestClickRecordsAndRedirects(t *testing.T) {
	env := newTestEnv(t)
	message := seedTrackedMessage(t, env)

	destination := "https://example.com/pricing"
	resp := env.request(t, http.MethodGet,
		"/t/c?m="+message.TrackToken+"&u="+url.QueryEscape(destination), nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, destination, resp.Header.Get("Location"))

	var events []models.MessageEvent
	require.NoError(t, env.db.Where("message_id = ?", message.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventClick, events[0].Type)
	assert.Contains(t, events[0].Meta, destination)
}

func TestClickUnknownTokenStillRedirects(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet,
		"/t/c?m=bogus&u="+url.QueryEscape("https://example.com"), nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Location"))
}

func TestUnsubscribeFlagsLead(t *testing.T) {
	env := newTestEnv(t)
	message := seedTrackedMessage(t, env)

	resp := env.request(t, http.MethodGet, "/t/u?m="+message.TrackToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lead models.Lead
	require.NoError(t, env.db.First(&lead, message.LeadID).Error)
	assert.True(t, lead.IsUnsubscribed)

	var activity models.LeadActivity
	require.NoError(t, env.db.Where("lead_id = ? AND activity_type = ?",
		lead.ID, models.ActivityUnsubscribed).First(&activity).Error)
}
