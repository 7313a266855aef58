package controller

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func TestCreateLead(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/leads/", fiber.Map{
		"email":     "Sato@Example.com",
		"name":      "Sato",
		"company":   "Acme",
		"headcount": 50,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Lead
	decodeData(t, resp, &created)
	assert.Equal(t, "sato@example.com", created.Email) // normalized
	assert.Equal(t, models.LeadStatusNew, created.Status)
}

func TestCreateLeadRequiresEmail(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/leads/", fiber.Map{
		"name": "No Email",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateLeadStatusRecordsTimeline(t *testing.T) {
	env := newTestEnv(t)

	lead := models.Lead{Email: "sato@example.com", Status: models.LeadStatusNew}
	require.NoError(t, env.db.Create(&lead).Error)

	resp := env.request(t, http.MethodPut, "/api/v1/leads/1", fiber.Map{
		"status": models.LeadStatusQuoted,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var activities []models.LeadActivity
	require.NoError(t, env.db.Where("lead_id = ? AND activity_type = ?",
		lead.ID, models.ActivityStatusChange).Find(&activities).Error)
	require.Len(t, activities, 1)
	assert.Contains(t, activities[0].Details, models.LeadStatusQuoted)
}

func TestUpdateLeadRejectsInvalidStatus(t *testing.T) {
	env := newTestEnv(t)

	lead := models.Lead{Email: "sato@example.com", Status: models.LeadStatusNew}
	require.NoError(t, env.db.Create(&lead).Error)

	resp := env.request(t, http.MethodPut, "/api/v1/leads/1", fiber.Map{
		"status": "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetLeadScoreEndpoint(t *testing.T) {
	env := newTestEnv(t)

	lead := models.Lead{Email: "sato@example.com", Status: models.LeadStatusQuoted, Headcount: 120}
	require.NoError(t, env.db.Create(&lead).Error)

	resp := env.request(t, http.MethodGet, "/api/v1/leads/1/score", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		LeadID uint `json:"lead_id"`
		Score  int  `json:"score"`
	}
	decodeData(t, resp, &result)
	assert.Equal(t, lead.ID, result.LeadID)
	// quoted (30) + headcount >= 100 (20), no messages or events yet
	assert.Equal(t, 50, result.Score)
}

func TestGetLeadsPaginationAndFilter(t *testing.T) {
	env := newTestEnv(t)

	for _, lead := range []models.Lead{
		{Email: "a@example.com", Status: models.LeadStatusNew},
		{Email: "b@example.com", Status: models.LeadStatusWon},
		{Email: "c@example.com", Status: models.LeadStatusWon},
	} {
		require.NoError(t, env.db.Create(&lead).Error)
	}

	resp := env.request(t, http.MethodGet, "/api/v1/leads/?status=won", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Data  []models.Lead `json:"data"`
		Total int64         `json:"total"`
	}
	require.NoError(t, jsonDecode(resp, &page))
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Data, 2)
}

func TestGetLeadsNonPositiveLimitFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		require.NoError(t, env.db.Create(&models.Lead{Email: email, Status: models.LeadStatusNew}).Error)
	}

	for _, path := range []string{
		"/api/v1/leads/?limit=0",
		"/api/v1/leads/?limit=-5",
		"/api/v1/leads/?limit=abc",
	} {
		resp := env.request(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var page struct {
			Data  []models.Lead `json:"data"`
			Limit int           `json:"limit"`
		}
		require.NoError(t, jsonDecode(resp, &page))
		assert.Equal(t, 20, page.Limit)
		assert.Len(t, page.Data, 3)
	}
}

func TestGetLeadNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/api/v1/leads/42", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
