package utils

import "leadflow/models"

// Score weights. Engagement points saturate so arbitrarily long histories
// cannot overflow the scale; the final score is clamped to [0, 100].
const (
	scoreOpenPoints  = 2
	scoreClickPoints = 5
	scoreOpenCap     = 20
	scoreClickCap    = 30
	scoreMax         = 100
)

var statusPoints = map[string]int{
	models.LeadStatusNew:        5,
	models.LeadStatusInProgress: 15,
	models.LeadStatusQuoted:     30,
	models.LeadStatusWon:        40,
	models.LeadStatusLost:       0,
	models.LeadStatusOnHold:     5,
}

// Score derives a lead's score from its attributes plus its message and
// event history. Pure function of its inputs; more opens or clicks never
// lower the result.
func Score(lead *models.Lead, messages []models.Message, events []models.MessageEvent) int {
	score := statusPoints[lead.Status]
	score += headcountPoints(lead.Headcount)

	delivered := 0
	for _, m := range messages {
		if m.Status == models.MessageStatusSent || m.Status == models.MessageStatusDelivered {
			delivered++
		}
	}
	// A contactable lead with outreach under way is worth a little on its own.
	if delivered > 0 {
		score += 5
	}

	opens, clicks := 0, 0
	for _, e := range events {
		switch e.Type {
		case models.EventOpen:
			opens++
		case models.EventClick:
			clicks++
		}
	}
	score += saturate(opens*scoreOpenPoints, scoreOpenCap)
	score += saturate(clicks*scoreClickPoints, scoreClickCap)

	if score > scoreMax {
		score = scoreMax
	}
	if score < 0 {
		score = 0
	}
	return score
}

func headcountPoints(headcount int) int {
	switch {
	case headcount >= 100:
		return 20
	case headcount >= 50:
		return 15
	case headcount >= 20:
		return 10
	case headcount >= 5:
		return 5
	default:
		return 0
	}
}

func saturate(points, limit int) int {
	if points > limit {
		return limit
	}
	return points
}
