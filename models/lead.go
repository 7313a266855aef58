package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead statuses. Transitions are free-form: the admin UI may move a lead
// between any two statuses, but every transition is logged as a timeline
// activity.
const (
	LeadStatusNew        = "new"
	LeadStatusInProgress = "in_progress"
	LeadStatusQuoted     = "quoted"
	LeadStatusWon        = "won"
	LeadStatusLost       = "lost"
	LeadStatusOnHold     = "on_hold"
)

// ValidLeadStatus reports whether s is one of the known lead statuses.
func ValidLeadStatus(s string) bool {
	switch s {
	case LeadStatusNew, LeadStatusInProgress, LeadStatusQuoted,
		LeadStatusWon, LeadStatusLost, LeadStatusOnHold:
		return true
	}
	return false
}

// Lead represents a single prospective-customer record
type Lead struct {
	gorm.Model

	Email   string `gorm:"not null;index" json:"email"`
	Phone   string `json:"phone"`
	Name    string `json:"name"`
	Company string `json:"company"`

	// Qualification
	Headcount int    `gorm:"default:0" json:"headcount"`
	Theme     string `json:"theme"`

	Status string `gorm:"default:'new';index" json:"status"`
	Memo   string `gorm:"type:text" json:"memo"`

	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`

	// Relations
	Activities []LeadActivity `gorm:"foreignKey:LeadID" json:"activities,omitempty"`
	Messages   []Message      `gorm:"foreignKey:LeadID" json:"messages,omitempty"`
}

// LeadActivity is the append-only timeline for a lead: status changes,
// sequence enrollments, sends.
type LeadActivity struct {
	gorm.Model
	LeadID uint `gorm:"not null;index" json:"lead_id"`

	ActivityType string    `gorm:"not null" json:"activity_type"` // status_change, enrolled, message_sent, unsubscribed
	ActivityAt   time.Time `gorm:"not null" json:"activity_at"`
	Details      string    `gorm:"type:text" json:"details"`

	// Relations
	Lead Lead `json:"-"`
}

// Activity types recorded on the lead timeline.
const (
	ActivityStatusChange = "status_change"
	ActivityEnrolled     = "enrolled"
	ActivityMessageSent  = "message_sent"
	ActivityUnsubscribed = "unsubscribed"
)
