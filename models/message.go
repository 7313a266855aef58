package models

import (
	"time"

	"gorm.io/gorm"
)

// Message statuses. Delivery callbacks from the provider may later move a
// sent message to delivered or bounced.
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusFailed    = "failed"
	MessageStatusBounced   = "bounced"
)

// Message is one outbound email or SMS. BodyRendered is the fully
// substituted snapshot captured at send time and is never recomputed from
// the template.
type Message struct {
	gorm.Model
	LeadID     uint  `gorm:"not null;index" json:"lead_id"`
	TemplateID *uint `gorm:"index" json:"template_id,omitempty"`

	Channel      string `gorm:"not null" json:"channel"`
	Subject      string `json:"subject,omitempty"`
	BodyRendered string `gorm:"type:text" json:"body_rendered"`

	Status string     `gorm:"default:'pending';index" json:"status"`
	Error  string     `json:"error,omitempty"`
	SentAt *time.Time `json:"sent_at,omitempty"`

	// Token embedded in tracking pixel and click-redirect URLs.
	TrackToken string `gorm:"uniqueIndex" json:"track_token"`

	// A/B attribution
	ABKey   string `gorm:"index" json:"ab_key,omitempty"`
	Variant string `json:"variant,omitempty"`

	// Set when the message was sent by a sequence run.
	SequenceRunID *uint `gorm:"index" json:"sequence_run_id,omitempty"`
	StepNumber    *int  `json:"step_number,omitempty"`

	// Relations
	Lead   Lead           `json:"-"`
	Events []MessageEvent `gorm:"foreignKey:MessageID" json:"events,omitempty"`
}

// Engagement event types.
const (
	EventOpen  = "open"
	EventClick = "click"
)

// MessageEvent is a single engagement event (open or click) recorded
// against a sent message. Rows are append-only: repeat opens create
// additional rows rather than mutating the first.
type MessageEvent struct {
	gorm.Model
	MessageID uint `gorm:"not null;index" json:"message_id"`

	Type string    `gorm:"not null;index" json:"type"` // open, click
	TS   time.Time `gorm:"not null" json:"ts"`
	Meta string    `gorm:"type:text" json:"meta,omitempty"` // JSON: url, ip, user agent

	// Relations
	Message Message `json:"-"`
}
