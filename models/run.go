package models

import (
	"time"

	"gorm.io/gorm"
)

// Run statuses.
const (
	RunStatusActive    = "active"
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
)

// Step outcomes recorded in the run history.
const (
	StepOutcomeFired   = "fired"
	StepOutcomeSkipped = "skipped"
	StepOutcomeFailed  = "failed"
)

// SequenceRun is one execution instance of a sequence against one lead.
// The worker advances CurrentStep as due times elapse; Version implements
// the optimistic lock that prevents two tick workers from double-firing
// the same step.
type SequenceRun struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	LeadID     uint `gorm:"not null;index" json:"lead_id"`

	Status      string     `gorm:"default:'active';index" json:"status"`
	CurrentStep int        `gorm:"default:0" json:"current_step"`
	NextDueAt   *time.Time `gorm:"index" json:"next_due_at"`
	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Optimistic concurrency token, bumped on every state transition.
	Version int `gorm:"default:0" json:"version"`

	// Relations
	Sequence Sequence          `json:"-"`
	Lead     Lead              `json:"-"`
	Steps    []SequenceRunStep `gorm:"foreignKey:RunID" json:"step_history,omitempty"`
}

// SequenceRunStep records the outcome of one processed step of a run.
type SequenceRunStep struct {
	gorm.Model
	RunID      uint `gorm:"not null;index" json:"run_id"`
	StepNumber int  `gorm:"not null" json:"step_number"`

	Outcome     string    `gorm:"not null" json:"outcome"` // fired, skipped, failed
	MessageID   *uint     `json:"message_id,omitempty"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
	Detail      string    `json:"detail,omitempty"`
}
